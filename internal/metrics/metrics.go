// Package metrics exposes controller metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/narvanalabs/tower-controller/internal/models"
)

const namespace = "towerctl"

// Collector holds the controller metrics.
type Collector struct {
	framesReceived  *prometheus.CounterVec
	framesMalformed prometheus.Counter
	framesRejected  prometheus.Counter
	pumpCommands    *prometheus.CounterVec
	sendAttempts    prometheus.Histogram
	sendLatency     prometheus.Histogram
	towerLevel      *prometheus.GaugeVec
	towerOnline     *prometheus.GaugeVec
	towerPump       *prometheus.GaugeVec
	towersOnline    prometheus.Gauge
	wellWaterOK     prometheus.Gauge
	autoMode        prometheus.Gauge
	degraded        prometheus.Gauge
	loopDuration    prometheus.Histogram
	snapshots       prometheus.Counter

	registry *prometheus.Registry
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// uses a fresh private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Valid frames received from towers, by command.",
		}, []string{"command"}),
		framesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		framesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Valid frames from towers that could not be registered.",
		}),
		pumpCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_commands_total",
			Help:      "Pump commands sent, by action and result.",
		}, []string{"action", "result"}),
		sendAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pump_command_attempts",
			Help:      "Transport attempts needed per pump command.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pump_command_duration_seconds",
			Help:      "Time to deliver a pump command, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		towerLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tower_level_percent",
			Help:      "Last reported water level.",
		}, []string{"tower"}),
		towerOnline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tower_online",
			Help:      "1 if the tower sent a heartbeat within the timeout.",
		}, []string{"tower"}),
		towerPump: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tower_pump_on",
			Help:      "1 if the controller believes the tower pump is running.",
		}, []string{"tower"}),
		towersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "towers_online",
			Help:      "Number of online towers.",
		}),
		wellWaterOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "well_water_ok",
			Help:      "1 if the well can supply water.",
		}),
		autoMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auto_mode",
			Help:      "1 in automatic mode, 0 in manual mode.",
		}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded",
			Help:      "1 if the radio failed to initialize.",
		}),
		loopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iteration_seconds",
			Help:      "Duration of one control loop iteration.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_snapshots_total",
			Help:      "History snapshots taken.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		c.framesReceived, c.framesMalformed, c.framesRejected,
		c.pumpCommands, c.sendAttempts, c.sendLatency,
		c.towerLevel, c.towerOnline, c.towerPump, c.towersOnline,
		c.wellWaterOK, c.autoMode, c.degraded,
		c.loopDuration, c.snapshots,
	)
	return c
}

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// TrackUplinkDrops exports the transport's count of discarded uplink frames.
// It fails when a drop counter is already registered.
func (c *Collector) TrackUplinkDrops(dropped func() uint64) error {
	return c.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uplink_dropped_total",
		Help:      "Uplink frames discarded because the controller fell behind.",
	}, func() float64 {
		return float64(dropped())
	}))
}

// FrameReceived counts a decoded frame.
func (c *Collector) FrameReceived(command string) {
	c.framesReceived.WithLabelValues(command).Inc()
}

// FrameMalformed counts a frame that failed to decode.
func (c *Collector) FrameMalformed() {
	c.framesMalformed.Inc()
}

// FrameRejected counts a frame dropped because the registry was full.
func (c *Collector) FrameRejected() {
	c.framesRejected.Inc()
}

// PumpCommand records one pump command outcome.
func (c *Collector) PumpCommand(on bool, attempts int, seconds float64, err error) {
	action, result := "off", "ok"
	if on {
		action = "on"
	}
	if err != nil {
		result = "error"
	}
	c.pumpCommands.WithLabelValues(action, result).Inc()
	c.sendAttempts.Observe(float64(attempts))
	c.sendLatency.Observe(seconds)
}

// LoopIteration records how long one loop pass took.
func (c *Collector) LoopIteration(seconds float64) {
	c.loopDuration.Observe(seconds)
}

// Snapshot counts a history snapshot.
func (c *Collector) Snapshot() {
	c.snapshots.Inc()
}

// Observe refreshes the state gauges from a status snapshot.
func (c *Collector) Observe(st models.SystemStatus) {
	for _, t := range st.Towers {
		label := strconv.Itoa(int(t.ID))
		c.towerLevel.WithLabelValues(label).Set(float64(t.Level))
		c.towerOnline.WithLabelValues(label).Set(boolFloat(t.Online))
		c.towerPump.WithLabelValues(label).Set(boolFloat(t.PumpOn))
	}
	c.towersOnline.Set(float64(st.OnlineTowers))
	c.wellWaterOK.Set(boolFloat(st.WellWaterOK))
	c.autoMode.Set(boolFloat(st.Mode == models.ModeAuto))
	c.degraded.Set(boolFloat(st.Degraded))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
