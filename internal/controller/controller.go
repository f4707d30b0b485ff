// Package controller runs the single cooperative loop that owns all tower state.
package controller

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/narvanalabs/tower-controller/internal/clock"
	"github.com/narvanalabs/tower-controller/internal/control"
	"github.com/narvanalabs/tower-controller/internal/dispatch"
	"github.com/narvanalabs/tower-controller/internal/events"
	"github.com/narvanalabs/tower-controller/internal/history"
	"github.com/narvanalabs/tower-controller/internal/liveness"
	"github.com/narvanalabs/tower-controller/internal/metrics"
	"github.com/narvanalabs/tower-controller/internal/models"
	"github.com/narvanalabs/tower-controller/internal/registry"
	"github.com/narvanalabs/tower-controller/internal/retry"
	"github.com/narvanalabs/tower-controller/internal/transport"
	"github.com/narvanalabs/tower-controller/internal/well"
)

// Health service names reported to the HealthReporter.
const (
	HealthService   = ""
	HealthRadio     = "towerctl.radio"
	HealthWellWater = "towerctl.wellwater"
)

// ErrStalled is returned by Ping when the loop has not completed an iteration recently.
var ErrStalled = errors.New("control loop stalled")

// Config holds loop timing and sizing.
type Config struct {
	LoopInterval    time.Duration
	AutoInterval    time.Duration
	OfflineTimeout  time.Duration
	HistorySchedule string
	RequestBuffer   int
	RequestsPerPass int
	StallAfter      time.Duration
	// SendBudget bounds all radio sends and requests served in one pass.
	// Zero means half of StallAfter.
	SendBudget      time.Duration
	SendTimeout     time.Duration
	Retry           *retry.RetryStrategy
	Thresholds      control.Thresholds
	Registry        registry.Config
	InitialMode     models.Mode
	AnnounceMode    bool
}

// DefaultConfig returns the standard controller timings.
func DefaultConfig() Config {
	return Config{
		LoopInterval:    50 * time.Millisecond,
		AutoInterval:    control.DefaultInterval,
		OfflineTimeout:  liveness.DefaultTimeout,
		HistorySchedule: "@every 1h",
		RequestBuffer:   32,
		RequestsPerPass: 8,
		StallAfter:      5 * time.Second,
		SendTimeout:     transport.DefaultSendTimeout,
		Retry:           retry.DefaultRetryStrategy(),
		Thresholds:      control.DefaultThresholds(),
		Registry:        registry.DefaultConfig(),
		InitialMode:     models.ModeAuto,
	}
}

// Archiver accepts snapshot batches for long-term storage.
type Archiver interface {
	Submit(records []history.Record) bool
}

// HealthReporter receives serving state changes.
type HealthReporter interface {
	SetServing(service string, serving bool)
}

// Options wires the controller to its collaborators. Only Transport is required.
type Options struct {
	Config    Config
	Transport transport.Transport
	Well      well.Config
	// WellSource overrides Well when set.
	WellSource well.Source
	Clock      clock.Clock
	Broker     *events.Broker
	Metrics    *metrics.Collector
	Archive    Archiver
	Health     HealthReporter
	Logger     *slog.Logger
}

// Controller owns the registry, system state and dispatcher. Everything that
// touches them runs on the loop goroutine.
type Controller struct {
	cfg       Config
	transport transport.Transport
	well      well.Source
	clock     clock.Clock
	broker    *events.Broker
	metrics   *metrics.Collector
	archive   Archiver
	health    HealthReporter
	logger    *slog.Logger

	registry   *registry.Registry
	state      models.SystemState
	dispatcher *dispatch.Dispatcher
	engine     *control.Engine
	monitor    *liveness.Monitor
	schedule   cron.Schedule
	nextSnap   time.Time
	autoTicks  clock.Tick
	wellErr    bool

	requests chan request
	done     chan struct{}
	doneOnce sync.Once
	lastIter atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a controller. A transport.Faulted transport puts it in degraded mode.
func New(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("controller needs a transport")
	}
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = def.LoopInterval
	}
	if cfg.AutoInterval <= 0 {
		cfg.AutoInterval = def.AutoInterval
	}
	if cfg.OfflineTimeout <= 0 {
		cfg.OfflineTimeout = def.OfflineTimeout
	}
	if cfg.HistorySchedule == "" {
		cfg.HistorySchedule = def.HistorySchedule
	}
	if cfg.RequestBuffer <= 0 {
		cfg.RequestBuffer = def.RequestBuffer
	}
	if cfg.RequestsPerPass <= 0 {
		cfg.RequestsPerPass = def.RequestsPerPass
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = def.StallAfter
	}
	if cfg.SendBudget <= 0 {
		cfg.SendBudget = cfg.StallAfter / 2
	}
	if cfg.SendBudget >= cfg.StallAfter {
		return nil, fmt.Errorf("send budget %s must be below stall threshold %s", cfg.SendBudget, cfg.StallAfter)
	}
	if cfg.Registry.Alarms == (registry.AlarmLevels{}) {
		cfg.Registry.Alarms = registry.DefaultAlarmLevels()
	}
	if cfg.Thresholds == (control.Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.Thresholds.Start >= cfg.Thresholds.Stop {
		return nil, fmt.Errorf("start threshold %d must be below stop threshold %d", cfg.Thresholds.Start, cfg.Thresholds.Stop)
	}
	if !cfg.InitialMode.IsValid() {
		return nil, fmt.Errorf("invalid initial mode %d", int(cfg.InitialMode))
	}

	schedule, err := cron.ParseStandard(cfg.HistorySchedule)
	if err != nil {
		return nil, fmt.Errorf("parsing history schedule %q: %w", cfg.HistorySchedule, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}

	c := &Controller{
		cfg:       cfg,
		transport: opts.Transport,
		clock:     clk,
		broker:    opts.Broker,
		metrics:   opts.Metrics,
		archive:   opts.Archive,
		health:    opts.Health,
		logger:    logger,
		registry:  registry.New(cfg.Registry),
		schedule:  schedule,
		autoTicks: clock.FromDuration(cfg.AutoInterval),
		requests:  make(chan request, cfg.RequestBuffer),
		done:      make(chan struct{}),
	}
	c.state = models.SystemState{
		Mode:        cfg.InitialMode,
		WellWaterOK: false,
		LinkUp:      opts.Transport.Connected(),
	}

	if dc, ok := opts.Transport.(transport.DropCounter); ok && c.metrics != nil {
		if err := c.metrics.TrackUplinkDrops(dc.Dropped); err != nil {
			logger.Warn("uplink drop metric not registered", "error", err)
		}
	}

	if f, ok := opts.Transport.(*transport.Faulted); ok {
		c.state.Degraded = true
		logger.Error("radio unavailable, running without outbound control", "error", f.Cause())
	}

	c.well = opts.WellSource
	if c.well == nil {
		wcfg := opts.Well
		wcfg.Reports = c.wellReports
		c.well, err = well.New(wcfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating well source: %w", err)
		}
	}

	mgr := transport.NewPumpRetryManager(cfg.Retry, func(a retry.Attempt) {
		logger.Debug("pump command attempt failed", "attempt", a.Number, "backoff", a.Backoff, "error", a.Err)
	})
	sender := transport.NewSender(opts.Transport, cfg.SendTimeout, mgr, logger)
	c.dispatcher = dispatch.New(c.registry, &c.state, sender, logger, dispatch.WithPumpObserver(c.onPumpCommand))
	c.engine = control.NewEngine(cfg.Thresholds, c.dispatcher, logger)
	c.monitor = liveness.NewMonitor(cfg.OfflineTimeout, logger)

	return c, nil
}

// Run drives the loop until ctx is done. It must be called at most once.
func (c *Controller) Run(ctx context.Context) error {
	defer c.doneOnce.Do(func() { close(c.done) })

	c.prepare()
	c.logger.Info("control loop started",
		"mode", c.state.Mode.String(),
		"loop_interval", c.cfg.LoopInterval,
		"auto_interval", c.cfg.AutoInterval,
		"history_schedule", c.cfg.HistorySchedule,
		"next_snapshot", c.nextSnap,
		"degraded", c.state.Degraded,
	)

	ticker := time.NewTicker(c.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.stopping()
			return nil
		case <-ticker.C:
			c.iterate(ctx)
		}
	}
}

// Start runs the loop in a goroutine. Stop cancels it.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Run(ctx); err != nil {
			c.logger.Error("control loop exited", "error", err)
		}
	}()
}

// Stop cancels a loop started with Start and waits for it to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Done is closed when the loop exits.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// LastIteration returns when the loop last completed a pass.
func (c *Controller) LastIteration() time.Time {
	ns := c.lastIter.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Ping reports an error when the loop is not running or has stalled.
func (c *Controller) Ping(context.Context) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	last := c.LastIteration()
	if last.IsZero() {
		return fmt.Errorf("%w: no iteration completed yet", ErrStalled)
	}
	if age := time.Since(last); age > c.cfg.StallAfter {
		return fmt.Errorf("%w: last pass %s ago", ErrStalled, age.Round(time.Millisecond))
	}
	return nil
}

func (c *Controller) prepare() {
	c.nextSnap = c.schedule.Next(c.clock.Wall())
	c.state.LastAutoTick = c.clock.Now()
	c.state.LastHistoryTick = c.state.LastAutoTick
	c.reportHealth()
	if c.state.Degraded {
		c.publish(models.EventDegraded, 0, "radio hardware fault, outbound control disabled")
	}
}

// iterate runs one pass in the fixed order: inbound frame, liveness, well,
// auto control, history, pending requests.
func (c *Controller) iterate(ctx context.Context) {
	start := time.Now()
	now := c.clock.Now()

	passCtx, cancel := context.WithTimeout(ctx, c.cfg.SendBudget)
	defer cancel()

	if raw, ok := c.transport.TryReceive(); ok {
		c.handleFrame(raw, now)
	}

	for _, id := range liveness.Sweep(c.monitor, c.registry.All(), now) {
		c.publish(models.EventTowerOffline, id, "tower offline")
	}

	c.sampleWell()
	c.sampleLink()

	if clock.Since(now, c.state.LastAutoTick) >= c.autoTicks {
		c.state.LastAutoTick = now
		control.Tick(passCtx, c.engine, c.state.Mode, c.state.WellWaterOK, c.registry.All())
		if c.metrics != nil {
			c.metrics.Observe(c.dispatcher.Status(c.clock.Wall()))
		}
	}

	if wall := c.clock.Wall(); !wall.Before(c.nextSnap) {
		c.snapshot(now, wall)
		c.nextSnap = c.schedule.Next(wall)
	}

drain:
	for range c.cfg.RequestsPerPass {
		if passCtx.Err() != nil {
			break
		}
		select {
		case req := <-c.requests:
			c.serve(passCtx, req)
		default:
			break drain
		}
	}

	c.lastIter.Store(time.Now().UnixNano())
	if c.metrics != nil {
		c.metrics.LoopIteration(time.Since(start).Seconds())
	}
}

func (c *Controller) sampleWell() {
	ok, err := well.Read(c.well)
	if err != nil {
		if !c.wellErr {
			c.logger.Warn("well sensor read failed, treating as shortage", "error", err)
		}
		c.wellErr = true
	} else if c.wellErr {
		c.logger.Info("well sensor readable again")
		c.wellErr = false
	}

	if ok == c.state.WellWaterOK {
		return
	}
	c.state.WellWaterOK = ok
	if ok {
		c.logger.Info("well water available")
		c.publish(models.EventWellWater, 0, "well water restored")
	} else {
		c.logger.Warn("well water shortage, pumps locked out")
		c.publish(models.EventWellWater, 0, "well water shortage")
	}
	c.reportHealth()
}

func (c *Controller) sampleLink() {
	up := c.transport.Connected()
	if up == c.state.LinkUp {
		return
	}
	c.state.LinkUp = up
	if up {
		c.logger.Info("radio link up")
	} else {
		c.logger.Warn("radio link down")
	}
	c.reportHealth()
}

func (c *Controller) snapshot(now clock.Tick, wall time.Time) {
	records := history.Snapshot(c.registry.All(), wall)
	c.state.LastHistoryTick = now
	if c.metrics != nil {
		c.metrics.Snapshot()
	}
	if c.archive != nil && len(records) > 0 {
		c.archive.Submit(records)
	}
	c.publish(models.EventHistorySnapshot, 0, fmt.Sprintf("recorded %d towers", len(records)))
	c.logger.Info("history snapshot taken", "towers", len(records), "next", c.schedule.Next(wall))
}

func (c *Controller) onPumpCommand(cmd dispatch.PumpCommand) {
	if c.metrics != nil {
		c.metrics.PumpCommand(cmd.On, cmd.Attempts, cmd.Duration.Seconds(), cmd.Err)
	}
	if cmd.Err != nil {
		return
	}
	action := "off"
	if cmd.On {
		action = "on"
	}
	c.publish(models.EventPumpChanged, cmd.TowerID, "pump "+action)
}

func (c *Controller) publish(t models.EventType, towerID uint8, msg string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(models.Event{Type: t, TowerID: towerID, Message: msg, Timestamp: c.clock.Wall()})
}

func (c *Controller) reportHealth() {
	if c.health == nil {
		return
	}
	c.health.SetServing(HealthService, true)
	c.health.SetServing(HealthRadio, !c.state.Degraded && c.state.LinkUp)
	c.health.SetServing(HealthWellWater, c.state.WellWaterOK)
}

func (c *Controller) stopping() {
	if c.health != nil {
		c.health.SetServing(HealthService, false)
	}
	c.logger.Info("control loop stopped")
}

func (c *Controller) wellReports() iter.Seq[well.Reporter] {
	return func(yield func(well.Reporter) bool) {
		for n := range c.registry.All() {
			if !yield(n) {
				return
			}
		}
	}
}
