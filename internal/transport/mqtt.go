package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// downlinkQoS is used for PumpControl frames. The dispatcher retries on its
// own, so a frame the broker did not take must not be replayed later.
const downlinkQoS byte = 0

// DropCounter is implemented by transports that discard uplink frames when
// the controller falls behind.
type DropCounter interface {
	Dropped() uint64
}

// MQTTConfig configures the radio gateway bridge.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	UplinkTopic    string
	DownlinkTopic  string
	// QoS applies to the uplink subscription only.
	QoS            byte
	ConnectTimeout time.Duration
	Buffer         int
}

// DefaultMQTTConfig returns a Config with sensible defaults.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "tower-controller-" + uuid.NewString(),
		UplinkTopic:    "towers/uplink",
		DownlinkTopic:  "towers/downlink",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
		Buffer:         64,
	}
}

// MQTTTransport exchanges frames with a radio gateway over an MQTT broker.
// Uplink frames are queued by the paho callback and drained by TryReceive.
type MQTTTransport struct {
	cfg     MQTTConfig
	client  mqtt.Client
	inbox   chan []byte
	dropped atomic.Uint64
	closed  atomic.Bool
	logger  *slog.Logger
}

// NewMQTT connects to the broker and subscribes to the uplink topic.
// A connection failure is reported as ErrHardwareFault.
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTTTransport, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	t := newMQTTTransport(cfg, nil, logger)
	logger = t.logger

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("gateway connection lost", "broker", cfg.Broker, "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	t.client = mqtt.NewClient(opts)
	tok := t.client.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("%w: connecting to %s timed out", ErrHardwareFault, cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %v", ErrHardwareFault, cfg.Broker, err)
	}

	return t, nil
}

func newMQTTTransport(cfg MQTTConfig, client mqtt.Client, logger *slog.Logger) *MQTTTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &MQTTTransport{
		cfg:    cfg,
		client: client,
		inbox:  make(chan []byte, cfg.Buffer),
		logger: logger,
	}
}

// onConnect (re)subscribes after every successful connection.
func (t *MQTTTransport) onConnect(c mqtt.Client) {
	tok := c.Subscribe(t.cfg.UplinkTopic, t.cfg.QoS, t.onMessage)
	if tok.WaitTimeout(t.cfg.ConnectTimeout) && tok.Error() == nil {
		t.logger.Info("gateway connected", "broker", t.cfg.Broker, "uplink", t.cfg.UplinkTopic)
		return
	}
	t.logger.Error("failed to subscribe to uplink topic", "topic", t.cfg.UplinkTopic, "error", tok.Error())
}

// onMessage queues an uplink frame, dropping it if the controller is behind.
func (t *MQTTTransport) onMessage(_ mqtt.Client, msg mqtt.Message) {
	frame := append([]byte(nil), msg.Payload()...)
	select {
	case t.inbox <- frame:
	default:
		t.dropped.Add(1)
		t.logger.Warn("uplink buffer full, dropping frame", "topic", msg.Topic(), "bytes", len(frame))
	}
}

// Send publishes a downlink frame and waits for the client to hand it off.
// It fails at once while the broker connection is down rather than letting
// the client queue the frame for after a reconnect.
func (t *MQTTTransport) Send(ctx context.Context, frame []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	if !t.client.IsConnectionOpen() {
		return fmt.Errorf("%w: gateway %s not connected", ErrTransport, t.cfg.Broker)
	}

	tok := t.client.Publish(t.cfg.DownlinkTopic, downlinkQoS, false, frame)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("%w: publish to %s: %w", ErrTransport, t.cfg.DownlinkTopic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: publish to %s: %w", ErrTimeout, t.cfg.DownlinkTopic, ctx.Err())
	}
}

// TryReceive returns the next queued uplink frame.
func (t *MQTTTransport) TryReceive() ([]byte, bool) {
	select {
	case frame := <-t.inbox:
		return frame, true
	default:
		return nil, false
	}
}

// Connected reports whether the broker connection is up.
func (t *MQTTTransport) Connected() bool {
	return !t.closed.Load() && t.client.IsConnectionOpen()
}

// Dropped returns how many uplink frames were discarded because the buffer was full.
func (t *MQTTTransport) Dropped() uint64 {
	return t.dropped.Load()
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.client.Disconnect(250)
	return nil
}
