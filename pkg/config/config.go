// Package config loads controller configuration from defaults, an optional
// YAML file, a .env file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the tower controller.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Control   ControlConfig   `yaml:"control"`
	Transport TransportConfig `yaml:"transport"`
	Well      WellConfig      `yaml:"well"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the HTTP and gRPC listener settings.
type ServerConfig struct {
	APIHost         string        `yaml:"api_host"`
	APIPort         int           `yaml:"api_port"`
	GRPCPort        int           `yaml:"grpc_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	StreamInterval  time.Duration `yaml:"stream_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds operator token settings. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// ControlConfig holds the control loop tuning.
type ControlConfig struct {
	Capacity        int           `yaml:"capacity"`
	HistoryCapacity int           `yaml:"history_capacity"`
	StartLevel      int           `yaml:"start_level"`
	StopLevel       int           `yaml:"stop_level"`
	LowWaterAlarm   int           `yaml:"low_water_alarm"`
	OverflowAlarm   int           `yaml:"overflow_alarm"`
	AutoInterval    time.Duration `yaml:"auto_interval"`
	OfflineTimeout  time.Duration `yaml:"offline_timeout"`
	LoopInterval    time.Duration `yaml:"loop_interval"`
	HistorySchedule string        `yaml:"history_schedule"`
	Mode            string        `yaml:"mode"`
	AnnounceMode    bool          `yaml:"announce_mode"`
}

// TransportConfig selects and tunes the radio link.
type TransportConfig struct {
	Kind          string        `yaml:"kind"`
	Broker        string        `yaml:"broker"`
	ClientID      string        `yaml:"client_id"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	UplinkTopic   string        `yaml:"uplink_topic"`
	DownlinkTopic string        `yaml:"downlink_topic"`
	QoS           int           `yaml:"qos"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// WellConfig selects the well-water source.
type WellConfig struct {
	Source string `yaml:"source"`
	Chip   string `yaml:"gpio_chip"`
	Line   int    `yaml:"gpio_line"`
}

// ArchiveConfig selects the long-term history store.
type ArchiveConfig struct {
	Kind      string        `yaml:"kind"`
	Path      string        `yaml:"path"`
	DSN       string        `yaml:"dsn"`
	Retention time.Duration `yaml:"retention"`
}

// NotifyConfig holds Telegram alert settings. An empty token disables alerts.
type NotifyConfig struct {
	TelegramToken  string        `yaml:"telegram_token"`
	TelegramChatID int64         `yaml:"telegram_chat_id"`
	Cooldown       time.Duration `yaml:"cooldown"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			APIHost:         "0.0.0.0",
			APIPort:         8080,
			GRPCPort:        9090,
			RequestTimeout:  15 * time.Second,
			StreamInterval:  5 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			JWTExpiry: 24 * time.Hour,
		},
		Control: ControlConfig{
			Capacity:        8,
			HistoryCapacity: 48,
			StartLevel:      20,
			StopLevel:       90,
			LowWaterAlarm:   10,
			OverflowAlarm:   95,
			AutoInterval:    5 * time.Second,
			OfflineTimeout:  30 * time.Second,
			LoopInterval:    50 * time.Millisecond,
			HistorySchedule: "@every 1h",
			Mode:            "auto",
		},
		Transport: TransportConfig{
			Kind:          "mqtt",
			Broker:        "tcp://localhost:1883",
			UplinkTopic:   "towers/uplink",
			DownlinkTopic: "towers/downlink",
			QoS:           1,
			SendTimeout:   time.Second,
			RetryAttempts: 3,
			RetryBackoff:  200 * time.Millisecond,
		},
		Well: WellConfig{
			Source: "heartbeat",
			Chip:   "gpiochip0",
			Line:   17,
		},
		Archive: ArchiveConfig{
			Kind:      "none",
			Path:      "/var/lib/towerctl/history.db",
			Retention: 90 * 24 * time.Hour,
		},
		Notify: NotifyConfig{
			Cooldown: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration and validates it. path names an optional
// YAML file; environment variables override it.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := Defaults()
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.fillGenerated()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	cfg.fillGenerated()
	return cfg
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading .env: %w", err)
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.APIHost = getEnv("API_HOST", s.APIHost)
	s.APIPort = getIntEnv("API_PORT", s.APIPort)
	s.GRPCPort = getIntEnv("GRPC_PORT", s.GRPCPort)
	s.RequestTimeout = getDurationEnv("HTTP_REQUEST_TIMEOUT", s.RequestTimeout)
	s.StreamInterval = getDurationEnv("STREAM_INTERVAL", s.StreamInterval)
	s.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTExpiry = getDurationEnv("JWT_EXPIRY", c.Auth.JWTExpiry)

	ctl := &c.Control
	ctl.Capacity = getIntEnv("TOWER_CAPACITY", ctl.Capacity)
	ctl.HistoryCapacity = getIntEnv("HISTORY_CAPACITY", ctl.HistoryCapacity)
	ctl.StartLevel = getIntEnv("PUMP_START_LEVEL", ctl.StartLevel)
	ctl.StopLevel = getIntEnv("PUMP_STOP_LEVEL", ctl.StopLevel)
	ctl.LowWaterAlarm = getIntEnv("ALARM_LOW_WATER", ctl.LowWaterAlarm)
	ctl.OverflowAlarm = getIntEnv("ALARM_OVERFLOW", ctl.OverflowAlarm)
	ctl.AutoInterval = getDurationEnv("AUTO_INTERVAL", ctl.AutoInterval)
	ctl.OfflineTimeout = getDurationEnv("OFFLINE_TIMEOUT", ctl.OfflineTimeout)
	ctl.LoopInterval = getDurationEnv("LOOP_INTERVAL", ctl.LoopInterval)
	ctl.HistorySchedule = getEnv("HISTORY_SCHEDULE", ctl.HistorySchedule)
	ctl.Mode = getEnv("CONTROL_MODE", ctl.Mode)
	ctl.AnnounceMode = getBoolEnv("ANNOUNCE_MODE", ctl.AnnounceMode)

	t := &c.Transport
	t.Kind = getEnv("TRANSPORT", t.Kind)
	t.Broker = getEnv("MQTT_BROKER", t.Broker)
	t.ClientID = getEnv("MQTT_CLIENT_ID", t.ClientID)
	t.Username = getEnv("MQTT_USERNAME", t.Username)
	t.Password = getEnv("MQTT_PASSWORD", t.Password)
	t.UplinkTopic = getEnv("MQTT_UPLINK_TOPIC", t.UplinkTopic)
	t.DownlinkTopic = getEnv("MQTT_DOWNLINK_TOPIC", t.DownlinkTopic)
	t.QoS = getIntEnv("MQTT_QOS", t.QoS)
	t.SendTimeout = getDurationEnv("SEND_TIMEOUT", t.SendTimeout)
	t.RetryAttempts = getIntEnv("PUMP_RETRY_ATTEMPTS", t.RetryAttempts)
	t.RetryBackoff = getDurationEnv("PUMP_RETRY_BACKOFF", t.RetryBackoff)

	c.Well.Source = getEnv("WELL_SOURCE", c.Well.Source)
	c.Well.Chip = getEnv("WELL_GPIO_CHIP", c.Well.Chip)
	c.Well.Line = getIntEnv("WELL_GPIO_LINE", c.Well.Line)

	c.Archive.Kind = getEnv("ARCHIVE", c.Archive.Kind)
	c.Archive.Path = getEnv("ARCHIVE_PATH", c.Archive.Path)
	c.Archive.DSN = getEnv("DATABASE_URL", c.Archive.DSN)
	c.Archive.Retention = getDurationEnv("ARCHIVE_RETENTION", c.Archive.Retention)

	c.Notify.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getInt64Env("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
	c.Notify.Cooldown = getDurationEnv("NOTIFY_COOLDOWN", c.Notify.Cooldown)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

func (c *Config) fillGenerated() {
	if c.Transport.ClientID == "" {
		c.Transport.ClientID = "tower-controller-" + uuid.NewString()
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 32 characters"))
	}

	ctl := c.Control
	if ctl.Capacity < 1 || ctl.Capacity > 254 {
		errs = append(errs, fmt.Errorf("tower capacity %d out of range 1..254", ctl.Capacity))
	}
	if ctl.HistoryCapacity < 1 {
		errs = append(errs, fmt.Errorf("history capacity must be positive"))
	}
	if !percent(ctl.StartLevel) || !percent(ctl.StopLevel) || ctl.StartLevel >= ctl.StopLevel {
		errs = append(errs, fmt.Errorf("pump levels must satisfy 0 <= start < stop <= 100, got %d/%d", ctl.StartLevel, ctl.StopLevel))
	}
	if !percent(ctl.LowWaterAlarm) || !percent(ctl.OverflowAlarm) || ctl.LowWaterAlarm >= ctl.OverflowAlarm {
		errs = append(errs, fmt.Errorf("alarm levels must satisfy 0 <= low < overflow <= 100, got %d/%d", ctl.LowWaterAlarm, ctl.OverflowAlarm))
	}
	if ctl.AutoInterval <= 0 || ctl.OfflineTimeout <= 0 || ctl.LoopInterval <= 0 {
		errs = append(errs, fmt.Errorf("control intervals must be positive"))
	}
	if _, err := ParseMode(ctl.Mode); err != nil {
		errs = append(errs, err)
	}

	t := c.Transport
	switch t.Kind {
	case "mqtt":
		if t.Broker == "" {
			errs = append(errs, fmt.Errorf("MQTT_BROKER is required for the mqtt transport"))
		}
	case "loopback":
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", t.Kind))
	}
	if t.QoS < 0 || t.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2"))
	}
	if t.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("PUMP_RETRY_ATTEMPTS must be at least 1"))
	}

	switch c.Well.Source {
	case "gpio", "heartbeat", "assume-ok":
	default:
		errs = append(errs, fmt.Errorf("unknown well source %q", c.Well.Source))
	}

	switch c.Archive.Kind {
	case "none":
	case "bolt":
		if c.Archive.Path == "" {
			errs = append(errs, fmt.Errorf("ARCHIVE_PATH is required for the bolt archive"))
		}
	case "postgres":
		if c.Archive.DSN == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the postgres archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive %q", c.Archive.Kind))
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == 0 {
		errs = append(errs, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text"))
	}

	return errors.Join(errs...)
}

// ParseMode maps "auto"/"0" and "manual"/"1" to the control mode number.
func ParseMode(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "0":
		return 0, nil
	case "manual", "1":
		return 1, nil
	}
	return 0, fmt.Errorf("unknown control mode %q", s)
}

func percent(v int) bool {
	return v >= 0 && v <= 100
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
