package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a node.
// All configuration is loaded from YAML and can be overridden by
// environment variables.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Safety     SafetyConfig     `yaml:"safety"`
	Sensors    SensorsConfig    `yaml:"sensors"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NodeConfig identifies this node on the wire.
type NodeConfig struct {
	// ID is the node's identity segment in every address it publishes or
	// subscribes to.
	ID string `yaml:"id"`

	// Name is a human-readable label, reported in status payloads.
	Name string `yaml:"name"`

	// Root is the installation-wide address prefix shared by every node
	// and the coordinator.
	Root string `yaml:"root"`
}

// HardwareConfig describes the GPIO hardware this node runs on.
//
// The variant presets ("rpi4", "rpi5") fill in chip, pin count and
// reserved pins; "custom" requires all three explicitly. Reserved pins are
// never configured and never released to components, whatever the variant.
type HardwareConfig struct {
	Variant      string `yaml:"variant"`
	Chip         string `yaml:"chip"`
	PinCount     int    `yaml:"pin_count"`
	ReservedPins []int  `yaml:"reserved_pins"`
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	Broker                MQTTBrokerConfig    `yaml:"broker"`
	Auth                  MQTTAuthConfig      `yaml:"auth"`
	QoS                   int                 `yaml:"qos"`
	KeepaliveSeconds      int                 `yaml:"keepalive_seconds"`
	ConnectTimeoutSeconds int                 `yaml:"connect_timeout_seconds"`
	Reconnect             MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains broker authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig drives the reconnect backoff schedule: delay after
// the k-th consecutive failure is base*2^(k-1) capped at max. After
// max_retries consecutive failures the node keeps retrying at the cap
// indefinitely; connectivity is never abandoned.
type MQTTReconnectConfig struct {
	BaseDelaySeconds int `yaml:"base_delay_seconds"`
	MaxDelaySeconds  int `yaml:"max_delay_seconds"`
	MaxRetries       int `yaml:"max_retries"`
}

// SafetyConfig contains emergency-stop and resume pacing.
type SafetyConfig struct {
	// InterActuatorDelaySeconds is the pause between re-enabling
	// consecutive actuators during a resume.
	InterActuatorDelaySeconds int `yaml:"inter_actuator_delay_seconds"`

	// MaxRetryAttempts is the verification attempts per actuator before
	// a resume aborts.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// VerifyRetryDelayMS is the pause between verification attempts.
	VerifyRetryDelayMS int `yaml:"verify_retry_delay_ms"`

	// CriticalFirst re-enables critical actuators before the rest.
	CriticalFirst bool `yaml:"critical_first"`

	// ErrorRecoveryDelaySeconds is how long the node sits in ERROR
	// before reinitialising.
	ErrorRecoveryDelaySeconds int `yaml:"error_recovery_delay_seconds"`
}

// SensorsConfig contains measurement cadence settings.
type SensorsConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// EnrichmentConfig contains settings for the optional upstream enrichment
// service and the circuit breaker guarding it.
type EnrichmentConfig struct {
	Enabled            bool   `yaml:"enabled"`
	URL                string `yaml:"url"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	FailureThreshold   int    `yaml:"failure_threshold"`
	SuccessThreshold   int    `yaml:"success_threshold"`
	OpenTimeoutSeconds int    `yaml:"open_timeout_seconds"`
}

// TelemetryConfig contains InfluxDB connection settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Hardware variant presets (fill unset hardware fields)
//
// Environment variables follow the pattern: KAISER_SECTION_KEY
// For example: KAISER_DATABASE_PATH, KAISER_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyVariantPresets(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:   "node-001",
			Name: "Field Node",
			Root: "kaiser",
		},
		Hardware: HardwareConfig{
			Variant: "rpi4",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:                   1,
			KeepaliveSeconds:      30,
			ConnectTimeoutSeconds: 10,
			Reconnect: MQTTReconnectConfig{
				BaseDelaySeconds: 5,
				MaxDelaySeconds:  60,
				MaxRetries:       10,
			},
		},
		Safety: SafetyConfig{
			InterActuatorDelaySeconds: 2,
			MaxRetryAttempts:          3,
			VerifyRetryDelayMS:        500,
			CriticalFirst:             true,
			ErrorRecoveryDelaySeconds: 10,
		},
		Sensors: SensorsConfig{
			IntervalSeconds: 30,
		},
		Enrichment: EnrichmentConfig{
			TimeoutSeconds:     5,
			FailureThreshold:   5,
			SuccessThreshold:   3,
			OpenTimeoutSeconds: 60,
		},
		Telemetry: TelemetryConfig{
			BatchSize:     50,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/nodecore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// variantPresets maps hardware variants to their GPIO layout. Pins 0 and 1
// carry the HAT identification EEPROM bus on both boards and must never be
// driven.
var variantPresets = map[string]HardwareConfig{
	"rpi4": {Chip: "gpiochip0", PinCount: 28, ReservedPins: []int{0, 1}},
	"rpi5": {Chip: "gpiochip4", PinCount: 28, ReservedPins: []int{0, 1}},
}

// applyVariantPresets fills unset hardware fields from the variant preset.
// Explicit values in the file always win, so a variant can still override
// its reserved-pin set.
func applyVariantPresets(cfg *Config) {
	preset, ok := variantPresets[cfg.Hardware.Variant]
	if !ok {
		return
	}
	if cfg.Hardware.Chip == "" {
		cfg.Hardware.Chip = preset.Chip
	}
	if cfg.Hardware.PinCount == 0 {
		cfg.Hardware.PinCount = preset.PinCount
	}
	if cfg.Hardware.ReservedPins == nil {
		cfg.Hardware.ReservedPins = append([]int(nil), preset.ReservedPins...)
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern:
// KAISER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Node
	if v := os.Getenv("KAISER_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}

	// Database
	if v := os.Getenv("KAISER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("KAISER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KAISER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("KAISER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KAISER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Enrichment
	if v := os.Getenv("KAISER_ENRICHMENT_URL"); v != "" {
		cfg.Enrichment.URL = v
	}

	// Telemetry
	if v := os.Getenv("KAISER_TELEMETRY_URL"); v != "" {
		cfg.Telemetry.URL = v
	}
	if v := os.Getenv("KAISER_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}

	// Logging
	if v := os.Getenv("KAISER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Node validation
	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}
	if c.Node.Root == "" {
		errs = append(errs, "node.root is required")
	}

	// Hardware validation
	switch c.Hardware.Variant {
	case "rpi4", "rpi5":
		// presets applied
	case "custom":
		if c.Hardware.Chip == "" {
			errs = append(errs, "hardware.chip is required for the custom variant")
		}
		if c.Hardware.PinCount <= 0 {
			errs = append(errs, "hardware.pin_count must be positive for the custom variant")
		}
	default:
		errs = append(errs, "hardware.variant must be rpi4, rpi5 or custom")
	}
	for _, pin := range c.Hardware.ReservedPins {
		if pin < 0 || (c.Hardware.PinCount > 0 && pin >= c.Hardware.PinCount) {
			errs = append(errs, fmt.Sprintf("hardware.reserved_pins: pin %d outside [0, %d)", pin, c.Hardware.PinCount))
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// Safety validation
	if c.Safety.MaxRetryAttempts < 1 {
		errs = append(errs, "safety.max_retry_attempts must be at least 1")
	}

	// Sensors validation
	if c.Sensors.IntervalSeconds < 1 {
		errs = append(errs, "sensors.interval_seconds must be at least 1")
	}

	// Enrichment validation
	if c.Enrichment.Enabled && c.Enrichment.URL == "" {
		errs = append(errs, "enrichment.url is required when enrichment is enabled")
	}

	// Telemetry validation
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Token == "" {
			errs = append(errs, "telemetry.token is required when telemetry is enabled (set KAISER_TELEMETRY_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ClientID returns the configured broker client ID, or one derived from
// the node ID when unset.
func (c *Config) ClientID() string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	return "nodecore-" + c.Node.ID
}

// InterActuatorDelay returns the resume spacing as a Duration.
func (s SafetyConfig) InterActuatorDelay() time.Duration {
	return time.Duration(s.InterActuatorDelaySeconds) * time.Second
}

// VerifyRetryDelay returns the verification retry pause as a Duration.
func (s SafetyConfig) VerifyRetryDelay() time.Duration {
	return time.Duration(s.VerifyRetryDelayMS) * time.Millisecond
}

// ErrorRecoveryDelay returns the ERROR-to-BOOT delay as a Duration.
func (s SafetyConfig) ErrorRecoveryDelay() time.Duration {
	return time.Duration(s.ErrorRecoveryDelaySeconds) * time.Second
}

// Interval returns the measurement cadence as a Duration.
func (s SensorsConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Timeout returns the per-call enrichment timeout as a Duration.
func (e EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// OpenTimeout returns the breaker cooldown as a Duration.
func (e EnrichmentConfig) OpenTimeout() time.Duration {
	return time.Duration(e.OpenTimeoutSeconds) * time.Second
}

// Keepalive returns the broker keepalive interval as a Duration.
func (m MQTTConfig) Keepalive() time.Duration {
	return time.Duration(m.KeepaliveSeconds) * time.Second
}

// ConnectTimeout returns the per-attempt connect timeout as a Duration.
func (m MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutSeconds) * time.Second
}

// BaseDelay returns the reconnect base delay as a Duration.
func (r MQTTReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelaySeconds) * time.Second
}

// MaxDelay returns the reconnect delay cap as a Duration.
func (r MQTTReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySeconds) * time.Second
}
