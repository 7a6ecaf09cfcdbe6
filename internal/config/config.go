package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Remote          RemoteConfig      `yaml:"remote"`
	Realtime        RealtimeConfig    `yaml:"realtime"`
	Coordinator     CoordinatorConfig `yaml:"coordinator"`
	Dispatcher      DispatcherConfig  `yaml:"dispatcher"`
	API             APIConfig         `yaml:"api"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Database        DatabaseConfig    `yaml:"database"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Log             LogConfig         `yaml:"log"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// RemoteConfig contains connection settings for the remote entity store
type RemoteConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Timeout Duration `yaml:"timeout"` // HTTP timeout for remote API requests
}

// BaseURL returns the http base address of the remote entity store
func (c *RemoteConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// RealtimeConfig contains push channel settings
type RealtimeConfig struct {
	Enabled        *bool    `yaml:"enabled"`         // default: true
	Namespace      string   `yaml:"namespace"`       // default: /ws-color
	Path           string   `yaml:"path"`            // default: /socket.io/
	ConnectTimeout Duration `yaml:"connect_timeout"` // default: 10s
}

// IsEnabled returns whether the realtime channel should be attempted
func (c *RealtimeConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// CoordinatorConfig contains polling settings
type CoordinatorConfig struct {
	RefreshInterval Duration `yaml:"refresh_interval"`
	PersistSnapshot *bool    `yaml:"persist_snapshot"` // Keep last good snapshot in sqlite (default: true)
}

// IsPersistEnabled returns whether the last good snapshot is persisted
func (c *CoordinatorConfig) IsPersistEnabled() bool {
	return c.PersistSnapshot == nil || *c.PersistSnapshot
}

// DispatcherConfig contains command delivery settings
type DispatcherConfig struct {
	BrightnessPolicy string  `yaml:"brightness_policy"` // "scaled" (default) or "fixed"
	FixedBrightness  *int    `yaml:"fixed_brightness"`  // Wire brightness for the fixed policy (default: 100)
	RESTToggle       bool    `yaml:"rest_toggle"`       // Deliver plain on/off over POST /toggle/
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`
}

// GetFixedBrightness returns the wire brightness for the fixed policy.
// An explicit 0 is kept; only an absent value falls back to 100.
func (c *DispatcherConfig) GetFixedBrightness() int {
	if c.FixedBrightness == nil {
		return 100
	}
	return *c.FixedBrightness
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains broker and discovery settings
type MQTTConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	ClientID        string   `yaml:"client_id"`
	BaseTopic       string   `yaml:"base_topic"`       // default: worldmap
	DiscoveryPrefix string   `yaml:"discovery_prefix"` // default: homeassistant
	Timeout         Duration `yaml:"timeout"`          // Connect/publish wait (default: 5s)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains command ledger settings
type LedgerConfig struct {
	Enabled           *bool    `yaml:"enabled"`
	RetentionPeriod   Duration `yaml:"retention_period"`
	RetentionInterval Duration `yaml:"retention_interval"`
}

// IsEnabled returns whether the ledger is enabled
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"use_json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GetShutdownTimeout returns the shutdown timeout with default
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout == 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./worldmapd.sqlite"
	}

	// Remote defaults
	if cfg.Remote.Port == 0 {
		cfg.Remote.Port = 8000
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = Duration(30 * time.Second)
	}

	// Realtime defaults
	if cfg.Realtime.Namespace == "" {
		cfg.Realtime.Namespace = "/ws-color"
	}
	if cfg.Realtime.Path == "" {
		cfg.Realtime.Path = "/socket.io/"
	}
	if cfg.Realtime.ConnectTimeout == 0 {
		cfg.Realtime.ConnectTimeout = Duration(10 * time.Second)
	}

	// Coordinator defaults
	if cfg.Coordinator.RefreshInterval == 0 {
		cfg.Coordinator.RefreshInterval = Duration(5 * time.Minute)
	}

	// Dispatcher defaults
	if cfg.Dispatcher.BrightnessPolicy == "" {
		cfg.Dispatcher.BrightnessPolicy = "scaled"
	}
	if cfg.Dispatcher.RateLimitRPS == 0 {
		cfg.Dispatcher.RateLimitRPS = 10.0
	}

	// API defaults
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8099
	}

	// MQTT defaults
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.BaseTopic == "" {
		cfg.MQTT.BaseTopic = "worldmap"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.MQTT.Timeout == 0 {
		cfg.MQTT.Timeout = Duration(5 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.RetentionPeriod == 0 {
		cfg.Ledger.RetentionPeriod = Duration(30 * 24 * time.Hour)
	}
	if cfg.Ledger.RetentionInterval == 0 {
		cfg.Ledger.RetentionInterval = Duration(24 * time.Hour)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks values that cannot be fixed up by defaults
func (cfg *Config) Validate() error {
	if cfg.Remote.Host == "" {
		return fmt.Errorf("remote.host is required")
	}
	if cfg.Remote.Port < 1 || cfg.Remote.Port > 65535 {
		return fmt.Errorf("remote.port out of range: %d", cfg.Remote.Port)
	}
	switch cfg.Dispatcher.BrightnessPolicy {
	case "scaled", "fixed":
	default:
		return fmt.Errorf("dispatcher.brightness_policy must be \"scaled\" or \"fixed\", got %q", cfg.Dispatcher.BrightnessPolicy)
	}
	if fb := cfg.Dispatcher.GetFixedBrightness(); fb < 0 || fb > 100 {
		return fmt.Errorf("dispatcher.fixed_brightness must be within 0..100, got %d", fb)
	}
	if cfg.Dispatcher.RateLimitRPS <= 0 {
		return fmt.Errorf("dispatcher.rate_limit_rps must be positive, got %v", cfg.Dispatcher.RateLimitRPS)
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"remote.timeout", cfg.Remote.Timeout},
		{"realtime.connect_timeout", cfg.Realtime.ConnectTimeout},
		{"coordinator.refresh_interval", cfg.Coordinator.RefreshInterval},
		{"mqtt.timeout", cfg.MQTT.Timeout},
		{"ledger.retention_period", cfg.Ledger.RetentionPeriod},
		{"ledger.retention_interval", cfg.Ledger.RetentionInterval},
		{"shutdown_timeout", cfg.ShutdownTimeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value.Duration())
		}
	}
	if !strings.HasPrefix(cfg.Realtime.Namespace, "/") {
		return fmt.Errorf("realtime.namespace must start with '/': %q", cfg.Realtime.Namespace)
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required when mqtt is enabled")
	}
	return nil
}

// envPattern matches ${VAR} or ${VAR:default}
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
