package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the TCP port the shore station listens on and the vehicle
// dials. Kept stable across firmware generations.
const DefaultPort = 65432

// VehicleConfig configures the vehicle-side link agent.
type VehicleConfig struct {
	// ShoreAddr is the shore station address as "host:port". When empty
	// the agent discovers the shore station over mDNS instead.
	ShoreAddr string `yaml:"shore_addr"`

	// DiscoverTimeout bounds mDNS discovery when ShoreAddr is empty.
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`

	// ConnectTimeout bounds one TCP connect attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReconnectInterval is the fixed delay inserted before re-attempting
	// a failed connection. No exponential growth: the vehicle should be
	// back on the link as soon as shore reappears.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	// HeartbeatInterval is the cadence of outbound status heartbeats.
	// The link declares the connection dead after 3x this interval with
	// no received bytes.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxReconnectAttempts is logged when exceeded. It does not stop
	// reconnection; the vehicle retries forever.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// LogLevel is the zap level (debug, info, warn, error). Empty means
	// silent unless ROVLINK_LOG_LEVEL is set.
	LogLevel string `yaml:"log_level"`
}

// ShoreConfig configures the shore station server.
type ShoreConfig struct {
	// Host is the listen address. Empty listens on all interfaces.
	Host string `yaml:"host"`

	// Port is the TCP listen port.
	Port int `yaml:"port"`

	// HeartbeatTimeout is how long a connection may stay silent before
	// the cleanup sweep evicts it.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// CleanupInterval is the cadence of the stale-connection sweep.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Advertise enables mDNS advertisement of the listen port so
	// vehicles can find the station without static addressing.
	Advertise bool `yaml:"advertise"`

	// Instance is the mDNS instance name used when advertising.
	Instance string `yaml:"instance"`

	// MetricsAddr exposes Prometheus metrics over HTTP when non-empty,
	// e.g. "127.0.0.1:9100".
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// DefaultVehicleConfig returns the vehicle agent defaults.
func DefaultVehicleConfig() VehicleConfig {
	return VehicleConfig{
		ShoreAddr:            "",
		DiscoverTimeout:      10 * time.Second,
		ConnectTimeout:       5 * time.Second,
		ReconnectInterval:    2 * time.Second,
		HeartbeatInterval:    1 * time.Second,
		MaxReconnectAttempts: 10,
		LogLevel:             "",
	}
}

// DefaultShoreConfig returns the shore station defaults.
func DefaultShoreConfig() ShoreConfig {
	return ShoreConfig{
		Host:             "",
		Port:             DefaultPort,
		HeartbeatTimeout: 5 * time.Second,
		CleanupInterval:  2 * time.Second,
		Advertise:        true,
		Instance:         "rovlink-shore",
		MetricsAddr:      "",
		LogLevel:         "",
	}
}

// LoadVehicle loads a vehicle config from path, applying defaults for any
// field the file omits. An empty path returns pure defaults.
func LoadVehicle(path string) (VehicleConfig, error) {
	cfg := DefaultVehicleConfig()
	if path == "" {
		return cfg, nil
	}
	if err := loadYAML(path, &cfg); err != nil {
		return VehicleConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return VehicleConfig{}, err
	}
	return cfg, nil
}

// LoadShore loads a shore config from path, applying defaults for any
// field the file omits. An empty path returns pure defaults.
func LoadShore(path string) (ShoreConfig, error) {
	cfg := DefaultShoreConfig()
	if path == "" {
		return cfg, nil
	}
	if err := loadYAML(path, &cfg); err != nil {
		return ShoreConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ShoreConfig{}, err
	}
	return cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the vehicle config for values the link cannot run with.
func (c VehicleConfig) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("config: connect_timeout must be positive, got %v", c.ConnectTimeout)
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("config: reconnect_interval must be positive, got %v", c.ReconnectInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat_interval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("config: max_reconnect_attempts must be at least 1, got %d", c.MaxReconnectAttempts)
	}
	return nil
}

// Validate checks the shore config for values the server cannot run with.
func (c ShoreConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("config: heartbeat_timeout must be positive, got %v", c.HeartbeatTimeout)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("config: cleanup_interval must be positive, got %v", c.CleanupInterval)
	}
	if c.Advertise && c.Instance == "" {
		return fmt.Errorf("config: instance name required when advertise is enabled")
	}
	return nil
}

// ListenAddr returns the shore listen address as "host:port".
func (c ShoreConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
