package partialz

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for Config.
const (
	DefaultScheduledDelay  = 5000 * time.Millisecond
	DefaultExporterTimeout = 30000 * time.Millisecond
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds processor configuration.
//
// ExporterTimeout is accepted and validated but not enforced anywhere:
// per-emit timeouts belong to the Sink.
type Config struct {
	ScheduledDelay  time.Duration `yaml:"scheduled_delay"`
	ExporterTimeout time.Duration `yaml:"exporter_timeout"`
	ServiceName     string        `yaml:"service_name"`
	MetricsAddr     string        `yaml:"metrics_addr"`
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{
		ScheduledDelay:  DefaultScheduledDelay,
		ExporterTimeout: DefaultExporterTimeout,
		ServiceName:     DefaultServiceName,
	}
}

// WithDefaults returns c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ScheduledDelay == 0 {
		c.ScheduledDelay = d.ScheduledDelay
	}
	if c.ExporterTimeout == 0 {
		c.ExporterTimeout = d.ExporterTimeout
	}
	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	return c
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ScheduledDelay < time.Millisecond {
		return fmt.Errorf("%w: scheduled delay must be at least 1ms, got %s", ErrInvalidConfig, c.ScheduledDelay)
	}
	if c.ExporterTimeout < 0 {
		return fmt.Errorf("%w: exporter timeout cannot be negative", ErrInvalidConfig)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("%w: service name cannot be empty", ErrInvalidConfig)
	}
	return nil
}

// Frequency returns the partial.frequency attribute value, e.g. "5000ms".
func (c *Config) Frequency() string {
	return fmt.Sprintf("%dms", c.ScheduledDelay.Milliseconds())
}

// ParseConfig decodes YAML, applies defaults and validates the result.
// Durations use Go syntax ("5s", "250ms").
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}
