package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loopwire/podcore/pkg/podsim"
	"github.com/loopwire/podcore/pkg/service"
)

// Store kinds.
const (
	StoreBolt = "bolt"
	StoreFile = "file"
)

// Config is the podctl configuration file.
type Config struct {
	Service service.Config `yaml:"service"`

	Store struct {
		// Kind is bolt or file.
		Kind string `yaml:"kind"`
		// Path is the database or state file.
		Path string `yaml:"path"`
	} `yaml:"store"`

	Sim struct {
		Reservoir         float64 `yaml:"reservoir"`
		LowReservoirAlert float64 `yaml:"lowReservoirAlert"`
	} `yaml:"sim"`

	// ProtocolLog is the CBOR protocol log file. Empty disables it.
	ProtocolLog string `yaml:"protocolLog"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"logLevel"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `yaml:"metricsAddr"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	var cfg Config
	cfg.Service = service.DefaultConfig()
	cfg.Store.Kind = StoreBolt
	cfg.Store.Path = "podcore.db"
	cfg.LogLevel = "info"
	return cfg
}

// LoadConfig reads path over the defaults. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreBolt, StoreFile:
	default:
		return fmt.Errorf("unknown store kind %q (must be bolt or file)", c.Store.Kind)
	}
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return c.Service.Validate()
}

// SimConfig returns the simulated pod configuration.
func (c *Config) SimConfig() podsim.Config {
	return podsim.Config{
		Reservoir:         c.Sim.Reservoir,
		BolusRate:         c.Service.BolusDeliveryRate,
		LowReservoirAlert: c.Sim.LowReservoirAlert,
	}
}

// ParseLogLevel parses a slog level name (case-insensitive).
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", s)
	}
}
