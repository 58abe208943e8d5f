package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/cafepos/internal/failover/health"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgx"
	}
	if c.Database.Timeout == 0 {
		c.Database.Timeout = 5 * time.Second
	}
	if c.Local.Path == "" {
		c.Local.Path = "data/cafepos.db"
	}
	if c.Local.BusyTimeout == 0 {
		c.Local.BusyTimeout = 5 * time.Second
	}
	if c.Health.Base == 0 {
		c.Health.Base = health.DefaultBackoff.Base
	}
	if c.Health.Max == 0 {
		c.Health.Max = health.DefaultBackoff.Max
	}
	if c.Health.Multiplier == 0 {
		c.Health.Multiplier = health.DefaultBackoff.Multiplier
	}
	if c.Replay.Interval == 0 {
		c.Replay.Interval = 30 * time.Second
	}
	if c.Replay.OpTimeout == 0 {
		c.Replay.OpTimeout = c.Database.Timeout
	}
	if c.OpLog.MaxAge == 0 {
		c.OpLog.MaxAge = 15 * time.Minute
	}
	if c.OpLog.CheckInterval == 0 {
		c.OpLog.CheckInterval = time.Minute
	}
}

func (c *AppConfig) validate() error {
	switch c.Database.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Health.Max < c.Health.Base {
		return fmt.Errorf("health.max_cooldown (%s) is below health.base_cooldown (%s)", c.Health.Max, c.Health.Base)
	}
	if c.Health.Multiplier < 1 {
		return fmt.Errorf("health.multiplier must be at least 1, got %v", c.Health.Multiplier)
	}
	if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		return fmt.Errorf("server.grpc_port must differ from server.port")
	}
	for name, spec := range c.Tables {
		if len(spec.Key) == 0 {
			continue
		}
		for _, col := range spec.Key {
			if col == "" {
				return fmt.Errorf("table %s has an empty key column", name)
			}
		}
	}
	return nil
}
