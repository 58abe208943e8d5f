package config

import (
	"time"

	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/failover/health"
	"github.com/vietddude/cafepos/internal/failover/replay"
	redisclient "github.com/vietddude/cafepos/internal/infra/redis"
	"github.com/vietddude/cafepos/internal/infra/storage/postgres"
	"github.com/vietddude/cafepos/internal/infra/storage/sqlite"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
	Local    sqlite.Config      `yaml:"local"`
	Health   health.Backoff     `yaml:"health"`
	Replay   replay.Config      `yaml:"replay"`
	OpLog    OpLogConfig        `yaml:"oplog"`
	Mirror   MirrorConfig       `yaml:"mirror"`
	Redis    redisclient.Config `yaml:"redis"`
	Tables   domain.Tables      `yaml:"tables"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// OpLogConfig holds pending operation log thresholds and retention.
type OpLogConfig struct {
	MaxAge              time.Duration `yaml:"max_age"`
	MaxEntries          int           `yaml:"max_entries"` // 0 = no bound
	CheckInterval       time.Duration `yaml:"check_interval"`
	DeadLetterRetention time.Duration `yaml:"dead_letter_retention"` // 0 = keep forever
}

// Thresholds returns the stale-log bounds.
func (c OpLogConfig) Thresholds() health.Thresholds {
	return health.Thresholds{MaxAge: c.MaxAge, MaxEntries: c.MaxEntries}
}

// MirrorConfig holds mirror refresh settings.
type MirrorConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 = disabled
	RowLimit        int           `yaml:"row_limit"`        // 0 = unbounded
}

// Primary reports whether a primary database is configured. Without one the
// service runs against an in-memory primary.
func (c *AppConfig) Primary() bool {
	return c.Database.URL != ""
}
