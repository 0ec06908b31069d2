package configuration

import (
	"time"

	"github.com/G-Research/eventbench/internal/bench/engine"
	commonconfig "github.com/G-Research/eventbench/internal/common/config"
)

type Backend string

const (
	Memory   Backend = "memory"
	Redis    Backend = "redis"
	Postgres Backend = "postgres"
)

type DriverConfig struct {
	// RunId names the run every driver of a benchmark joins.
	RunId string `validate:"required"`
	// DriverId defaults to a random id.
	DriverId string
	// Definition is the path of the benchmark definition file.
	Definition string `validate:"required"`
	// Schedule makes this driver schedule the run StartDelay after start up.
	Schedule   bool
	StartDelay time.Duration
	// PingInterval is how often the driver heartbeats and reconciles with the run state.
	PingInterval  time.Duration `validate:"required"`
	DriverTimeout time.Duration
	LockTimeout   time.Duration
	// Prefix namespaces all keys this run writes to Redis.
	Prefix      string
	MetricsPort uint16
	LogLevel    string

	Backends BackendConfig
	Engine   engine.Config
	RunLog   RunLogConfig
	Redis    commonconfig.RedisConfig
	Postgres commonconfig.PostgresConfig
}

// BackendConfig selects where each store lives. Coordination covers the run state and the
// driver registry.
type BackendConfig struct {
	Events       Backend `validate:"oneof=memory redis postgres"`
	Results      Backend `validate:"oneof=memory postgres"`
	Sessions     Backend `validate:"oneof=memory redis"`
	Coordination Backend `validate:"oneof=memory redis"`
}

type RunLogConfig struct {
	// Redis keeps the latest Length entries in a Redis list.
	Redis  bool
	Length int64
	// NatsUrl enables publishing entries to NatsSubject.
	NatsUrl     string
	NatsSubject string
}

func (c BackendConfig) uses(backend Backend) bool {
	return c.Events == backend || c.Results == backend || c.Sessions == backend || c.Coordination == backend
}

func (c DriverConfig) UsesRedis() bool {
	return c.Backends.uses(Redis) || c.RunLog.Redis
}

func (c DriverConfig) UsesPostgres() bool {
	return c.Backends.uses(Postgres)
}
