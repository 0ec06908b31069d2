package configuration

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/eventbench/internal/bench/engine"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
)

func validConfig() DriverConfig {
	return DriverConfig{
		RunId:        "run-1",
		Definition:   "benchmark.yaml",
		PingInterval: time.Second,
		Backends: BackendConfig{
			Events:       Memory,
			Results:      Memory,
			Sessions:     Memory,
			Coordination: Memory,
		},
		Engine: engine.DefaultConfig(),
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(c *DriverConfig)
		invalid string
		tag     string
	}{
		"valid": {
			mutate: func(c *DriverConfig) {},
		},
		"valid redis": {
			mutate: func(c *DriverConfig) {
				c.Backends = BackendConfig{Events: Redis, Results: Postgres, Sessions: Redis, Coordination: Redis}
				c.Redis.Addrs = []string{"localhost:6379"}
				c.Postgres.Connection = map[string]string{"host": "localhost"}
			},
		},
		"missing run id": {
			mutate: func(c *DriverConfig) { c.RunId = "" },
			tag:    "required",
		},
		"missing ping interval": {
			mutate: func(c *DriverConfig) { c.PingInterval = 0 },
			tag:    "required",
		},
		"unknown backend": {
			mutate: func(c *DriverConfig) { c.Backends.Events = "mongo" },
			tag:    "oneof",
		},
		"redis results": {
			mutate: func(c *DriverConfig) { c.Backends.Results = Redis },
			tag:    "oneof",
		},
		"redis without address": {
			mutate: func(c *DriverConfig) {
				c.Backends.Sessions = Redis
				c.Backends.Coordination = Redis
			},
			invalid: "Redis.Addrs",
		},
		"redis run log without address": {
			mutate:  func(c *DriverConfig) { c.RunLog.Redis = true },
			invalid: "Redis.Addrs",
		},
		"postgres without connection": {
			mutate: func(c *DriverConfig) {
				c.Backends.Events = Postgres
				c.Backends.Coordination = Redis
				c.Redis.Addrs = []string{"localhost:6379"}
			},
			invalid: "Postgres.Connection",
		},
		"shared queue with local run state": {
			mutate: func(c *DriverConfig) {
				c.Backends.Events = Redis
				c.Redis.Addrs = []string{"localhost:6379"}
			},
			invalid: "Backends.Coordination",
		},
		"bad engine": {
			mutate:  func(c *DriverConfig) { c.Engine.ThreadCount = 0 },
			invalid: "ThreadCount",
		},
		"nats without subject": {
			mutate:  func(c *DriverConfig) { c.RunLog.NatsUrl = "nats://localhost:4222" },
			invalid: "RunLog.NatsSubject",
		},
		"negative start delay": {
			mutate:  func(c *DriverConfig) { c.StartDelay = -time.Second },
			invalid: "StartDelay",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			switch {
			case tc.tag != "":
				var validationErrors validator.ValidationErrors
				require.ErrorAs(t, err, &validationErrors)
				assert.Equal(t, tc.tag, validationErrors[0].Tag())
			case tc.invalid != "":
				var e *benchmarkerrors.ErrInvalidArgument
				require.ErrorAs(t, err, &e)
				assert.Equal(t, tc.invalid, e.Name)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestUses(t *testing.T) {
	c := validConfig()
	assert.False(t, c.UsesRedis())
	assert.False(t, c.UsesPostgres())

	c.Backends.Results = Postgres
	assert.True(t, c.UsesPostgres())
	c.RunLog.Redis = true
	assert.True(t, c.UsesRedis())
}
