package bench

import (
	"time"

	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/configuration"
	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/bench/repository"
	"github.com/G-Research/eventbench/internal/common/util"
)

type clients struct {
	redis    redis.UniversalClient
	postgres *pgxpool.Pool
}

type stores struct {
	events   repository.EventStore
	results  repository.ResultStore
	sessions repository.SessionService
	states   repository.RunStateStore
	drivers  repository.DriverRegistry
}

// keyPrefix namespaces Redis keys by run unless a prefix is configured.
func keyPrefix(config configuration.DriverConfig) string {
	if config.Prefix != "" {
		return config.Prefix
	}
	return "eventbench:" + config.RunId
}

func newStores(config configuration.DriverConfig, c clients, local *event.LocalDataStore, clock util.Clock) (*stores, error) {
	prefix := keyPrefix(config)
	s := &stores{}
	var err error

	switch config.Backends.Events {
	case configuration.Memory:
		s.events, err = repository.NewMemoryEventStore(local, config.LockTimeout, clock)
	case configuration.Redis:
		s.events = repository.NewRedisEventStore(c.redis, prefix, local, config.LockTimeout, clock)
	case configuration.Postgres:
		s.events = repository.NewPostgresEventStore(c.postgres, local, config.LockTimeout, clock)
	default:
		err = unsupported("events", config.Backends.Events)
	}
	if err != nil {
		return nil, err
	}

	switch config.Backends.Results {
	case configuration.Memory:
		s.results, err = repository.NewMemoryResultStore()
	case configuration.Postgres:
		s.results = repository.NewPostgresResultStore(c.postgres)
	default:
		err = unsupported("results", config.Backends.Results)
	}
	if err != nil {
		return nil, err
	}

	switch config.Backends.Sessions {
	case configuration.Memory:
		s.sessions, err = repository.NewMemorySessionService(clock)
	case configuration.Redis:
		s.sessions = repository.NewRedisSessionService(c.redis, prefix, clock)
	default:
		err = unsupported("sessions", config.Backends.Sessions)
	}
	if err != nil {
		return nil, err
	}

	switch config.Backends.Coordination {
	case configuration.Memory:
		s.states = repository.NewMemoryRunStateStore()
		s.drivers = repository.NewMemoryDriverRegistry(config.DriverTimeout)
	case configuration.Redis:
		s.states = repository.NewRedisRunStateStore(c.redis, prefix)
		s.drivers = repository.NewRedisDriverRegistry(c.redis, prefix, config.DriverTimeout, clock)
	default:
		return nil, unsupported("coordination", config.Backends.Coordination)
	}
	return s, nil
}

func unsupported(store string, backend configuration.Backend) error {
	return errors.Errorf("backend %q is not supported for %s", backend, store)
}

// pingTimeout bounds health checks against the shared backends.
const pingTimeout = 5 * time.Second
