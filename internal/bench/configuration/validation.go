package configuration

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	commonconfig "github.com/G-Research/eventbench/internal/common/config"
)

// Validate checks struct tags first and then the constraints spanning several fields.
func (c DriverConfig) Validate() error {
	if err := commonconfig.Validate(c); err != nil {
		return err
	}
	var result *multierror.Error
	if err := c.Engine.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.UsesRedis() && len(c.Redis.Addrs) == 0 {
		result = multierror.Append(result, invalid("Redis.Addrs", c.Redis.Addrs, "redis backends need at least one address"))
	}
	if c.UsesPostgres() && len(c.Postgres.Connection) == 0 {
		result = multierror.Append(result, invalid("Postgres.Connection", c.Postgres.Connection, "postgres backends need connection settings"))
	}
	if c.Backends.Coordination == Memory && (c.Backends.Events != Memory || c.Backends.Results != Memory) {
		result = multierror.Append(result, invalid("Backends.Coordination", c.Backends.Coordination,
			"drivers sharing a queue must share the run state"))
	}
	if c.RunLog.NatsUrl != "" && c.RunLog.NatsSubject == "" {
		result = multierror.Append(result, invalid("RunLog.NatsSubject", c.RunLog.NatsSubject, "a subject is needed to publish to nats"))
	}
	if c.StartDelay < 0 {
		result = multierror.Append(result, invalid("StartDelay", c.StartDelay, "must not be negative"))
	}
	return result.ErrorOrNil()
}

func invalid(name string, value interface{}, message string) error {
	return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{Name: name, Value: value, Message: message})
}
