package engine

import (
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
)

type Config struct {
	ThreadCount              int
	EventsPerSecondPerThread float64
	// AssignedEventGracePeriod is how long an event pinned to another driver waits before
	// this driver may take it.
	AssignedEventGracePeriod time.Duration
	RestartBackoff           time.Duration
	ShutdownTimeout          time.Duration
}

func DefaultConfig() Config {
	return Config{
		ThreadCount:              4,
		EventsPerSecondPerThread: 2,
		AssignedEventGracePeriod: 5 * time.Second,
		RestartBackoff:           5 * time.Second,
		ShutdownTimeout:          30 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.ThreadCount <= 0 {
		return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "ThreadCount",
			Value:   c.ThreadCount,
			Message: "must be greater than zero",
		})
	}
	if c.EventsPerSecondPerThread <= 0 {
		return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "EventsPerSecondPerThread",
			Value:   c.EventsPerSecondPerThread,
			Message: "must be greater than zero",
		})
	}
	if c.AssignedEventGracePeriod < 0 {
		return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "AssignedEventGracePeriod",
			Value:   c.AssignedEventGracePeriod,
			Message: "must not be negative",
		})
	}
	return nil
}

func (c Config) eventsPerSecond() float64 {
	return float64(c.ThreadCount) * c.EventsPerSecondPerThread
}

// searchInterval halves the mean time between searches, with a floor of 10ms.
func (c Config) searchInterval() time.Duration {
	interval := time.Duration(float64(time.Second) / c.eventsPerSecond() / 2)
	if interval < 10*time.Millisecond {
		return 10 * time.Millisecond
	}
	return interval
}
