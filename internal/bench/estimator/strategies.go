package estimator

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/eventbench/internal/bench/repository"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
)

// NewEventCount is complete once expected results for eventName have been recorded.
func NewEventCount(
	events repository.EventStore,
	results repository.ResultStore,
	eventName string,
	expected int64,
	options Options,
) *Base {
	return newBase("eventCount", events, results, func(ctx context.Context) (float64, error) {
		if expected <= 0 {
			return 1.0, nil
		}
		count, err := results.CountResultsByEventName(ctx, eventName)
		if err != nil {
			return 0, err
		}
		if count > expected {
			log.Warnf("The number of results for event %s exceeds the target: %d exceeds %d", eventName, count, expected)
			count = expected
		}
		return float64(count) / float64(expected), nil
	}, options)
}

// NewSessionCount is complete once expected sessions have ended.
func NewSessionCount(
	events repository.EventStore,
	results repository.ResultStore,
	sessions repository.SessionService,
	expected int64,
	options Options,
) *Base {
	return newBase("sessionCount", events, results, func(ctx context.Context) (float64, error) {
		if expected <= 0 {
			return 1.0, nil
		}
		completed, err := sessions.CompletedSessionsCount(ctx)
		if err != nil {
			return 0, err
		}
		if completed > expected {
			log.Warnf("The number of sessions exceeds the target: %d exceeds %d", completed, expected)
			completed = expected
		}
		return float64(completed) / float64(expected), nil
	}, options)
}

// NewElapsedTime measures the time since the first result against duration, in units named by
// unit, e.g. "MINUTES". Unknown units are taken to be milliseconds.
func NewElapsedTime(
	events repository.EventStore,
	results repository.ResultStore,
	unit string,
	duration int64,
	options Options,
) *Base {
	total := time.Duration(duration) * ParseTimeUnit(unit)
	options = options.withDefaults()
	return newBase("elapsedTime", events, results, func(ctx context.Context) (float64, error) {
		first, err := results.GetFirstResult(ctx)
		if err != nil {
			return 0, err
		}
		if first == nil {
			return 0, nil
		}
		if total <= 0 {
			return 1.0, nil
		}
		elapsed := options.Clock.Now().Sub(first.StartTime)
		ratio := float64(elapsed) / float64(total)
		log.Debugf("Test run is %3.2f%% complete", ratio*100)
		return ratio, nil
	}, options)
}

// NewUnknown is complete once there are results and nothing left in the queue.
func NewUnknown(events repository.EventStore, results repository.ResultStore, options Options) *Base {
	return newBase("unknown", events, results, func(ctx context.Context) (float64, error) {
		count, err := results.CountResults(ctx)
		if err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, nil
		}
		queued, err := events.Count(ctx)
		if err != nil {
			return 0, err
		}
		if queued == 0 {
			return 1.0, nil
		}
		return 0, nil
	}, options)
}

// NewCompound reports the most advanced of estimators, so the run ends when any of them completes.
func NewCompound(
	events repository.EventStore,
	results repository.ResultStore,
	estimators []CompletionEstimator,
	options Options,
) (*Base, error) {
	if len(estimators) == 0 {
		return nil, errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "estimators",
			Value:   len(estimators),
			Message: "no estimators provided",
		})
	}
	return newBase("compound", events, results, func(ctx context.Context) (float64, error) {
		max := 0.0
		for _, e := range estimators {
			if c := e.Completion(); c > max {
				max = c
			}
		}
		return max, nil
	}, options), nil
}

var timeUnits = map[string]time.Duration{
	"NANOSECONDS":  time.Nanosecond,
	"MICROSECONDS": time.Microsecond,
	"MILLISECONDS": time.Millisecond,
	"SECONDS":      time.Second,
	"MINUTES":      time.Minute,
	"HOURS":        time.Hour,
	"DAYS":         24 * time.Hour,
}

// ParseTimeUnit returns the length of one unit, defaulting to a millisecond.
func ParseTimeUnit(unit string) time.Duration {
	if d, ok := timeUnits[strings.ToUpper(strings.TrimSpace(unit))]; ok {
		return d
	}
	return time.Millisecond
}
