package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

const (
	DefaultRaiseEventsBatchSize = 1000
	DefaultRaiseEventsName      = "raiseEvents"
)

type RaiseEventsConfig struct {
	// OutputEventName is the name of the events raised.
	OutputEventName string
	// Count is the total number of events raised over all batches.
	Count int
	// TimeBetweenEvents spaces the scheduled times of consecutive events.
	TimeBetweenEvents time.Duration
	// BatchSize caps the events raised per invocation; the processor reschedules itself for the rest.
	BatchSize int
	// SelfEventName is the name the continuation event is raised under.
	SelfEventName string
}

type raiseEventsProgress struct {
	Raised        int   `json:"raised"`
	LastEventTime int64 `json:"lastEventTime"`
}

// RaiseEvents schedules a fixed number of events spaced in time, a batch at a time.
type RaiseEvents struct {
	config RaiseEventsConfig
	clock  util.Clock
}

func NewRaiseEvents(config RaiseEventsConfig, clock util.Clock) (*RaiseEvents, error) {
	if config.OutputEventName == "" {
		return nil, errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "OutputEventName",
			Value:   config.OutputEventName,
			Message: "output event name must be non-empty",
		})
	}
	if config.Count < 0 {
		return nil, errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "Count",
			Value:   config.Count,
			Message: "count must not be negative",
		})
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultRaiseEventsBatchSize
	}
	if config.SelfEventName == "" {
		config.SelfEventName = DefaultRaiseEventsName
	}
	return &RaiseEvents{config: config, clock: clock}, nil
}

func (p *RaiseEvents) Options() Options {
	return DefaultOptions()
}

func (p *RaiseEvents) Process(_ context.Context, e *event.Event, _ *Timer) (*event.EventResult, error) {
	progress := raiseEventsProgress{LastEventTime: util.MillisSinceEpoch(p.clock.Now())}
	if e.Data != nil {
		if err := event.DecodeData(e.Data, &progress); err != nil {
			return event.NewFailedResult("The event processor takes no initial input."), nil
		}
	}

	capacity := p.config.BatchSize
	if remaining := p.config.Count - progress.Raised; remaining < capacity {
		capacity = remaining
	}
	if capacity < 0 {
		capacity = 0
	}
	next := make([]*event.Event, 0, capacity+1)
	scheduled := util.FromMillis(progress.LastEventTime)
	raised := 0
	for progress.Raised < p.config.Count && raised < p.config.BatchSize {
		raised++
		progress.Raised++
		scheduled = scheduled.Add(p.config.TimeBetweenEvents)
		next = append(next, event.New(p.config.OutputEventName, scheduled, nil))
	}

	if progress.Raised < p.config.Count {
		progress.LastEventTime = util.MillisSinceEpoch(scheduled)
		next = append(next, event.New(p.config.SelfEventName, scheduled, progress))
	}

	return event.NewResult(fmt.Sprintf("Scheduled %3d events named %s.", raised, p.config.OutputEventName), next...), nil
}
