package processor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

// RaiseSingleEvent publishes one event with a fixed name, payload and delay.
type RaiseSingleEvent struct {
	outputEventName string
	delay           time.Duration
	data            interface{}
	clock           util.Clock
}

func NewRaiseSingleEvent(outputEventName string, delay time.Duration, data interface{}, clock util.Clock) (*RaiseSingleEvent, error) {
	if outputEventName == "" {
		return nil, errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "outputEventName",
			Value:   outputEventName,
			Message: "output event name must be non-empty",
		})
	}
	return &RaiseSingleEvent{outputEventName: outputEventName, delay: delay, data: data, clock: clock}, nil
}

func (p *RaiseSingleEvent) Options() Options {
	return DefaultOptions()
}

func (p *RaiseSingleEvent) Process(_ context.Context, _ *event.Event, _ *Timer) (*event.EventResult, error) {
	next := event.New(p.outputEventName, p.clock.Now().Add(p.delay), p.data)
	return event.NewResult("Raised event "+p.outputEventName, next), nil
}
