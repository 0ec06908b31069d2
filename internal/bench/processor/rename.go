package processor

import (
	"context"

	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

// Rename hands the payload of an event on to an event with a different name.
type Rename struct {
	outputEventName string
	clock           util.Clock
}

func NewRename(outputEventName string, clock util.Clock) (*Rename, error) {
	if outputEventName == "" {
		return nil, errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "outputEventName",
			Value:   outputEventName,
			Message: "output event name must be non-empty",
		})
	}
	return &Rename{outputEventName: outputEventName, clock: clock}, nil
}

func (p *Rename) Options() Options {
	return DefaultOptions()
}

func (p *Rename) Process(_ context.Context, e *event.Event, _ *Timer) (*event.EventResult, error) {
	next := event.New(p.outputEventName, p.clock.Now(), e.Data)
	next.DataLocal = e.DataLocal
	return event.NewResult("Transfered data to event "+p.outputEventName, next), nil
}
