package processor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/util"
)

// Sleep simulates work taking a fixed time, then optionally raises outputEventName
// carrying the payload of the event it processed.
type Sleep struct {
	duration        time.Duration
	outputEventName string
	clock           util.Clock
}

func NewSleep(duration time.Duration, outputEventName string, clock util.Clock) *Sleep {
	return &Sleep{duration: duration, outputEventName: outputEventName, clock: clock}
}

func (p *Sleep) Options() Options {
	return DefaultOptions()
}

func (p *Sleep) Process(ctx context.Context, e *event.Event, _ *Timer) (*event.EventResult, error) {
	select {
	case <-time.After(p.duration):
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
	if p.outputEventName == "" {
		return event.NewResult("Slept for " + p.duration.String()), nil
	}
	next := event.New(p.outputEventName, p.clock.Now(), e.Data)
	next.DataLocal = e.DataLocal
	return event.NewResult("Slept for "+p.duration.String(), next), nil
}
