package processor

import (
	"context"

	"github.com/G-Research/eventbench/internal/bench/event"
)

// DiscardName is reported as the processor of events nobody registered a processor for.
const DiscardName = "discard"

type discard struct{}

// Discard does nothing and publishes nothing. Events without a registered processor go here.
var Discard Processor = discard{}

func (discard) Options() Options {
	return DefaultOptions()
}

func (discard) Process(_ context.Context, e *event.Event, _ *Timer) (*event.EventResult, error) {
	return event.NewResult("No processor registered for event " + e.Name + "; discarded"), nil
}
