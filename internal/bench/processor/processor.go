package processor

import (
	"context"
	"math"
	"time"

	"github.com/G-Research/eventbench/internal/bench/event"
)

// Processor executes one event. Events are delivered at least once: a driver that dies
// mid-event leaves the event locked until the lock expires, after which another driver
// processes it again. Implementations must therefore be idempotent.
type Processor interface {
	Options() Options
	// Process returns the outcome and the events to publish next. A returned error is
	// recorded as a failed result; nothing is published for the event.
	Process(ctx context.Context, e *event.Event, timer *Timer) (*event.EventResult, error)
}

type Options struct {
	// WarnDelay attaches a warning to records whose processing took longer.
	WarnDelay time.Duration
	// Chart marks records for inclusion in charts.
	Chart bool
	// AutoPropagateSessionId copies the session id to the next event when there is exactly one.
	AutoPropagateSessionId bool
	// AutoCloseSessionId ends the session when an event fails or does not hand its session on.
	AutoCloseSessionId bool
}

func DefaultOptions() Options {
	return Options{
		WarnDelay:              time.Duration(math.MaxInt64),
		Chart:                  true,
		AutoPropagateSessionId: true,
		AutoCloseSessionId:     true,
	}
}

// Func adapts a function to a Processor.
type Func func(ctx context.Context, e *event.Event, timer *Timer) (*event.EventResult, error)

type funcProcessor struct {
	options Options
	process Func
}

func NewFunc(options Options, f Func) Processor {
	return &funcProcessor{options: options, process: f}
}

func (p *funcProcessor) Options() Options {
	return p.options
}

func (p *funcProcessor) Process(ctx context.Context, e *event.Event, timer *Timer) (*event.EventResult, error) {
	return p.process(ctx, e, timer)
}
