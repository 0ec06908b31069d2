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

const DefaultBarrierCheckInterval = time.Second

type ResultCounter interface {
	CountResultsByEventName(ctx context.Context, eventName string) (int64, error)
}

// ResultBarrier holds back NextEventName until CountEventName has at least ExpectedCount results,
// re-checking every CheckInterval. Re-checks are raised under selfEventName, or under the name of
// the processed event when that is empty.
type ResultBarrier struct {
	countEventName string
	expectedCount  int64
	nextEventName  string
	selfEventName  string
	checkInterval  time.Duration
	results        ResultCounter
	clock          util.Clock
}

func NewResultBarrier(
	countEventName string,
	expectedCount int64,
	nextEventName string,
	selfEventName string,
	checkInterval time.Duration,
	results ResultCounter,
	clock util.Clock,
) (*ResultBarrier, error) {
	if countEventName == "" || nextEventName == "" {
		return nil, errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "eventName",
			Value:   countEventName + "/" + nextEventName,
			Message: "count and next event names must be non-empty",
		})
	}
	if checkInterval <= 0 {
		checkInterval = DefaultBarrierCheckInterval
	}
	return &ResultBarrier{
		countEventName: countEventName,
		expectedCount:  expectedCount,
		nextEventName:  nextEventName,
		selfEventName:  selfEventName,
		checkInterval:  checkInterval,
		results:        results,
		clock:          clock,
	}, nil
}

func (p *ResultBarrier) Options() Options {
	options := DefaultOptions()
	options.Chart = false
	return options
}

func (p *ResultBarrier) Process(ctx context.Context, e *event.Event, _ *Timer) (*event.EventResult, error) {
	count, err := p.results.CountResultsByEventName(ctx, p.countEventName)
	if err != nil {
		return nil, err
	}
	now := p.clock.Now()
	if count < p.expectedCount {
		self := p.selfEventName
		if self == "" {
			self = e.Name
		}
		reschedule := event.New(self, now.Add(p.checkInterval), nil)
		return event.NewResult(
			fmt.Sprintf("Not enough results for '%s' (%d/%d), barrier not releasing", p.countEventName, count, p.expectedCount),
			reschedule,
		), nil
	}
	return event.NewResult(
		fmt.Sprintf("Enough results for '%s', barrier released", p.countEventName),
		event.New(p.nextEventName, now, nil),
	), nil
}
