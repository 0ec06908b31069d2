// Package estimator translates queue and result state into a completion ratio for a run.
package estimator

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/eventbench/internal/bench/repository"
	"github.com/G-Research/eventbench/internal/common/util"
)

const DefaultCheckPeriod = 5 * time.Second

type CompletionEstimator interface {
	// Completion is between 0 and 1, except for estimators based on elapsed time which may overshoot.
	Completion() float64
	IsStarted() bool
	IsCompleted() bool
	ResultsSuccess() int64
	ResultsFail() int64
}

type Options struct {
	CheckPeriod time.Duration
	Clock       util.Clock
}

func (o Options) withDefaults() Options {
	if o.CheckPeriod <= 0 {
		o.CheckPeriod = DefaultCheckPeriod
	}
	if o.Clock == nil {
		o.Clock = &util.DefaultClock{}
	}
	return o
}

type completionFunc func(ctx context.Context) (float64, error)

// Base caches the result counts and completion of a strategy, refreshing them at most once per
// check period. When a fresh estimate does not move past the previous one but the queue is empty
// and results exist, the run is taken to be complete.
type Base struct {
	name       string
	events     repository.EventStore
	results    repository.ResultStore
	completion completionFunc
	options    Options

	mu             sync.Mutex
	lastCheck      time.Time
	checked        bool
	cached         float64
	resultsSuccess int64
	resultsFail    int64
}

func newBase(name string, events repository.EventStore, results repository.ResultStore, completion completionFunc, options Options) *Base {
	return &Base{
		name:       name,
		events:     events,
		results:    results,
		completion: completion,
		options:    options.withDefaults(),
	}
}

func (b *Base) Completion() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.cached
}

func (b *Base) IsStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.resultsSuccess > 0 || b.resultsFail > 0
}

func (b *Base) IsCompleted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.cached >= 1.0
}

func (b *Base) ResultsSuccess() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.resultsSuccess
}

func (b *Base) ResultsFail() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.resultsFail
}

func (b *Base) refresh() {
	now := b.options.Clock.Now()
	if b.checked && now.Sub(b.lastCheck) < b.options.CheckPeriod {
		return
	}
	b.checked = true
	b.lastCheck = now

	ctx := context.Background()
	logger := log.WithField("estimator", b.name)
	success, err := b.results.CountResultsBySuccess(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to count successful results")
		return
	}
	fail, err := b.results.CountResultsByFailure(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to count failed results")
		return
	}
	completion, err := b.completion(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to estimate completion")
		return
	}
	if completion <= b.cached && success+fail > 0 {
		count, err := b.events.Count(ctx)
		if err != nil {
			logger.WithError(err).Warn("Failed to count queued events")
		} else if count == 0 {
			completion = 1.0
		}
	}
	b.resultsSuccess = success
	b.resultsFail = fail
	b.cached = completion
}
