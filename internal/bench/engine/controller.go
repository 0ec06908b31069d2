package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/semaphore"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/bench/processor"
)

const (
	staleDriverCacheSize = 1024

	claimOwn   = "own"
	claimStale = "stale"
	claimEmpty = "empty"
)

// Controller is the event loop of one driver in one run. It claims events at the configured
// rate and hands them to a bounded pool of workers; when every worker is busy the event runs
// on the controller goroutine itself, which throttles claiming.
type Controller struct {
	driverId string
	config   Config
	services *Services
	workers  *semaphore.Weighted

	mu        sync.RWMutex
	driverIds []string
	running   bool
	stop      chan struct{}
	done      chan struct{}

	// Event names without a processor are reported once per run. Their number is bounded by the
	// names the processors and producers raise, so the set never evicts.
	unmappedNames *cache.Cache
	// Drivers leaving stale events are reported once while they stay among the most recent
	// staleDriverCacheSize offenders.
	staleDrivers *lru.Cache

	drainedOnce sync.Once
	drained     chan struct{}
	onDrained   func()

	// Non-zero while the controller goroutine processes an event itself.
	runningInline int32
}

func NewController(driverId string, config Config, services *Services) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.RestartBackoff <= 0 {
		config.RestartBackoff = DefaultConfig().RestartBackoff
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	staleDrivers, err := lru.New(staleDriverCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Controller{
		driverId:      driverId,
		config:        config,
		services:      services,
		workers:       semaphore.NewWeighted(int64(config.ThreadCount)),
		driverIds:     []string{driverId},
		unmappedNames: cache.New(cache.NoExpiration, 0),
		staleDrivers:  staleDrivers,
		drained:       make(chan struct{}),
	}, nil
}

// OnDrained registers a function called once the run has started and the queue is empty.
// It runs on its own goroutine and must be registered before Start.
func (c *Controller) OnDrained(f func()) {
	c.onDrained = f
}

// Drained is closed once the run has started and the queue is empty.
func (c *Controller) Drained() <-chan struct{} {
	return c.drained
}

// SetDriverIds replaces the drivers that next events are spread across.
func (c *Controller) SetDriverIds(driverIds []string) {
	ids := slices.Clone(driverIds)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.driverIds = ids
}

func (c *Controller) DriverIds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.driverIds
}

func (c *Controller) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.Errorf("event controller for driver %s is already running", c.driverId)
	}
	if c.done != nil {
		return errors.Errorf("event controller for driver %s has been stopped", c.driverId)
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run()
	return nil
}

// Stop ends the loop and waits for in-flight events up to the shutdown timeout.
// Called from an event the controller is processing itself, it only ends the loop:
// the loop finishes once that event returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	if atomic.LoadInt32(&c.runningInline) != 0 {
		log.Debugf("Event controller for driver %s stopped while processing an event inline", c.driverId)
		return
	}
	<-c.done

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ShutdownTimeout)
	defer cancel()
	if err := c.workers.Acquire(ctx, int64(c.config.ThreadCount)); err != nil {
		log.Warnf("Event processing for driver %s did not finish within %s", c.driverId, c.config.ShutdownTimeout)
		return
	}
	c.workers.Release(int64(c.config.ThreadCount))
}

func (c *Controller) run() {
	defer close(c.done)
	for c.IsRunning() {
		err := c.runGuarded()
		if err == nil || !c.IsRunning() {
			continue
		}
		log.WithError(err).Errorf("Event controller for driver %s failed; restarting in %s", c.driverId, c.config.RestartBackoff)
		c.services.RunLog.Logf(log.ErrorLevel, "Event controller failed; attempting a restart: %+v", err)
		c.services.Metrics.recordControllerError()
		c.sleep(c.config.RestartBackoff)
	}
}

func (c *Controller) runGuarded() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("event controller panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return c.runLoop()
}

func (c *Controller) runLoop() error {
	ctx := context.Background()
	msg := fmt.Sprintf("Event processing started by driver %s (%.0f events per second using %d threads)",
		c.driverId, c.config.eventsPerSecond(), c.config.ThreadCount)
	log.Info(msg)
	c.services.RunLog.Info(msg)

	started := c.services.Clock.Now()
	searches := int64(0)
	for c.IsRunning() {
		now := c.services.Clock.Now()
		allowed := int64(now.Sub(started).Seconds() * c.config.eventsPerSecond())
		if searches >= allowed {
			c.sleep(c.config.searchInterval())
			continue
		}
		searches++

		e, err := c.claim(ctx, now)
		if err != nil {
			return err
		}
		if e == nil {
			if err := c.handleEmptyQueue(ctx); err != nil {
				return err
			}
			continue
		}
		c.dispatch(ctx, e)
	}
	return nil
}

// claim looks for events due for this driver first, then for events other drivers failed
// to take within the grace period.
func (c *Controller) claim(ctx context.Context, now time.Time) (*event.Event, error) {
	e, err := c.services.Events.ClaimNext(ctx, c.driverId, now)
	if err != nil {
		return nil, err
	}
	if e != nil {
		c.services.Metrics.recordClaim(claimOwn)
		return e, nil
	}
	e, err = c.services.Events.ClaimNext(ctx, "", now.Add(-c.config.AssignedEventGracePeriod))
	if err != nil {
		return nil, err
	}
	if e == nil {
		c.services.Metrics.recordClaim(claimEmpty)
		return nil, nil
	}
	c.services.Metrics.recordClaim(claimStale)
	if e.Driver != "" && e.Driver != c.driverId {
		if found, _ := c.staleDrivers.ContainsOrAdd(e.Driver, true); !found {
			msg := fmt.Sprintf("Driver %s is leaving stale events. Check server load.", e.Driver)
			log.Error(msg)
			c.services.RunLog.Warn(msg)
		}
	}
	return e, nil
}

// handleEmptyQueue starts the run if it was never started and otherwise reports it drained.
func (c *Controller) handleEmptyQueue(ctx context.Context) error {
	count, err := c.services.Events.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	startRecords, err := c.services.Results.GetResultsByEventName(ctx, event.StartEventName, 0, 1)
	if err != nil {
		return err
	}
	if len(startRecords) > 0 {
		c.drainedOnce.Do(func() {
			log.Infof("Event queue drained for driver %s", c.driverId)
			close(c.drained)
			if c.onDrained != nil {
				go c.onDrained()
			}
		})
		return nil
	}
	// Only one start event can ever be stored, so losing the race to another driver is fine.
	if _, err := c.services.Events.Put(ctx, event.NewStart(time.Time{})); err != nil {
		log.WithError(err).Debug("Did not insert the start event")
	}
	return nil
}

func (c *Controller) dispatch(ctx context.Context, e *event.Event) {
	work := c.newWork(e)
	if c.workers.TryAcquire(1) {
		go func() {
			defer c.workers.Release(1)
			work.Run(ctx)
		}()
		return
	}
	log.Warnf("All %d workers of driver %s are busy; processing event %s on the controller", c.config.ThreadCount, c.driverId, e.Name)
	c.services.RunLog.Warn("All event workers are busy; are there enough drivers to handle the event load?")
	c.services.Metrics.recordCallerRuns()
	atomic.StoreInt32(&c.runningInline, 1)
	defer atomic.StoreInt32(&c.runningInline, 0)
	work.Run(ctx)
}

func (c *Controller) newWork(e *event.Event) *Work {
	p, ok := c.services.Processors.Get(e.Name)
	name := e.Name
	if !ok {
		p = processor.Discard
		name = processor.DiscardName
		if c.unmappedNames.Add(e.Name, struct{}{}, cache.NoExpiration) == nil {
			msg := fmt.Sprintf("No processor mapped to event %s; such events will be discarded", e.Name)
			log.Warn(msg)
			c.services.RunLog.Warn(msg)
		}
	}
	return NewWork(c.driverId, e, p, name, c.DriverIds(), c.services)
}

// sleep waits for d or until the controller is stopped.
func (c *Controller) sleep(d time.Duration) {
	c.mu.RLock()
	stop := c.stop
	c.mu.RUnlock()
	select {
	case <-time.After(d):
	case <-stop:
	}
}
