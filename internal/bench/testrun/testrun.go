// Package testrun drives the lifecycle of a run on one driver: it starts the event controller
// once the run is due, watches the completion estimate and stops the controller when the run
// ends. All drivers share the persisted run state, so any of them may advance it.
package testrun

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/eventbench/internal/bench/estimator"
	"github.com/G-Research/eventbench/internal/bench/repository"
	"github.com/G-Research/eventbench/internal/bench/runlog"
	"github.com/G-Research/eventbench/internal/common/util"
)

// Controller is the part of the event controller the run lifecycle needs.
type Controller interface {
	Start() error
	Stop()
	IsRunning() bool
	SetDriverIds(driverIds []string)
	Drained() <-chan struct{}
}

type ControllerFactory func() (Controller, error)

type TestRun struct {
	runId         string
	driverId      string
	states        repository.RunStateStore
	drivers       repository.DriverRegistry
	estimator     estimator.CompletionEstimator
	newController ControllerFactory
	runLog        *runlog.Service
	clock         util.Clock

	mu         sync.Mutex
	controller Controller
	unwatch    chan struct{}
}

func New(
	runId string,
	driverId string,
	states repository.RunStateStore,
	drivers repository.DriverRegistry,
	completion estimator.CompletionEstimator,
	newController ControllerFactory,
	runLog *runlog.Service,
	clock util.Clock,
) *TestRun {
	return &TestRun{
		runId:         runId,
		driverId:      driverId,
		states:        states,
		drivers:       drivers,
		estimator:     completion,
		newController: newController,
		runLog:        runLog,
		clock:         clock,
	}
}

func (r *TestRun) RunId() string {
	return r.runId
}

// State returns the persisted state; runs never scheduled are NOT_SCHEDULED.
func (r *TestRun) State(ctx context.Context) (TestRunState, error) {
	state, _, err := r.load(ctx)
	return state, err
}

// Schedule moves the run to SCHEDULED, replacing any earlier start time. The start time is
// stored with the state, so the run starts with the first Ping at or after at on any driver.
func (r *TestRun) Schedule(ctx context.Context, at time.Time) error {
	current, raw, err := r.load(ctx)
	if err != nil {
		return err
	}
	if _, err := current.Transition(Scheduled); err != nil {
		return err
	}
	ok, err := r.schedule(ctx, current, raw, at)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("state of run %s changed while scheduling it", r.runId)
	}
	return nil
}

// ScheduleIfNotScheduled schedules a run nobody has scheduled yet and reports whether this call did.
// Drivers joining a run that is already scheduled keep the start time chosen by the first one.
func (r *TestRun) ScheduleIfNotScheduled(ctx context.Context, at time.Time) (bool, error) {
	current, raw, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	if current != NotScheduled {
		return false, nil
	}
	return r.schedule(ctx, current, raw, at)
}

func (r *TestRun) schedule(ctx context.Context, current TestRunState, raw string, at time.Time) (bool, error) {
	ok, err := r.states.CompareAndSetSchedule(ctx, r.runId, raw, string(Scheduled), at)
	if err != nil || !ok {
		return false, err
	}
	log.Infof("Run %s moved from %s to %s", r.runId, current, Scheduled)
	r.runLog.Infof("Test run scheduled for %s", at.Format(time.RFC3339))
	return true, nil
}

func (r *TestRun) Unschedule(ctx context.Context) error {
	return r.transition(ctx, NotScheduled)
}

func (r *TestRun) Stop(ctx context.Context) error {
	if err := r.transition(ctx, Stopped); err != nil {
		return err
	}
	r.stopController()
	r.runLog.Info("Test run stopped")
	return nil
}

// Ping brings this driver in line with the persisted run state. It is called periodically.
func (r *TestRun) Ping(ctx context.Context) error {
	if err := r.drivers.Register(ctx, r.driverId); err != nil {
		log.WithError(err).Warnf("Failed to register heartbeat of driver %s", r.driverId)
	}

	state, err := r.State(ctx)
	if err != nil {
		return err
	}
	switch state {
	case Scheduled:
		at, err := r.states.GetScheduledTime(ctx, r.runId)
		if err != nil {
			return err
		}
		if at.After(r.clock.Now()) {
			return nil
		}
		if err := r.startController(); err != nil {
			r.runLog.Errorf("Test run failed to start: %v", err)
			// Runs can only be stopped once started.
			return multiple(err, r.transition(ctx, Started), r.transition(ctx, Stopped))
		}
		if err := r.transition(ctx, Started); err != nil {
			return err
		}
		r.runLog.Info("Test run started")
		return r.refreshDrivers(ctx)
	case Started:
		if err := r.startController(); err != nil {
			return err
		}
		if err := r.refreshDrivers(ctx); err != nil {
			return err
		}
		return r.checkCompletion(ctx)
	case Stopped, Completed:
		r.stopController()
	}
	return nil
}

// Close stops the controller and withdraws this driver from the run.
func (r *TestRun) Close(ctx context.Context) error {
	r.stopController()
	return r.drivers.Unregister(ctx, r.driverId)
}

func (r *TestRun) checkCompletion(ctx context.Context) error {
	if !r.estimator.IsCompleted() {
		return nil
	}
	if err := r.transition(ctx, Completed); err != nil {
		return err
	}
	r.stopController()
	r.runLog.Infof("Test run completed with %d successful and %d failed results",
		r.estimator.ResultsSuccess(), r.estimator.ResultsFail())
	return nil
}

func (r *TestRun) refreshDrivers(ctx context.Context) error {
	drivers, err := r.drivers.ActiveDrivers(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	controller := r.controller
	r.mu.Unlock()
	if controller != nil && len(drivers) > 0 {
		controller.SetDriverIds(drivers)
	}
	return nil
}

// startController starts a controller unless one is running already.
func (r *TestRun) startController() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.controller != nil && r.controller.IsRunning() {
		return nil
	}
	controller, err := r.newController()
	if err != nil {
		return err
	}
	if err := controller.Start(); err != nil {
		return err
	}
	r.controller = controller
	r.unwatch = make(chan struct{})
	go r.watchDrained(controller, r.unwatch)
	return nil
}

// watchDrained checks for completion as soon as the queue drains rather than at the next Ping.
func (r *TestRun) watchDrained(controller Controller, unwatch chan struct{}) {
	select {
	case <-controller.Drained():
		if err := r.checkCompletion(context.Background()); err != nil {
			log.WithError(err).Warnf("Failed to check completion of run %s", r.runId)
		}
	case <-unwatch:
	}
}

func (r *TestRun) stopController() {
	r.mu.Lock()
	controller := r.controller
	unwatch := r.unwatch
	r.controller = nil
	r.unwatch = nil
	r.mu.Unlock()
	if controller == nil {
		return
	}
	close(unwatch)
	controller.Stop()
}

func (r *TestRun) load(ctx context.Context) (TestRunState, string, error) {
	raw, err := r.states.GetState(ctx, r.runId)
	if err != nil {
		return "", "", err
	}
	if raw == "" {
		return NotScheduled, raw, nil
	}
	state, err := ParseTestRunState(raw)
	return state, raw, err
}

func (r *TestRun) transition(ctx context.Context, to TestRunState) error {
	current, raw, err := r.load(ctx)
	if err != nil {
		return err
	}
	next, err := current.Transition(to)
	if err != nil {
		return err
	}
	if next == current && raw != "" {
		return nil
	}
	ok, err := r.states.CompareAndSetState(ctx, r.runId, raw, string(next))
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("state of run %s changed while moving from %s to %s", r.runId, current, next)
	}
	log.Infof("Run %s moved from %s to %s", r.runId, current, next)
	return nil
}

func multiple(errs ...error) error {
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
