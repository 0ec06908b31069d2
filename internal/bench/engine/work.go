package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/bench/processor"
	"github.com/G-Research/eventbench/internal/bench/selector"
	"github.com/G-Research/eventbench/internal/common/util"
)

const driverWeight = 100

// Work processes one claimed event: it runs the processor, records the result, publishes the
// next events and finally removes the claimed event from the queue. Nothing escapes Run;
// every failure is logged and the remaining steps still run.
type Work struct {
	driverId      string
	event         *event.Event
	processor     processor.Processor
	processorName string
	driverIds     []string
	services      *Services
}

func NewWork(
	driverId string,
	e *event.Event,
	p processor.Processor,
	processorName string,
	driverIds []string,
	services *Services,
) *Work {
	return &Work{
		driverId:      driverId,
		event:         e,
		processor:     p,
		processorName: processorName,
		driverIds:     driverIds,
		services:      services,
	}
}

func (w *Work) Run(ctx context.Context) {
	clock := w.services.Clock
	options := w.processor.Options()
	logger := log.WithField("eventName", w.event.Name).WithField("eventId", w.event.Id)

	startTime := clock.Now()
	timer := processor.NewTimer(clock)
	result, failed := w.process(ctx, timer)
	duration := timer.Elapsed()

	sessionEnded := false
	if failed && w.event.SessionId != "" && options.AutoCloseSessionId {
		w.endSession(ctx, logger)
		sessionEnded = true
	}

	record := &event.EventRecord{
		Id:          util.NewULID(),
		DriverId:    w.driverId,
		Success:     result.Success,
		StartTime:   startTime,
		StartDelay:  event.StartDelayOf(w.event, startTime),
		Duration:    duration,
		Data:        result.Data,
		Event:       w.event,
		ProcessedBy: w.processorName,
		Chart:       options.Chart,
	}
	if duration > options.WarnDelay {
		record.Warning = fmt.Sprintf(
			"Event processing exceeded warning threshold by %dms.",
			(duration - options.WarnDelay).Milliseconds())
	}
	if err := w.services.Results.RecordResult(ctx, record); err != nil {
		logger.WithError(err).Error("Failed to record result")
		w.services.RunLog.Logf(log.ErrorLevel, "Failed to record a result for event %s: %+v", w.event, err)
	}
	w.services.Metrics.recordProcessed(w.event.Name, record.Success, duration.Seconds(), record.StartDelay.Seconds())

	nextEvents, err := w.services.Producers.Expand(result.NextEvents)
	if err != nil {
		logger.WithError(err).Error("Failed to produce next events; nothing will be published")
		w.services.RunLog.Logf(log.ErrorLevel, "Failed to produce the events following %s: %v", w.event, err)
		nextEvents = nil
	}

	propagateSessionId := w.event.SessionId != "" && options.AutoPropagateSessionId
	if w.event.SessionId != "" && len(nextEvents) != 1 && options.AutoCloseSessionId {
		if !sessionEnded {
			w.endSession(ctx, logger)
		}
		propagateSessionId = false
	}

	drivers := selector.NewFromClock[string]()
	for _, driverId := range w.driverIds {
		drivers.Add(driverWeight, driverId)
	}

	for _, next := range nextEvents {
		if next == nil {
			logger.Error("Processor returned a nil next event")
			w.services.RunLog.Logf(log.WarnLevel, "Nil event in the events following %s (processor %s)", w.event, w.processorName)
			continue
		}
		if propagateSessionId {
			next.SessionId = w.event.SessionId
		}
		// Local data can only be claimed by this process, so the event stays where it is.
		if !next.DataLocal {
			if driverId, ok := drivers.Next(); ok {
				next.Driver = driverId
			}
		}
		if _, err := w.services.Events.Put(ctx, next); err != nil {
			logger.WithError(err).Errorf("Failed to publish event %s", next.Name)
			w.services.RunLog.Logf(log.ErrorLevel, "Failed to insert event %s following %s: %+v", next, w.event, err)
		}
	}

	deleted, err := w.services.Events.Delete(ctx, w.event)
	if err != nil {
		logger.WithError(err).Error("Failed to remove event from the queue")
		w.services.RunLog.Logf(log.ErrorLevel, "Failed to remove event %s from the queue: %+v", w.event, err)
	} else if !deleted {
		logger.Error("Event was not deleted from the queue")
		w.services.RunLog.Logf(log.ErrorLevel, "Event was not deleted from the queue: %s", w.event)
	}
}

// process runs the processor, turning errors, panics and nil results into failed results.
func (w *Work) process(ctx context.Context, timer *processor.Timer) (result *event.EventResult, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("[%s] Event processing panicked; no further events will be published.\n%v\n%s",
				w.services.Clock.Now().Format(time.RFC3339Nano), r, debug.Stack())
			w.services.RunLog.Log(log.ErrorLevel, msg)
			result, failed = event.NewFailedResult(msg), true
		}
	}()

	result, err := w.processor.Process(ctx, w.event, timer)
	if err == nil && result == nil {
		err = errors.Errorf("processor %s returned a nil result", w.processorName)
		w.services.RunLog.Log(log.FatalLevel, err.Error())
	}
	if err != nil {
		msg := fmt.Sprintf("[%s] Event processing failed; no further events will be published.\n%+v",
			w.services.Clock.Now().Format(time.RFC3339Nano), err)
		return event.NewFailedResult(msg), true
	}
	return result, false
}

func (w *Work) endSession(ctx context.Context, logger *log.Entry) {
	if err := w.services.Sessions.EndSession(ctx, w.event.SessionId); err != nil {
		logger.WithError(err).Warnf("Failed to end session %s", w.event.SessionId)
	}
}
