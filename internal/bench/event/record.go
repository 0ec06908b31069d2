package event

import (
	"time"
)

// EventRecord is the immutable outcome of processing one event.
type EventRecord struct {
	Id          string        `json:"id"`
	DriverId    string        `json:"driverId"`
	Success     bool          `json:"success"`
	StartTime   time.Time     `json:"startTime"`
	StartDelay  time.Duration `json:"startDelay"`
	Duration    time.Duration `json:"duration"`
	Data        interface{}   `json:"data,omitempty"`
	Event       *Event        `json:"event"`
	Warning     string        `json:"warning,omitempty"`
	ProcessedBy string        `json:"processedBy"`
	Chart       bool          `json:"chart"`
}

// StartDelayOf returns how late processing started relative to the schedule.
// Events scheduled at the zero time have no meaningful delay.
func StartDelayOf(e *Event, startTime time.Time) time.Duration {
	if e == nil || e.ScheduledTime.IsZero() {
		return 0
	}
	return startTime.Sub(e.ScheduledTime)
}

func (r *EventRecord) EventName() string {
	if r.Event == nil {
		return ""
	}
	return r.Event.Name
}

// EventResult is what a processor returns.
type EventResult struct {
	Success    bool
	Data       interface{}
	NextEvents []*Event
}

func NewResult(data interface{}, next ...*Event) *EventResult {
	return &EventResult{Success: true, Data: data, NextEvents: next}
}

func NewFailedResult(data interface{}) *EventResult {
	return &EventResult{Success: false, Data: data}
}
