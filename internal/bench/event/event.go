package event

import (
	"fmt"
	"time"
)

const (
	// StartEventName names the event that bootstraps every run.
	StartEventName = "start"
	// StartEventId is the fixed id of the start event, so at most one can ever be stored per run.
	StartEventId = "00000000000000000000start"
)

// Event is a unit of scheduled work. It is created by a processor or producer,
// persisted in an event store and claimed by exactly one driver at a time.
type Event struct {
	Id            string      `json:"id"`
	Name          string      `json:"name"`
	ScheduledTime time.Time   `json:"scheduledTime"`
	SessionId     string      `json:"sessionId,omitempty"`
	Data          interface{} `json:"data,omitempty"`
	// DataLocal keeps Data inside the creating process; only that process can claim the event.
	DataLocal bool   `json:"dataLocal,omitempty"`
	DataOwner string `json:"dataOwner,omitempty"`
	// Driver pins the event to one driver. Empty means any driver may claim it.
	Driver    string    `json:"driver,omitempty"`
	LockOwner string    `json:"lockOwner,omitempty"`
	LockTime  time.Time `json:"lockTime,omitempty"`
}

func New(name string, scheduledTime time.Time, data interface{}) *Event {
	e := &Event{
		Name:          name,
		ScheduledTime: scheduledTime,
		Data:          data,
	}
	if name == StartEventName {
		e.Id = StartEventId
	}
	return e
}

// NewStart returns the bootstrap event, scheduled at scheduledTime.
func NewStart(scheduledTime time.Time) *Event {
	return New(StartEventName, scheduledTime, nil)
}

func (e *Event) IsStart() bool {
	return e.Id == StartEventId
}

// Copy returns a shallow copy; Data is shared.
func (e *Event) Copy() *Event {
	c := *e
	return &c
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{id=%s, name=%s, scheduled=%s, session=%s, driver=%s}",
		e.Id, e.Name, e.ScheduledTime.Format(time.RFC3339Nano), e.SessionId, e.Driver)
}
