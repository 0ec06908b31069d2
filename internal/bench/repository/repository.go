package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/util"
)

// DefaultLockTimeout is how long a claimed event stays invisible to other drivers.
// A driver that dies mid-event leaves the event claimable again once this passes.
const DefaultLockTimeout = 10 * time.Minute

// EventStore is the shared queue of pending events.
type EventStore interface {
	Count(ctx context.Context) (int64, error)
	// Put stores e and returns its id, assigning one if e.Id is empty.
	// Storing an id twice returns *benchmarkerrors.ErrAlreadyExists.
	Put(ctx context.Context, e *event.Event) (string, error)
	// ClaimNext atomically locks and returns the earliest eligible event, or nil if there is none.
	// An event is eligible if it is scheduled no later than latestScheduledTime, it is not locked
	// (or its lock expired), its data is not owned by another process and, when driverId is
	// non-empty, it is not pinned to another driver.
	ClaimNext(ctx context.Context, driverId string, latestScheduledTime time.Time) (*event.Event, error)
	// Delete removes e and reports whether it was still present.
	Delete(ctx context.Context, e *event.Event) (bool, error)
	// Get returns the event with the given id, or nil if there is none.
	Get(ctx context.Context, id string) (*event.Event, error)
	Clear(ctx context.Context) error
}

// ResultStore holds the records of processed events.
type ResultStore interface {
	RecordResult(ctx context.Context, record *event.EventRecord) error
	CountResults(ctx context.Context) (int64, error)
	CountResultsByEventName(ctx context.Context, eventName string) (int64, error)
	CountResultsBySuccess(ctx context.Context) (int64, error)
	CountResultsByFailure(ctx context.Context) (int64, error)
	// GetFirstResult and GetLastResult order by start time and return nil if there are no results.
	GetFirstResult(ctx context.Context) (*event.EventRecord, error)
	GetLastResult(ctx context.Context) (*event.EventRecord, error)
	GetResultsByEventName(ctx context.Context, eventName string, skip int, limit int) ([]*event.EventRecord, error)
	// GetResults returns records that started in [from, to), ordered by start time.
	GetResults(ctx context.Context, from time.Time, to time.Time, chartOnly bool, skip int, limit int) ([]*event.EventRecord, error)
	GetEventNames(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

type Session struct {
	Id        string      `json:"id"`
	Data      interface{} `json:"data,omitempty"`
	StartTime time.Time   `json:"startTime"`
	EndTime   time.Time   `json:"endTime,omitempty"`
}

func (s *Session) Ended() bool {
	return !s.EndTime.IsZero()
}

// SessionService tracks sessions: chains of events that share a session id.
type SessionService interface {
	StartSession(ctx context.Context, data interface{}) (string, error)
	// EndSession returns *benchmarkerrors.ErrNotFound for unknown ids and
	// *benchmarkerrors.ErrAlreadyExists if the session already ended.
	EndSession(ctx context.Context, sessionId string) error
	SetSessionData(ctx context.Context, sessionId string, data interface{}) error
	GetSessionData(ctx context.Context, sessionId string) (interface{}, error)
	GetSessionStartTime(ctx context.Context, sessionId string) (time.Time, error)
	// GetSessionEndTime returns the zero time for sessions still running.
	GetSessionEndTime(ctx context.Context, sessionId string) (time.Time, error)
	// GetSessionElapsedTime measures running sessions up to now.
	GetSessionElapsedTime(ctx context.Context, sessionId string) (time.Duration, error)
	ActiveSessionsCount(ctx context.Context) (int64, error)
	CompletedSessionsCount(ctx context.Context) (int64, error)
}

// DriverRegistry tracks the drivers taking part in a run through heartbeats.
type DriverRegistry interface {
	Register(ctx context.Context, driverId string) error
	Unregister(ctx context.Context, driverId string) error
	// ActiveDrivers returns the drivers whose last heartbeat is recent enough, sorted.
	ActiveDrivers(ctx context.Context) ([]string, error)
}

// RunStateStore persists the lifecycle state of test runs.
type RunStateStore interface {
	// GetState returns the empty string for unknown runs.
	GetState(ctx context.Context, runId string) (string, error)
	// CompareAndSetState moves runId from one state to another if it is still in from.
	// An empty from matches runs without a state.
	CompareAndSetState(ctx context.Context, runId string, from string, to string) (bool, error)
	// CompareAndSetSchedule is CompareAndSetState that also records when the run is due to start.
	CompareAndSetSchedule(ctx context.Context, runId string, from string, to string, at time.Time) (bool, error)
	// GetScheduledTime returns the zero time for runs that were never scheduled.
	GetScheduledTime(ctx context.Context, runId string) (time.Time, error)
}

// orderKey sorts lexicographically by time, then id.
func orderKey(t time.Time, id string) string {
	ms := util.MillisSinceEpoch(t)
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%020d/%s", ms, id)
}

// prepareForPut assigns an id, normalises shared payloads and moves local ones out of the event.
// It returns the copy to be stored.
func prepareForPut(e *event.Event, local *event.LocalDataStore) (*event.Event, error) {
	stored := e.Copy()
	if stored.Id == "" {
		stored.Id = util.NewULID()
	}
	stored.LockOwner = ""
	stored.LockTime = time.Time{}
	if stored.DataLocal {
		if err := local.Detach(stored); err != nil {
			return nil, err
		}
		return stored, nil
	}
	stored.DataOwner = ""
	data, err := event.NormaliseData(stored.Data)
	if err != nil {
		return nil, err
	}
	stored.Data = data
	return stored, nil
}

func lockExpired(e *event.Event, now time.Time, lockTimeout time.Duration) bool {
	return e.LockTime.IsZero() || !e.LockTime.Add(lockTimeout).After(now)
}

// eligible mirrors the claim filter every store implements natively.
func eligible(e *event.Event, driverId string, ownerId string, latest time.Time, now time.Time, lockTimeout time.Duration) bool {
	if e.ScheduledTime.After(latest) {
		return false
	}
	if !lockExpired(e, now, lockTimeout) {
		return false
	}
	if e.DataOwner != "" && e.DataOwner != ownerId {
		return false
	}
	if driverId != "" && e.Driver != "" && e.Driver != driverId {
		return false
	}
	return true
}
