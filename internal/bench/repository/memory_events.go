package repository

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

const (
	eventsTable   = "events"
	idIndex       = "id"       // index for looking up events by id
	scheduleIndex = "schedule" // index for iterating events in scheduled order
)

type memoryEvent struct {
	Id          string
	ScheduleKey string
	Event       *event.Event
}

// MemoryEventStore is an EventStore backed by go-memdb. Claims run in a write transaction,
// of which memdb allows only one at a time, so they are atomic within the process.
// Stored events are never modified in place; updates insert a fresh copy.
type MemoryEventStore struct {
	db          *memdb.MemDB
	local       *event.LocalDataStore
	lockTimeout time.Duration
	clock       util.Clock
}

func NewMemoryEventStore(local *event.LocalDataStore, lockTimeout time.Duration, clock util.Clock) (*MemoryEventStore, error) {
	db, err := memdb.NewMemDB(memoryEventSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryEventStore{db: db, local: local, lockTimeout: lockTimeout, clock: clock}, nil
}

func (s *MemoryEventStore) Count(_ context.Context) (int64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(eventsTable, idIndex)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	var count int64
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		count++
	}
	return count, nil
}

func (s *MemoryEventStore) Put(_ context.Context, e *event.Event) (string, error) {
	stored, err := prepareForPut(e, s.local)
	if err != nil {
		return "", err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(eventsTable, idIndex, stored.Id)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if existing != nil {
		return "", errors.WithStack(&benchmarkerrors.ErrAlreadyExists{Type: "event", Value: stored.Id})
	}
	if err := txn.Insert(eventsTable, newMemoryEvent(stored)); err != nil {
		return "", errors.WithStack(err)
	}
	txn.Commit()
	return stored.Id, nil
}

func (s *MemoryEventStore) ClaimNext(_ context.Context, driverId string, latestScheduledTime time.Time) (*event.Event, error) {
	now := s.clock.Now()
	txn := s.db.Txn(true)
	defer txn.Abort()

	iter, err := txn.Get(eventsTable, scheduleIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var claimed *event.Event
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		candidate := obj.(*memoryEvent).Event
		if candidate.ScheduledTime.After(latestScheduledTime) {
			// Sorted by schedule, so nothing further can be due.
			break
		}
		if eligible(candidate, driverId, s.local.OwnerId(), latestScheduledTime, now, s.lockTimeout) {
			claimed = candidate.Copy()
			break
		}
	}
	if claimed == nil {
		return nil, nil
	}

	claimed.LockOwner = s.local.OwnerId()
	claimed.LockTime = now
	if err := txn.Insert(eventsTable, newMemoryEvent(claimed)); err != nil {
		return nil, errors.WithStack(err)
	}
	txn.Commit()

	result := claimed.Copy()
	if err := s.local.Attach(result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *MemoryEventStore) Delete(_ context.Context, e *event.Event) (bool, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(eventsTable, idIndex, e.Id)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if existing == nil {
		return false, nil
	}
	if err := txn.Delete(eventsTable, existing); err != nil {
		return false, errors.WithStack(err)
	}
	txn.Commit()
	s.local.Release(e.Id)
	return true, nil
}

func (s *MemoryEventStore) Get(_ context.Context, id string) (*event.Event, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(eventsTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*memoryEvent).Event.Copy(), nil
}

func (s *MemoryEventStore) Clear(_ context.Context) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(eventsTable, idIndex); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func newMemoryEvent(e *event.Event) *memoryEvent {
	return &memoryEvent{
		Id:          e.Id,
		ScheduleKey: orderKey(e.ScheduledTime, e.Id),
		Event:       e,
	}
}

func memoryEventSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[idIndex] = &memdb.IndexSchema{
		Name:    idIndex, // lookup by primary key
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "Id"},
	}
	indexes[scheduleIndex] = &memdb.IndexSchema{
		Name:    scheduleIndex,
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "ScheduleKey"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			eventsTable: {
				Name:    eventsTable,
				Indexes: indexes,
			},
		},
	}
}
