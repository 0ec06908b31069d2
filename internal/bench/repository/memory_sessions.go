package repository

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

const (
	sessionsTable = "sessions"
	activeIndex   = "active" // index for counting running and completed sessions
)

type memorySession struct {
	Id      string
	Active  bool
	Session *Session
}

// MemorySessionService is a SessionService backed by go-memdb.
type MemorySessionService struct {
	db    *memdb.MemDB
	clock util.Clock
}

func NewMemorySessionService(clock util.Clock) (*MemorySessionService, error) {
	db, err := memdb.NewMemDB(memorySessionSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemorySessionService{db: db, clock: clock}, nil
}

func (s *MemorySessionService) StartSession(_ context.Context, data interface{}) (string, error) {
	session := &Session{Id: util.NewUUID(), Data: data, StartTime: s.clock.Now()}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(sessionsTable, &memorySession{Id: session.Id, Active: true, Session: session}); err != nil {
		return "", errors.WithStack(err)
	}
	txn.Commit()
	return session.Id, nil
}

func (s *MemorySessionService) EndSession(_ context.Context, sessionId string) error {
	return s.update(sessionId, func(session *Session) error {
		if session.Ended() {
			return errors.WithStack(&benchmarkerrors.ErrAlreadyExists{
				Type:    "session end",
				Value:   sessionId,
				Message: "session has already ended",
			})
		}
		session.EndTime = s.clock.Now()
		return nil
	})
}

func (s *MemorySessionService) SetSessionData(_ context.Context, sessionId string, data interface{}) error {
	return s.update(sessionId, func(session *Session) error {
		session.Data = data
		return nil
	})
}

func (s *MemorySessionService) GetSessionData(_ context.Context, sessionId string) (interface{}, error) {
	session, err := s.get(sessionId)
	if err != nil {
		return nil, err
	}
	return session.Data, nil
}

func (s *MemorySessionService) GetSessionStartTime(_ context.Context, sessionId string) (time.Time, error) {
	session, err := s.get(sessionId)
	if err != nil {
		return time.Time{}, err
	}
	return session.StartTime, nil
}

func (s *MemorySessionService) GetSessionEndTime(_ context.Context, sessionId string) (time.Time, error) {
	session, err := s.get(sessionId)
	if err != nil {
		return time.Time{}, err
	}
	return session.EndTime, nil
}

func (s *MemorySessionService) GetSessionElapsedTime(_ context.Context, sessionId string) (time.Duration, error) {
	session, err := s.get(sessionId)
	if err != nil {
		return 0, err
	}
	return elapsed(session, s.clock.Now()), nil
}

func (s *MemorySessionService) ActiveSessionsCount(_ context.Context) (int64, error) {
	return s.count(true)
}

func (s *MemorySessionService) CompletedSessionsCount(_ context.Context) (int64, error) {
	return s.count(false)
}

func (s *MemorySessionService) get(sessionId string) (*Session, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(sessionsTable, idIndex, sessionId)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, errors.WithStack(&benchmarkerrors.ErrNotFound{Type: "session", Value: sessionId})
	}
	return obj.(*memorySession).Session, nil
}

func (s *MemorySessionService) update(sessionId string, mutate func(session *Session) error) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	obj, err := txn.First(sessionsTable, idIndex, sessionId)
	if err != nil {
		return errors.WithStack(err)
	}
	if obj == nil {
		return errors.WithStack(&benchmarkerrors.ErrNotFound{Type: "session", Value: sessionId})
	}
	updated := *obj.(*memorySession).Session
	if err := mutate(&updated); err != nil {
		return err
	}
	if err := txn.Insert(sessionsTable, &memorySession{Id: sessionId, Active: !updated.Ended(), Session: &updated}); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (s *MemorySessionService) count(active bool) (int64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(sessionsTable, activeIndex, active)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	var count int64
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		count++
	}
	return count, nil
}

func elapsed(session *Session, now time.Time) time.Duration {
	if session.Ended() {
		return session.EndTime.Sub(session.StartTime)
	}
	return now.Sub(session.StartTime)
}

func memorySessionSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[idIndex] = &memdb.IndexSchema{
		Name:    idIndex, // lookup by primary key
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "Id"},
	}
	indexes[activeIndex] = &memdb.IndexSchema{
		Name:    activeIndex,
		Unique:  false,
		Indexer: &memdb.BoolFieldIndex{Field: "Active"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			sessionsTable: {
				Name:    sessionsTable,
				Indexes: indexes,
			},
		},
	}
}
