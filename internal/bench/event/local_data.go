package event

import (
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/common/util"
)

// LocalDataStore holds payloads of events created with DataLocal set. The payload never
// leaves the process; stores record OwnerId as the event's data owner instead.
type LocalDataStore struct {
	ownerId string
	data    *cache.Cache
}

func NewLocalDataStore() *LocalDataStore {
	return &LocalDataStore{
		ownerId: util.NewUUID(),
		data:    cache.New(cache.NoExpiration, 0),
	}
}

func (s *LocalDataStore) OwnerId() string {
	return s.ownerId
}

// Detach moves the payload of a local event into this store and marks this process as its owner.
// The event must already have an id.
func (s *LocalDataStore) Detach(e *Event) error {
	if !e.DataLocal {
		return nil
	}
	if e.Id == "" {
		return errors.Errorf("local data event %s has no id", e.Name)
	}
	s.data.Set(e.Id, e.Data, cache.NoExpiration)
	e.Data = nil
	e.DataOwner = s.ownerId
	return nil
}

// Attach restores the payload of a local event owned by this process.
func (s *LocalDataStore) Attach(e *Event) error {
	if !e.DataLocal || e.DataOwner != s.ownerId {
		return nil
	}
	data, ok := s.data.Get(e.Id)
	if !ok {
		return errors.Errorf("local data for event %s (%s) is missing", e.Id, e.Name)
	}
	e.Data = data
	return nil
}

func (s *LocalDataStore) Release(eventId string) {
	s.data.Delete(eventId)
}

func (s *LocalDataStore) Count() int {
	return s.data.ItemCount()
}
