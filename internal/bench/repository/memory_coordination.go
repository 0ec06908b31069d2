package repository

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/exp/slices"
)

// DefaultDriverTimeout is how long a driver counts as active after its last heartbeat.
const DefaultDriverTimeout = time.Minute

// MemoryDriverRegistry keeps heartbeats in a go-cache whose entries expire after the driver timeout.
type MemoryDriverRegistry struct {
	drivers *cache.Cache
	timeout time.Duration
}

func NewMemoryDriverRegistry(timeout time.Duration) *MemoryDriverRegistry {
	if timeout <= 0 {
		timeout = DefaultDriverTimeout
	}
	return &MemoryDriverRegistry{drivers: cache.New(timeout, timeout), timeout: timeout}
}

func (r *MemoryDriverRegistry) Register(_ context.Context, driverId string) error {
	r.drivers.Set(driverId, time.Now(), r.timeout)
	return nil
}

func (r *MemoryDriverRegistry) Unregister(_ context.Context, driverId string) error {
	r.drivers.Delete(driverId)
	return nil
}

func (r *MemoryDriverRegistry) ActiveDrivers(_ context.Context) ([]string, error) {
	items := r.drivers.Items()
	drivers := make([]string, 0, len(items))
	for id := range items {
		drivers = append(drivers, id)
	}
	slices.Sort(drivers)
	return drivers, nil
}

// MemoryRunStateStore keeps run states for single process deployments and tests.
type MemoryRunStateStore struct {
	mu        sync.Mutex
	states    map[string]string
	scheduled map[string]time.Time
}

func NewMemoryRunStateStore() *MemoryRunStateStore {
	return &MemoryRunStateStore{states: map[string]string{}, scheduled: map[string]time.Time{}}
}

func (s *MemoryRunStateStore) GetState(_ context.Context, runId string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[runId], nil
}

func (s *MemoryRunStateStore) CompareAndSetState(_ context.Context, runId string, from string, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[runId] != from {
		return false, nil
	}
	s.states[runId] = to
	return true, nil
}

func (s *MemoryRunStateStore) CompareAndSetSchedule(_ context.Context, runId string, from string, to string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[runId] != from {
		return false, nil
	}
	s.states[runId] = to
	s.scheduled[runId] = at
	return true, nil
}

func (s *MemoryRunStateStore) GetScheduledTime(_ context.Context, runId string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled[runId], nil
}
