package processor

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
)

// Registry maps event names to processors. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{processors: map[string]Processor{}}
}

func (r *Registry) Register(name string, p Processor) error {
	if name == "" {
		return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "name",
			Value:   name,
			Message: "event name must be non-empty",
		})
	}
	if p == nil {
		return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "processor",
			Value:   name,
			Message: "processor must be non-nil",
		})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[name]; exists {
		return errors.WithStack(&benchmarkerrors.ErrAlreadyExists{Type: "processor", Value: name})
	}
	r.processors[name] = p
	return nil
}

func (r *Registry) Get(name string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := maps.Keys(r.processors)
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
