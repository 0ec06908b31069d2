package producer

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
)

// Registry maps event names to producers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Producer
}

func NewRegistry() *Registry {
	return &Registry{producers: map[string]Producer{}}
}

func (r *Registry) Register(name string, p Producer) error {
	if name == "" {
		return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "name",
			Value:   name,
			Message: "event name must be non-empty",
		})
	}
	if p == nil {
		return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "producer",
			Value:   name,
			Message: "producer must be non-nil",
		})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.producers[name]; exists {
		return errors.WithStack(&benchmarkerrors.ErrAlreadyExists{Type: "producer", Value: name})
	}
	r.producers[name] = p
	return nil
}

func (r *Registry) Get(name string) (Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := maps.Keys(r.producers)
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Expand replaces every event that has a producer with the producer's output, recursively.
// Events without a producer are returned as they are. Re-entering a name already on the
// current branch of the expansion is an *ErrCyclicalProduction; nothing is returned then.
func (r *Registry) Expand(events []*event.Event) ([]*event.Event, error) {
	return r.expand(events, nil)
}

func (r *Registry) expand(events []*event.Event, path []string) ([]*event.Event, error) {
	expanded := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if e == nil {
			expanded = append(expanded, e)
			continue
		}
		p, ok := r.Get(e.Name)
		if !ok {
			expanded = append(expanded, e)
			continue
		}
		if slices.Contains(path, e.Name) {
			return nil, errors.WithStack(&benchmarkerrors.ErrCyclicalProduction{Path: append(slices.Clone(path), e.Name)})
		}
		produced, err := p.NextEvents(e)
		if err != nil {
			return nil, errors.Wrapf(err, "producer for event %s failed", e.Name)
		}
		// Each branch gets its own copy of the path so siblings never see each other's names.
		branch := append(slices.Clone(path), e.Name)
		children, err := r.expand(produced, branch)
		if err != nil {
			return nil, err
		}
		expanded = append(expanded, children...)
	}
	return expanded, nil
}
