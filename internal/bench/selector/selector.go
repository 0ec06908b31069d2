package selector

import (
	"math/rand"
	"sort"
	"time"
)

// RandomWeightedSelector picks items with probability proportional to their weight.
// It is not safe for concurrent use; callers build one per decision.
type RandomWeightedSelector[T any] struct {
	random     *rand.Rand
	cumulative []int64
	items      []T
	total      int64
}

func New[T any](seed int64) *RandomWeightedSelector[T] {
	return &RandomWeightedSelector[T]{random: rand.New(rand.NewSource(seed))}
}

// NewFromClock seeds the selector from the wall clock.
func NewFromClock[T any]() *RandomWeightedSelector[T] {
	return New[T](time.Now().UnixNano())
}

// Add registers item with the given weight. Non-positive weights are ignored.
func (s *RandomWeightedSelector[T]) Add(weight int64, item T) *RandomWeightedSelector[T] {
	if weight <= 0 {
		return s
	}
	s.total += weight
	s.cumulative = append(s.cumulative, s.total)
	s.items = append(s.items, item)
	return s
}

// Next returns a random item, or false when nothing with a positive weight was added.
func (s *RandomWeightedSelector[T]) Next() (T, bool) {
	var zero T
	if s.total <= 0 {
		return zero, false
	}
	// Draw in [1, total] and take the first bucket whose cumulative weight reaches it.
	draw := s.random.Int63n(s.total) + 1
	i := sort.Search(len(s.cumulative), func(i int) bool { return s.cumulative[i] >= draw })
	return s.items[i], true
}

func (s *RandomWeightedSelector[T]) Size() int {
	return len(s.items)
}
