package selector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext_EmptySelector(t *testing.T) {
	s := New[string](1)
	_, ok := s.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Size())
}

func TestAdd_IgnoresNonPositiveWeights(t *testing.T) {
	s := New[string](1).Add(0, "zero").Add(-5, "negative").Add(1, "one")
	assert.Equal(t, 1, s.Size())
	for i := 0; i < 1000; i++ {
		item, ok := s.Next()
		assert.True(t, ok)
		assert.Equal(t, "one", item)
	}
}

func TestNext_OnlyZeroWeights(t *testing.T) {
	s := New[string](1).Add(0, "a").Add(0, "b")
	_, ok := s.Next()
	assert.False(t, ok)
}

func TestNext_Distribution(t *testing.T) {
	s := New[string](42).Add(1, "a").Add(3, "b")
	const draws = 100000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		item, _ := s.Next()
		counts[item]++
	}
	assert.InDelta(t, 0.25, float64(counts["a"])/draws, 0.01)
	assert.InDelta(t, 0.75, float64(counts["b"])/draws, 0.01)
}

func TestNext_EqualWeightsAreUniform(t *testing.T) {
	drivers := []string{"d1", "d2", "d3", "d4"}
	s := New[string](7)
	for _, d := range drivers {
		s.Add(100, d)
	}
	const draws = 100000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		item, _ := s.Next()
		counts[item]++
	}
	for _, d := range drivers {
		assert.True(t, math.Abs(float64(counts[d])/draws-0.25) < 0.01, "driver %s drawn %d times", d, counts[d])
	}
}

func TestNew_DeterministicForSeed(t *testing.T) {
	first := New[int](99).Add(1, 1).Add(1, 2).Add(1, 3)
	second := New[int](99).Add(1, 1).Add(1, 2).Add(1, 3)
	for i := 0; i < 100; i++ {
		a, _ := first.Next()
		b, _ := second.Next()
		assert.Equal(t, a, b)
	}
}
