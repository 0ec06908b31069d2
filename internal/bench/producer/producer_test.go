package producer

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

var testTime = time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRedirect_KeepsIdentityAndDelays(t *testing.T) {
	clock := util.NewDummyClock(testTime)
	in := event.New("a", testTime.Add(-time.Hour), "payload")
	in.Id = "id-1"
	in.SessionId = "session-1"

	out, err := NewRedirect("b", time.Minute, clock).NextEvents(in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].Name)
	assert.Equal(t, "id-1", out[0].Id)
	assert.Equal(t, "session-1", out[0].SessionId)
	assert.Equal(t, "payload", out[0].Data)
	assert.Equal(t, testTime.Add(time.Minute), out[0].ScheduledTime)
}

func TestRedirect_KeepsLaterSchedule(t *testing.T) {
	clock := util.NewDummyClock(testTime)
	in := event.New("a", testTime.Add(time.Hour), nil)
	out, err := NewRedirect("b", time.Minute, clock).NextEvents(in)
	require.NoError(t, err)
	assert.Equal(t, testTime.Add(time.Hour), out[0].ScheduledTime)
}

func TestRandomRedirect(t *testing.T) {
	clock := util.NewDummyClock(testTime)
	p := NewRandomRedirect([]WeightedRedirect{{EventName: "never", Weight: 0}, {EventName: "always", Weight: 5}}, clock)
	for i := 0; i < 100; i++ {
		out, err := p.NextEvents(event.New("a", testTime, nil))
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "always", out[0].Name)
	}

	empty, err := NewRandomRedirect(nil, clock).NextEvents(event.New("a", testTime, nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestExpand_PassesThroughUnmappedEvents(t *testing.T) {
	r := NewRegistry()
	in := []*event.Event{event.New("a", testTime, nil), nil}
	out, err := r.Expand(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestExpand_Chain(t *testing.T) {
	clock := util.NewDummyClock(testTime)
	r := NewRegistry()
	require.NoError(t, r.Register("a", NewRedirect("b", 0, clock)))
	require.NoError(t, r.Register("b", NewRedirect("c", 0, clock)))
	require.NoError(t, r.Register("dead", Terminate{}))

	out, err := r.Expand([]*event.Event{event.New("a", testTime, nil), event.New("dead", testTime, nil), event.New("x", testTime, nil)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].Name)
	assert.Equal(t, "x", out[1].Name)
}

func TestExpand_DetectsCycle(t *testing.T) {
	clock := util.NewDummyClock(testTime)
	r := NewRegistry()
	require.NoError(t, r.Register("a", NewRedirect("b", 0, clock)))
	require.NoError(t, r.Register("b", NewRedirect("a", 0, clock)))

	out, err := r.Expand([]*event.Event{event.New("a", testTime, nil)})
	assert.Nil(t, out)
	var cyclical *benchmarkerrors.ErrCyclicalProduction
	require.ErrorAs(t, err, &cyclical)
	assert.Equal(t, []string{"a", "b", "a"}, cyclical.Path)
}

type fanOut struct {
	names []string
}

func (f fanOut) NextEvents(e *event.Event) ([]*event.Event, error) {
	out := make([]*event.Event, 0, len(f.names))
	for _, n := range f.names {
		out = append(out, event.New(n, e.ScheduledTime, nil))
	}
	return out, nil
}

func TestExpand_SiblingsDoNotShareVisitedNames(t *testing.T) {
	clock := util.NewDummyClock(testTime)
	r := NewRegistry()
	// "fan" produces two events that both pass through "shared"; that is not a cycle.
	require.NoError(t, r.Register("fan", fanOut{names: []string{"left", "right"}}))
	require.NoError(t, r.Register("left", NewRedirect("shared", 0, clock)))
	require.NoError(t, r.Register("right", NewRedirect("shared", 0, clock)))
	require.NoError(t, r.Register("shared", NewRedirect("done", 0, clock)))

	out, err := r.Expand([]*event.Event{event.New("fan", testTime, nil)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "done", out[0].Name)
	assert.Equal(t, "done", out[1].Name)
}

type failing struct{}

func (failing) NextEvents(_ *event.Event) ([]*event.Event, error) {
	return nil, errors.New("boom")
}

func TestExpand_ProducerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", failing{}))
	_, err := r.Expand([]*event.Event{event.New("a", testTime, nil)})
	assert.Error(t, err)
}
