package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/bench/processor"
	"github.com/G-Research/eventbench/internal/bench/producer"
	"github.com/G-Research/eventbench/internal/bench/repository"
	"github.com/G-Research/eventbench/internal/bench/runlog"
	"github.com/G-Research/eventbench/internal/common/util"
)

var baseTime = time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServices(t *testing.T, clock util.Clock) *Services {
	local := event.NewLocalDataStore()
	events, err := repository.NewMemoryEventStore(local, time.Minute, clock)
	require.NoError(t, err)
	results, err := repository.NewMemoryResultStore()
	require.NoError(t, err)
	sessions, err := repository.NewMemorySessionService(clock)
	require.NoError(t, err)
	return &Services{
		Events:     events,
		Results:    results,
		Sessions:   sessions,
		Processors: processor.NewRegistry(),
		Producers:  producer.NewRegistry(),
		RunLog:     runlog.New("run-1", "driver-1", clock, runlog.NewLogrusSink(nil)),
		Metrics:    NewMetrics(prometheus.NewRegistry()),
		Clock:      clock,
	}
}

// claim stores e and claims it back, as the controller would before running the work.
func claim(t *testing.T, services *Services, e *event.Event) *event.Event {
	ctx := context.Background()
	_, err := services.Events.Put(ctx, e)
	require.NoError(t, err)
	claimed, err := services.Events.ClaimNext(ctx, "", services.Clock.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

// runWork claims e and runs it, returning the claimed copy.
func runWork(t *testing.T, services *Services, e *event.Event, p processor.Processor, driverIds ...string) *event.Event {
	claimed := claim(t, services, e)
	NewWork("driver-1", claimed, p, claimed.Name, driverIds, services).Run(context.Background())
	return claimed
}

func onlyResult(t *testing.T, services *Services) *event.EventRecord {
	records, err := services.Results.GetResults(context.Background(), time.Time{}, baseTime.Add(time.Hour), false, 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	return records[0]
}

func queued(t *testing.T, services *Services) []*event.Event {
	ctx := context.Background()
	var events []*event.Event
	for {
		e, err := services.Events.ClaimNext(ctx, "", baseTime.Add(24*time.Hour))
		require.NoError(t, err)
		if e == nil {
			return events
		}
		events = append(events, e)
	}
}

func startSession(t *testing.T, services *Services) string {
	id, err := services.Sessions.StartSession(context.Background(), nil)
	require.NoError(t, err)
	return id
}

func sessionEnded(t *testing.T, services *Services, sessionId string) bool {
	end, err := services.Sessions.GetSessionEndTime(context.Background(), sessionId)
	require.NoError(t, err)
	return !end.IsZero()
}

func TestWork_PublishesNextEventWithSession(t *testing.T) {
	clock := util.NewDummyClock(baseTime)
	services := newTestServices(t, clock)
	sessionId := startSession(t, services)

	login := event.New("login", baseTime, nil)
	login.SessionId = sessionId
	p := processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		return event.NewResult("ok", event.New("browse", baseTime.Add(time.Second), nil)), nil
	})

	claimed := runWork(t, services, login, p, "driver-2")

	record := onlyResult(t, services)
	assert.True(t, record.Success)
	assert.Equal(t, "ok", record.Data)
	assert.Equal(t, "driver-1", record.DriverId)
	assert.Equal(t, "login", record.EventName())
	assert.True(t, record.Chart)

	next := queued(t, services)
	require.Len(t, next, 1)
	assert.Equal(t, "browse", next[0].Name)
	assert.Equal(t, sessionId, next[0].SessionId)
	assert.Equal(t, "driver-2", next[0].Driver)
	assert.False(t, sessionEnded(t, services, sessionId))

	stored, err := services.Events.Get(context.Background(), claimed.Id)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestWork_FailuresAreRecorded(t *testing.T) {
	tests := map[string]processor.Func{
		"error": func(_ context.Context, _ *event.Event, _ *processor.Timer) (*event.EventResult, error) {
			return nil, errors.New("login refused")
		},
		"panic": func(_ context.Context, _ *event.Event, _ *processor.Timer) (*event.EventResult, error) {
			panic("login exploded")
		},
		"nil result": func(_ context.Context, _ *event.Event, _ *processor.Timer) (*event.EventResult, error) {
			return nil, nil
		},
	}
	for name, f := range tests {
		t.Run(name, func(t *testing.T) {
			services := newTestServices(t, util.NewDummyClock(baseTime))
			sessionId := startSession(t, services)
			login := event.New("login", baseTime, nil)
			login.SessionId = sessionId

			runWork(t, services, login, processor.NewFunc(processor.DefaultOptions(), f))

			record := onlyResult(t, services)
			assert.False(t, record.Success)
			assert.Contains(t, record.Data, "no further events will be published")
			assert.Empty(t, queued(t, services))
			assert.True(t, sessionEnded(t, services, sessionId))
		})
	}
}

func TestWork_BranchingEndsSession(t *testing.T) {
	services := newTestServices(t, util.NewDummyClock(baseTime))
	sessionId := startSession(t, services)
	login := event.New("login", baseTime, nil)
	login.SessionId = sessionId
	p := processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		return event.NewResult(nil, event.New("a", baseTime, nil), event.New("b", baseTime, nil)), nil
	})

	runWork(t, services, login, p)

	next := queued(t, services)
	require.Len(t, next, 2)
	for _, e := range next {
		assert.Empty(t, e.SessionId)
	}
	assert.True(t, sessionEnded(t, services, sessionId))
}

func TestWork_SessionKeptWithoutAutoClose(t *testing.T) {
	services := newTestServices(t, util.NewDummyClock(baseTime))
	sessionId := startSession(t, services)
	login := event.New("login", baseTime, nil)
	login.SessionId = sessionId
	options := processor.DefaultOptions()
	options.AutoCloseSessionId = false
	p := processor.NewFunc(options, func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		return event.NewResult(nil), nil
	})

	runWork(t, services, login, p)

	assert.False(t, sessionEnded(t, services, sessionId))
}

func TestWork_WarnsWhenSlow(t *testing.T) {
	clock := util.NewDummyClock(baseTime)
	services := newTestServices(t, clock)
	options := processor.DefaultOptions()
	options.WarnDelay = 100 * time.Millisecond
	options.Chart = false
	p := processor.NewFunc(options, func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		clock.Advance(150 * time.Millisecond)
		return event.NewResult(nil), nil
	})

	runWork(t, services, event.New("login", baseTime, nil), p)

	record := onlyResult(t, services)
	assert.Equal(t, 150*time.Millisecond, record.Duration)
	assert.Equal(t, "Event processing exceeded warning threshold by 50ms.", record.Warning)
	assert.False(t, record.Chart)
}

func TestWork_SuspendedTimeIsNotCounted(t *testing.T) {
	clock := util.NewDummyClock(baseTime)
	services := newTestServices(t, clock)
	p := processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, e *event.Event, timer *processor.Timer) (*event.EventResult, error) {
		clock.Advance(10 * time.Millisecond)
		timer.Suspend()
		clock.Advance(time.Second)
		timer.Resume()
		clock.Advance(20 * time.Millisecond)
		return event.NewResult(nil), nil
	})

	runWork(t, services, event.New("login", baseTime, nil), p)

	assert.Equal(t, 30*time.Millisecond, onlyResult(t, services).Duration)
}

func TestWork_ProducersExpandNextEvents(t *testing.T) {
	clock := util.NewDummyClock(baseTime)
	services := newTestServices(t, clock)
	require.NoError(t, services.Producers.Register("checkout", producer.NewRedirect("pay", 0, clock)))
	p := processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		return event.NewResult(nil, event.New("checkout", baseTime, nil)), nil
	})

	runWork(t, services, event.New("login", baseTime, nil), p)

	next := queued(t, services)
	require.Len(t, next, 1)
	assert.Equal(t, "pay", next[0].Name)
}

func TestWork_CyclicalProductionPublishesNothing(t *testing.T) {
	clock := util.NewDummyClock(baseTime)
	services := newTestServices(t, clock)
	require.NoError(t, services.Producers.Register("a", producer.NewRedirect("b", 0, clock)))
	require.NoError(t, services.Producers.Register("b", producer.NewRedirect("a", 0, clock)))
	p := processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		return event.NewResult(nil, event.New("a", baseTime, nil), event.New("unrelated", baseTime, nil)), nil
	})

	login := event.New("login", baseTime, nil)
	runWork(t, services, login, p)

	assert.Empty(t, queued(t, services))
	assert.True(t, onlyResult(t, services).Success)
	count, err := services.Events.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestWork_LocalDataStaysOnThisDriver(t *testing.T) {
	services := newTestServices(t, util.NewDummyClock(baseTime))
	p := processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		local := event.New("upload", baseTime, []byte("file"))
		local.DataLocal = true
		return event.NewResult(nil, local), nil
	})

	runWork(t, services, event.New("login", baseTime, nil), p, "driver-2", "driver-3")

	next := queued(t, services)
	require.Len(t, next, 1)
	assert.Empty(t, next[0].Driver)
	assert.Equal(t, []byte("file"), next[0].Data)
}

func TestWork_NilNextEventsAreSkipped(t *testing.T) {
	services := newTestServices(t, util.NewDummyClock(baseTime))
	p := processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		return event.NewResult(nil, nil, event.New("browse", baseTime, nil)), nil
	})

	runWork(t, services, event.New("login", baseTime, nil), p)

	next := queued(t, services)
	require.Len(t, next, 1)
	assert.Equal(t, "browse", next[0].Name)
}

type failingResultStore struct {
	repository.ResultStore
}

func (s *failingResultStore) RecordResult(_ context.Context, _ *event.EventRecord) error {
	return errors.New("results table is locked")
}

// failingWritesEventStore fails to store events with one name, and optionally every delete.
type failingWritesEventStore struct {
	repository.EventStore
	failPutsOf    string
	failDeletes   bool
	deleteAttempt int
}

func (s *failingWritesEventStore) Put(ctx context.Context, e *event.Event) (string, error) {
	if e.Name == s.failPutsOf {
		return "", errors.New("queue is full")
	}
	return s.EventStore.Put(ctx, e)
}

func (s *failingWritesEventStore) Delete(ctx context.Context, e *event.Event) (bool, error) {
	s.deleteAttempt++
	if s.failDeletes {
		return false, errors.New("queue is unreachable")
	}
	return s.EventStore.Delete(ctx, e)
}

func withRecordingRunLog(services *Services) *recordingSink {
	sink := &recordingSink{}
	services.RunLog = runlog.New("run-1", "driver-1", services.Clock, sink)
	return sink
}

func browseNext() processor.Processor {
	return processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		return event.NewResult(nil, event.New("browse", baseTime, nil)), nil
	})
}

func TestWork_FailedRecordStillPublishesAndDeletes(t *testing.T) {
	services := newTestServices(t, util.NewDummyClock(baseTime))
	sink := withRecordingRunLog(services)
	services.Results = &failingResultStore{ResultStore: services.Results}
	login := event.New("login", baseTime, nil)

	claimed := runWork(t, services, login, browseNext())

	assert.Equal(t, 1, sink.count("Failed to record a result for event"))
	next := queued(t, services)
	require.Len(t, next, 1)
	assert.Equal(t, "browse", next[0].Name)
	require.NotEmpty(t, claimed.Id)
	stored, err := services.Events.Get(context.Background(), claimed.Id)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestWork_FailedPublishStillPublishesOthersAndDeletes(t *testing.T) {
	services := newTestServices(t, util.NewDummyClock(baseTime))
	sink := withRecordingRunLog(services)
	claimed := claim(t, services, event.New("login", baseTime, nil))
	failing := &failingWritesEventStore{EventStore: services.Events, failPutsOf: "checkout"}
	services.Events = failing
	p := processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, e *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		return event.NewResult(nil, event.New("checkout", baseTime, nil), event.New("browse", baseTime, nil)), nil
	})

	NewWork("driver-1", claimed, p, claimed.Name, nil, services).Run(context.Background())

	assert.Equal(t, 1, sink.count("Failed to insert event"))
	assert.True(t, onlyResult(t, services).Success)
	next := queued(t, services)
	require.Len(t, next, 1)
	assert.Equal(t, "browse", next[0].Name)
	assert.Equal(t, 1, failing.deleteAttempt)
	stored, err := services.Events.Get(context.Background(), claimed.Id)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestWork_FailedDeleteIsLogged(t *testing.T) {
	services := newTestServices(t, util.NewDummyClock(baseTime))
	sink := withRecordingRunLog(services)
	claimed := claim(t, services, event.New("login", baseTime, nil))
	services.Events = &failingWritesEventStore{EventStore: services.Events, failDeletes: true}

	NewWork("driver-1", claimed, browseNext(), claimed.Name, nil, services).Run(context.Background())

	assert.Equal(t, 1, sink.count("from the queue"))
	assert.True(t, onlyResult(t, services).Success)
	next := queued(t, services)
	require.Len(t, next, 1)
	assert.Equal(t, "browse", next[0].Name)
}

func TestWork_PanicEndsSessionAndStillDeletes(t *testing.T) {
	services := newTestServices(t, util.NewDummyClock(baseTime))
	sink := withRecordingRunLog(services)
	sessionId := startSession(t, services)
	login := event.New("login", baseTime, nil)
	login.SessionId = sessionId
	p := processor.NewFunc(processor.DefaultOptions(), func(_ context.Context, _ *event.Event, _ *processor.Timer) (*event.EventResult, error) {
		panic("login exploded")
	})

	claimed := runWork(t, services, login, p)

	record := onlyResult(t, services)
	assert.False(t, record.Success)
	assert.Contains(t, record.Data, "login exploded")
	assert.Equal(t, 1, sink.count("Event processing panicked"))
	assert.True(t, sessionEnded(t, services, sessionId))
	stored, err := services.Events.Get(context.Background(), claimed.Id)
	require.NoError(t, err)
	assert.Nil(t, stored)
}
