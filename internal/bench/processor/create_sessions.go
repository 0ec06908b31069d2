package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

const (
	DefaultCreateSessionsName        = "createSessions"
	DefaultCreateSessionsCheckPeriod = 10 * time.Second
	DefaultTimeBetweenSessions       = 100 * time.Millisecond
)

type CompletedSessionCounter interface {
	CompletedSessionsCount(ctx context.Context) (int64, error)
}

type CreateSessionsConfig struct {
	// OutputEventName is the first event of every session.
	OutputEventName string
	// ConcurrentSessions is the number of sessions kept in flight.
	ConcurrentSessions int
	// TotalSessions is the number of sessions raised overall.
	TotalSessions int
	// CheckPeriod is how often completed sessions are replaced.
	CheckPeriod time.Duration
	// TimeBetweenSessions spaces the initial sessions.
	TimeBetweenSessions time.Duration
	// SelfEventName is the name the continuation event is raised under.
	SelfEventName string
}

type createSessionsProgress struct {
	OutputEventsRaised    int   `json:"outputEventsRaised"`
	CompletedSessionCount int64 `json:"completedSessionCount"`
}

// CreateSessions keeps a population of concurrent sessions running: it raises the first
// ConcurrentSessions session events and then, every check period, one new session event
// for each session completed since the last check, up to TotalSessions.
type CreateSessions struct {
	config   CreateSessionsConfig
	sessions CompletedSessionCounter
	clock    util.Clock
}

func NewCreateSessions(config CreateSessionsConfig, sessions CompletedSessionCounter, clock util.Clock) (*CreateSessions, error) {
	if config.OutputEventName == "" {
		return nil, errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "OutputEventName",
			Value:   config.OutputEventName,
			Message: "output event name must be non-empty",
		})
	}
	if config.ConcurrentSessions > config.TotalSessions {
		return nil, errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "ConcurrentSessions",
			Value:   config.ConcurrentSessions,
			Message: "the number of concurrent sessions cannot exceed the total number of sessions",
		})
	}
	if config.CheckPeriod <= 0 {
		config.CheckPeriod = DefaultCreateSessionsCheckPeriod
	}
	if config.TimeBetweenSessions <= 0 {
		config.TimeBetweenSessions = DefaultTimeBetweenSessions
	}
	if config.SelfEventName == "" {
		config.SelfEventName = DefaultCreateSessionsName
	}
	return &CreateSessions{config: config, sessions: sessions, clock: clock}, nil
}

func (p *CreateSessions) Options() Options {
	return DefaultOptions()
}

func (p *CreateSessions) Process(ctx context.Context, e *event.Event, _ *Timer) (*event.EventResult, error) {
	now := p.clock.Now()
	var next []*event.Event
	raised := 0
	progress := createSessionsProgress{}

	if e.Data == nil {
		nextSessionTime := now
		for raised < p.config.ConcurrentSessions {
			next = append(next, event.New(p.config.OutputEventName, nextSessionTime, nil))
			raised++
			nextSessionTime = nextSessionTime.Add(p.config.TimeBetweenSessions)
		}
	} else {
		if err := event.DecodeData(e.Data, &progress); err != nil {
			return event.NewFailedResult("The event processor takes no initial input."), nil
		}
		completed, err := p.sessions.CompletedSessionsCount(ctx)
		if err != nil {
			return nil, err
		}
		completedInWait := completed - progress.CompletedSessionCount
		var sessionDelay time.Duration
		if completedInWait > 0 {
			sessionDelay = time.Duration(int64(p.config.CheckPeriod) / completedInWait)
		}
		nextSessionTime := now
		for int64(raised) < completedInWait && raised+progress.OutputEventsRaised < p.config.TotalSessions {
			next = append(next, event.New(p.config.OutputEventName, nextSessionTime, nil))
			raised++
			nextSessionTime = nextSessionTime.Add(sessionDelay)
		}
		progress.CompletedSessionCount = completed
	}

	progress.OutputEventsRaised += raised
	if progress.OutputEventsRaised < p.config.TotalSessions {
		next = append(next, event.New(p.config.SelfEventName, now.Add(p.config.CheckPeriod), progress))
	}

	return event.NewResult(fmt.Sprintf("Scheduled %3d events named %s.", raised, p.config.OutputEventName), next...), nil
}
