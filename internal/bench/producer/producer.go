package producer

import (
	"time"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/bench/selector"
	"github.com/G-Research/eventbench/internal/common/util"
)

// Producer rewrites an event published under its name into zero or more other events.
type Producer interface {
	NextEvents(e *event.Event) ([]*event.Event, error)
}

// Redirect republishes the event under another name, no earlier than delay from now.
// The id, session and payload are kept.
type Redirect struct {
	newEventName string
	delay        time.Duration
	clock        util.Clock
}

func NewRedirect(newEventName string, delay time.Duration, clock util.Clock) *Redirect {
	return &Redirect{newEventName: newEventName, delay: delay, clock: clock}
}

func (p *Redirect) NextEvents(e *event.Event) ([]*event.Event, error) {
	scheduled := p.clock.Now().Add(p.delay)
	if e.ScheduledTime.After(scheduled) {
		scheduled = e.ScheduledTime
	}
	next := event.New(p.newEventName, scheduled, e.Data)
	next.DataLocal = e.DataLocal
	if e.Id != "" {
		next.Id = e.Id
	}
	next.SessionId = e.SessionId
	return []*event.Event{next}, nil
}

// WeightedRedirect is one option of a RandomRedirect.
type WeightedRedirect struct {
	EventName string
	Weight    int64
	Delay     time.Duration
}

// RandomRedirect redirects each event to one of several names, chosen by weight.
type RandomRedirect struct {
	redirects []WeightedRedirect
	clock     util.Clock
}

func NewRandomRedirect(redirects []WeightedRedirect, clock util.Clock) *RandomRedirect {
	return &RandomRedirect{redirects: redirects, clock: clock}
}

func (p *RandomRedirect) NextEvents(e *event.Event) ([]*event.Event, error) {
	s := selector.New[*Redirect](p.clock.Now().UnixNano())
	for _, r := range p.redirects {
		s.Add(r.Weight, NewRedirect(r.EventName, r.Delay, p.clock))
	}
	redirect, ok := s.Next()
	if !ok {
		return []*event.Event{}, nil
	}
	return redirect.NextEvents(e)
}

// Terminate swallows the event.
type Terminate struct{}

func (Terminate) NextEvents(_ *event.Event) ([]*event.Event, error) {
	return []*event.Event{}, nil
}
