package definition

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/estimator"
	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/bench/processor"
	"github.com/G-Research/eventbench/internal/bench/producer"
	"github.com/G-Research/eventbench/internal/bench/repository"
	"github.com/G-Research/eventbench/internal/common/util"
)

// Dependencies are the run's stores, handed to the processors and estimators that read them.
type Dependencies struct {
	Events   repository.EventStore
	Results  repository.ResultStore
	Sessions repository.SessionService
	Clock    util.Clock
}

// Benchmark is a definition bound to the stores of one run.
type Benchmark struct {
	Name       string
	Processors *processor.Registry
	Producers  *producer.Registry
	Estimator  estimator.CompletionEstimator
}

func (d *Definition) Build(deps Dependencies) (*Benchmark, error) {
	if deps.Clock == nil {
		deps.Clock = &util.DefaultClock{}
	}
	b := &Benchmark{
		Name:       d.Name,
		Processors: processor.NewRegistry(),
		Producers:  producer.NewRegistry(),
	}
	for _, name := range sortedKeys(d.Processors) {
		spec := d.Processors[name]
		self := spec.selfEventName(name)
		p, err := spec.build(self, deps)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to build processor %s", name)
		}
		if err := b.Processors.Register(name, p); err != nil {
			return nil, err
		}
		if self != name {
			if err := b.Processors.Register(self, p); err != nil {
				return nil, err
			}
		}
	}
	for _, name := range sortedKeys(d.Producers) {
		if err := b.Producers.Register(name, d.Producers[name].build(deps)); err != nil {
			return nil, err
		}
	}
	est, err := d.Completion.build(deps)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to build completion estimator")
	}
	b.Estimator = est
	return b, nil
}

// selfEventName is the name a self-rescheduling processor continues under. The start event
// has a fixed id, so processors bound to it continue under a name of their own.
func (s ProcessorSpec) selfEventName(name string) string {
	if name == event.StartEventName && (s.Type == RaiseEvents || s.Type == CreateSessions || s.Type == ResultBarrier) {
		return name + ContinuationSuffix
	}
	return name
}

func (s ProcessorSpec) build(self string, deps Dependencies) (processor.Processor, error) {
	data, err := jsonCompatible(s.Data)
	if err != nil {
		return nil, err
	}
	var p processor.Processor
	switch s.Type {
	case RaiseEvents:
		p, err = processor.NewRaiseEvents(processor.RaiseEventsConfig{
			OutputEventName:   s.OutputEventName,
			Count:             s.Count,
			TimeBetweenEvents: s.TimeBetweenEvents,
			BatchSize:         s.BatchSize,
			SelfEventName:     self,
		}, deps.Clock)
	case RaiseSingleEvent:
		p, err = processor.NewRaiseSingleEvent(s.OutputEventName, s.Delay, data, deps.Clock)
	case CreateSessions:
		p, err = processor.NewCreateSessions(processor.CreateSessionsConfig{
			OutputEventName:     s.OutputEventName,
			ConcurrentSessions:  s.ConcurrentSessions,
			TotalSessions:       s.TotalSessions,
			CheckPeriod:         s.CheckPeriod,
			TimeBetweenSessions: s.TimeBetweenSessions,
			SelfEventName:       self,
		}, deps.Sessions, deps.Clock)
	case ResultBarrier:
		p, err = processor.NewResultBarrier(s.CountEventName, s.ExpectedCount, s.OutputEventName, self, s.CheckPeriod, deps.Results, deps.Clock)
	case Rename:
		p, err = processor.NewRename(s.OutputEventName, deps.Clock)
	case Sleep:
		p = processor.NewSleep(s.Duration, s.OutputEventName, deps.Clock)
	default:
		return nil, invalid("type", s.Type, "unknown processor type")
	}
	if err != nil {
		return nil, err
	}
	if s.Options == nil {
		return p, nil
	}
	return processor.NewFunc(s.Options.apply(p.Options()), p.Process), nil
}

func (s ProducerSpec) build(deps Dependencies) producer.Producer {
	switch s.Type {
	case Redirect:
		return producer.NewRedirect(s.EventName, s.Delay, deps.Clock)
	case RandomRedirect:
		redirects := make([]producer.WeightedRedirect, 0, len(s.Redirects))
		for _, r := range s.Redirects {
			redirects = append(redirects, producer.WeightedRedirect{EventName: r.EventName, Weight: r.Weight, Delay: r.Delay})
		}
		return producer.NewRandomRedirect(redirects, deps.Clock)
	default:
		return producer.Terminate{}
	}
}

// build returns the unknown estimator when no type is given.
func (c CompletionSpec) build(deps Dependencies) (*estimator.Base, error) {
	options := estimator.Options{CheckPeriod: c.CheckPeriod, Clock: deps.Clock}
	switch c.Type {
	case EventCount:
		return estimator.NewEventCount(deps.Events, deps.Results, c.EventName, c.Count, options), nil
	case SessionCount:
		return estimator.NewSessionCount(deps.Events, deps.Results, deps.Sessions, c.Count, options), nil
	case ElapsedTime:
		return estimator.NewElapsedTime(deps.Events, deps.Results, c.Unit, c.Duration, options), nil
	case Compound:
		nested := make([]estimator.CompletionEstimator, 0, len(c.Estimators))
		for _, spec := range c.Estimators {
			e, err := spec.build(deps)
			if err != nil {
				return nil, err
			}
			nested = append(nested, e)
		}
		return estimator.NewCompound(deps.Events, deps.Results, nested, options)
	case Unknown, "":
		return estimator.NewUnknown(deps.Events, deps.Results, options), nil
	}
	return nil, invalid("type", c.Type, "unknown completion estimator")
}

// jsonCompatible turns the map[interface{}]interface{} values yaml.v2 produces into
// string keyed maps so payloads can be stored as JSON.
func jsonCompatible(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))
		for key, item := range v {
			converted, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			m[fmt.Sprint(key)] = converted
		}
		return m, nil
	case []interface{}:
		s := make([]interface{}, len(v))
		for i, item := range v {
			converted, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			s[i] = converted
		}
		return s, nil
	}
	return event.NormaliseData(value)
}
