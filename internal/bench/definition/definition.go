// Package definition loads a benchmark from YAML: which processor handles each event name,
// which producers rewrite published events and how the run's completion is estimated.
package definition

import (
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/bench/processor"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
)

const (
	RaiseEvents      = "raiseEvents"
	RaiseSingleEvent = "raiseSingleEvent"
	CreateSessions   = "createSessions"
	ResultBarrier    = "resultBarrier"
	Rename           = "rename"
	Sleep            = "sleep"

	Redirect       = "redirect"
	RandomRedirect = "randomRedirect"
	Terminate      = "terminate"

	EventCount   = "eventCount"
	SessionCount = "sessionCount"
	ElapsedTime  = "elapsedTime"
	Unknown      = "unknown"
	Compound     = "compound"

	// ContinuationSuffix names the continuation events of self-rescheduling processors
	// bound to the start event.
	ContinuationSuffix = ".continue"
)

var (
	processorTypes  = []string{RaiseEvents, RaiseSingleEvent, CreateSessions, ResultBarrier, Rename, Sleep}
	producerTypes   = []string{Redirect, RandomRedirect, Terminate}
	completionTypes = []string{EventCount, SessionCount, ElapsedTime, Unknown, Compound}
)

type Definition struct {
	Name       string                   `yaml:"name"`
	Processors map[string]ProcessorSpec `yaml:"processors"`
	Producers  map[string]ProducerSpec  `yaml:"producers"`
	Completion CompletionSpec           `yaml:"completion"`
}

// ProcessorSpec configures one built-in processor. Which fields apply depends on Type.
type ProcessorSpec struct {
	Type            string        `yaml:"type"`
	OutputEventName string        `yaml:"outputEventName"`
	Delay           time.Duration `yaml:"delay"`
	Data            interface{}   `yaml:"data"`

	// raiseEvents
	Count             int           `yaml:"count"`
	TimeBetweenEvents time.Duration `yaml:"timeBetweenEvents"`
	BatchSize         int           `yaml:"batchSize"`

	// createSessions
	ConcurrentSessions  int           `yaml:"concurrentSessions"`
	TotalSessions       int           `yaml:"totalSessions"`
	CheckPeriod         time.Duration `yaml:"checkPeriod"`
	TimeBetweenSessions time.Duration `yaml:"timeBetweenSessions"`

	// resultBarrier
	CountEventName string `yaml:"countEventName"`
	ExpectedCount  int64  `yaml:"expectedCount"`

	// sleep
	Duration time.Duration `yaml:"duration"`

	Options *OptionsSpec `yaml:"options"`
}

// OptionsSpec overrides the processor's own options field by field.
type OptionsSpec struct {
	WarnDelay              *time.Duration `yaml:"warnDelay"`
	Chart                  *bool          `yaml:"chart"`
	AutoPropagateSessionId *bool          `yaml:"autoPropagateSessionId"`
	AutoCloseSessionId     *bool          `yaml:"autoCloseSessionId"`
}

func (o *OptionsSpec) apply(options processor.Options) processor.Options {
	if o == nil {
		return options
	}
	if o.WarnDelay != nil {
		options.WarnDelay = *o.WarnDelay
	}
	if o.Chart != nil {
		options.Chart = *o.Chart
	}
	if o.AutoPropagateSessionId != nil {
		options.AutoPropagateSessionId = *o.AutoPropagateSessionId
	}
	if o.AutoCloseSessionId != nil {
		options.AutoCloseSessionId = *o.AutoCloseSessionId
	}
	return options
}

type ProducerSpec struct {
	Type      string             `yaml:"type"`
	EventName string             `yaml:"eventName"`
	Delay     time.Duration      `yaml:"delay"`
	Redirects []WeightedRedirect `yaml:"redirects"`
}

type WeightedRedirect struct {
	EventName string        `yaml:"eventName"`
	Weight    int64         `yaml:"weight"`
	Delay     time.Duration `yaml:"delay"`
}

type CompletionSpec struct {
	Type        string           `yaml:"type"`
	EventName   string           `yaml:"eventName"`
	Count       int64            `yaml:"count"`
	Unit        string           `yaml:"unit"`
	Duration    int64            `yaml:"duration"`
	CheckPeriod time.Duration    `yaml:"checkPeriod"`
	Estimators  []CompletionSpec `yaml:"estimators"`
}

func Load(path string) (*Definition, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read benchmark definition %s", path)
	}
	d, err := Parse(bytes)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid benchmark definition %s", path)
	}
	return d, nil
}

// Parse decodes and validates a definition. Unknown fields are rejected.
func Parse(bytes []byte) (*Definition, error) {
	d := &Definition{}
	if err := yaml.UnmarshalStrict(bytes, d); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate reports every problem found, not just the first.
func (d *Definition) Validate() error {
	var result *multierror.Error
	if _, ok := d.Processors[event.StartEventName]; !ok {
		result = multierror.Append(result, invalid("processors", event.StartEventName,
			"a processor must handle the start event"))
	}
	for _, name := range sortedKeys(d.Processors) {
		if spec := d.Processors[name]; !slices.Contains(processorTypes, spec.Type) {
			result = multierror.Append(result, invalid("processors."+name+".type", spec.Type, "unknown processor type"))
		}
	}
	for _, name := range sortedKeys(d.Producers) {
		spec := d.Producers[name]
		switch spec.Type {
		case Redirect:
			if spec.EventName == "" {
				result = multierror.Append(result, invalid("producers."+name+".eventName", spec.EventName,
					"redirects need a target event name"))
			}
		case RandomRedirect:
			if len(spec.Redirects) == 0 {
				result = multierror.Append(result, invalid("producers."+name+".redirects", 0,
					"random redirects need at least one target"))
			}
		case Terminate:
		default:
			result = multierror.Append(result, invalid("producers."+name+".type", spec.Type, "unknown producer type"))
		}
	}
	if err := d.Completion.validate("completion"); err != nil {
		result = multierror.Append(result, err)
	}
	if err := d.checkProducerCycles(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (c CompletionSpec) validate(field string) error {
	if c.Type == "" {
		return nil
	}
	if !slices.Contains(completionTypes, c.Type) {
		return invalid(field+".type", c.Type, "unknown completion estimator")
	}
	switch c.Type {
	case EventCount:
		if c.EventName == "" {
			return invalid(field+".eventName", c.EventName, "event counts need an event name")
		}
	case Compound:
		if len(c.Estimators) == 0 {
			return invalid(field+".estimators", 0, "compound estimators need at least one estimator")
		}
		var result *multierror.Error
		for _, nested := range c.Estimators {
			if err := nested.validate(field + ".estimators"); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	}
	return nil
}

// checkProducerCycles rejects producers that can redirect back into themselves, so a
// definition that would loop forever fails at load time rather than on the first publish.
func (d *Definition) checkProducerCycles() error {
	const (
		visiting = 1
		done     = 2
	)
	marks := map[string]int{}
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		spec, ok := d.Producers[name]
		if !ok {
			return nil
		}
		path = append(path, name)
		switch marks[name] {
		case visiting:
			return errors.WithStack(&benchmarkerrors.ErrCyclicalProduction{Path: path})
		case done:
			return nil
		}
		marks[name] = visiting
		for _, target := range spec.targets() {
			if err := visit(target, path); err != nil {
				return err
			}
		}
		marks[name] = done
		return nil
	}
	for _, name := range sortedKeys(d.Producers) {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p ProducerSpec) targets() []string {
	switch p.Type {
	case Redirect:
		return []string{p.EventName}
	case RandomRedirect:
		targets := make([]string, 0, len(p.Redirects))
		for _, r := range p.Redirects {
			targets = append(targets, r.EventName)
		}
		return targets
	}
	return nil
}

func invalid(name string, value interface{}, message string) error {
	return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{Name: name, Value: value, Message: message})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
