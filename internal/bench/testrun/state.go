package testrun

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
)

type TestRunState string

const (
	NotScheduled TestRunState = "NOT_SCHEDULED"
	Scheduled    TestRunState = "SCHEDULED"
	Started      TestRunState = "STARTED"
	Stopped      TestRunState = "STOPPED"
	Completed    TestRunState = "COMPLETED"
)

// Every state may move to itself so transitions can be applied more than once.
var transitions = map[TestRunState][]TestRunState{
	NotScheduled: {NotScheduled, Scheduled},
	Scheduled:    {NotScheduled, Scheduled, Started},
	Started:      {Started, Stopped, Completed},
	Stopped:      {Stopped},
	Completed:    {Completed},
}

// Transition returns next if the run may move to it from s.
func (s TestRunState) Transition(next TestRunState) (TestRunState, error) {
	if !slices.Contains(transitions[s], next) {
		return s, errors.WithStack(&benchmarkerrors.ErrIllegalTransition{From: string(s), To: string(next)})
	}
	return next, nil
}

// Next lists the states s may move to.
func (s TestRunState) Next() []TestRunState {
	return slices.Clone(transitions[s])
}

// States lists every state in lifecycle order.
func States() []TestRunState {
	return []TestRunState{NotScheduled, Scheduled, Started, Stopped, Completed}
}

// PropertiesWritable reports whether the run's properties may still be changed.
func (s TestRunState) PropertiesWritable() bool {
	return s == NotScheduled || s == Scheduled
}

func (s TestRunState) IsTerminal() bool {
	return s == Stopped || s == Completed
}

func (s TestRunState) String() string {
	return string(s)
}

func ParseTestRunState(value string) (TestRunState, error) {
	state := TestRunState(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := transitions[state]; !ok {
		return "", errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "TestRunState",
			Value:   value,
			Message: "unknown test run state",
		})
	}
	return state, nil
}

func (s *TestRunState) UnmarshalText(text []byte) error {
	state, err := ParseTestRunState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

func (s TestRunState) MarshalText() ([]byte, error) {
	return []byte(s), nil
}
