// Package benchmarkerrors contains generic errors returned by the stores, registries and run lifecycle.
// Callers look for these types with errors.As to decide whether a failure is expected,
// e.g., inserting a start event that another driver already inserted.
//
// If multiple errors occur in some function (e.g., several services fail to stop), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package benchmarkerrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "event" or "session"
	Value   string // Resource name, e.g., "start"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "threadCount"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", fmt.Sprint(err.Value), err.Name)
	} else {
		return fmt.Sprintf("value %q is invalid for field %q; %s", fmt.Sprint(err.Value), err.Name, err.Message)
	}
}

// ErrIllegalTransition is returned when a test run is asked to move to a state
// that is not reachable from its current state.
type ErrIllegalTransition struct {
	From string
	To   string
}

func (err *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal state transition from %s to %s", err.From, err.To)
}

// ErrCyclicalProduction is returned when producer expansion re-enters an event name
// already on the current expansion path. Path lists the names from the root to the repeat.
type ErrCyclicalProduction struct {
	Path []string
}

func (err *ErrCyclicalProduction) Error() string {
	return fmt.Sprintf("cyclical event production detected: %s", strings.Join(err.Path, " -> "))
}

// IsAlreadyExists reports whether any error in the chain is an *ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	var e *ErrAlreadyExists
	return errors.As(err, &e)
}

// IsNotFound reports whether any error in the chain is an *ErrNotFound.
func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}
