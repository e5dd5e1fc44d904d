package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotEntitled is returned when a session may not start its prep run.
	ErrNotEntitled = errors.New("not entitled")
	// ErrTerminal is returned for operations on a finished run or session.
	ErrTerminal = errors.New("terminal state")
	// ErrConflict marks a request that collides with work already in progress.
	ErrConflict = errors.New("conflict")
)

// ConfigurationError reports a broken scenario definition. It is only
// produced at load time.
type ConfigurationError struct {
	Scenario string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "configuration error"
	}
	if e.Scenario == "" {
		return "configuration error: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("configuration error in scenario %q: %s", e.Scenario, strings.Join(e.Problems, "; "))
}

// CompositionError reports a prompt placeholder that resolved to nothing.
type CompositionError struct {
	Template string
	Key      string
}

func (e *CompositionError) Error() string {
	if e == nil {
		return "composition error"
	}
	if e.Template == "" {
		return fmt.Sprintf("unresolved placeholder %q", e.Key)
	}
	return fmt.Sprintf("unresolved placeholder %q in %s", e.Key, e.Template)
}

// TransientExternalError wraps a timeout or rate limit from a remote
// capability. Callers may retry.
type TransientExternalError struct {
	Op  string
	Err error
}

func (e *TransientExternalError) Error() string {
	if e == nil || e.Err == nil {
		return "transient external error"
	}
	if e.Op == "" {
		return "transient: " + e.Err.Error()
	}
	return e.Op + ": transient: " + e.Err.Error()
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// FatalExternalError wraps an outright rejection from a remote capability.
type FatalExternalError struct {
	Op  string
	Err error
}

func (e *FatalExternalError) Error() string {
	if e == nil || e.Err == nil {
		return "fatal external error"
	}
	if e.Op == "" {
		return "fatal: " + e.Err.Error()
	}
	return e.Op + ": fatal: " + e.Err.Error()
}

func (e *FatalExternalError) Unwrap() error { return e.Err }

// InterruptionConflict records that both parties claimed the floor at once
// and which one was made to yield.
type InterruptionConflict struct {
	Yielded string
	Holder  string
}

func (e *InterruptionConflict) Error() string {
	return fmt.Sprintf("interruption conflict: %s yielded to %s", e.Yielded, e.Holder)
}

func Transient(op string, err error) error { return &TransientExternalError{Op: op, Err: err} }

func Fatal(op string, err error) error { return &FatalExternalError{Op: op, Err: err} }

func IsTransient(err error) bool {
	var t *TransientExternalError
	return errors.As(err, &t)
}

func IsFatal(err error) bool {
	var f *FatalExternalError
	return errors.As(err, &f)
}

func IsComposition(err error) bool {
	var c *CompositionError
	return errors.As(err, &c)
}

func IsConfiguration(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}
