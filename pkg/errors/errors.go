// Package errors defines the typed error kinds shared across
// backtestlab's components and their propagation policy.
package errors

import "fmt"

// Kind identifies which typed failure occurred.
type Kind string

const (
	NoData             Kind = "no_data"
	CorruptFile        Kind = "corrupt_file"
	BrokerUnavailable  Kind = "broker_unavailable"
	InvalidSignal      Kind = "invalid_signal"
	InvalidVolume      Kind = "invalid_volume"
	UnknownPosition    Kind = "unknown_position"
	StrategyError      Kind = "strategy_error"
	OptimizerTaskError Kind = "optimizer_task_error"
	Cancelled          Kind = "cancelled"
	InvalidConfig      Kind = "invalid_config"
)

// Error is a typed, optionally wrapped failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, errors.New(SomeKind, "")) style kind checks
// when callers construct a sentinel with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a typed error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a typed error around an upstream cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// OfKind reports whether err is an *Error of the given kind.
func OfKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
