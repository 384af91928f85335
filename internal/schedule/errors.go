package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies why an instance's schedule was rejected.
type Kind int

const (
	KindUnknown Kind = iota
	MalformedInput
	InvalidCronExpression
	GranularityViolation
	WindowTooShort
	ProductionGuardTriggered
)

func (k Kind) String() string {
	switch k {
	case MalformedInput:
		return "malformed_input"
	case InvalidCronExpression:
		return "invalid_cron_expression"
	case GranularityViolation:
		return "granularity_violation"
	case WindowTooShort:
		return "window_too_short"
	case ProductionGuardTriggered:
		return "production_guard_triggered"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching. An *Error matches the sentinel of its Kind.
var (
	ErrMalformedInput        = errors.New("malformed input")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrGranularityViolation  = errors.New("granularity violation")
	ErrWindowTooShort        = errors.New("window too short")
	ErrProductionGuard       = errors.New("production guard triggered")
)

func (k Kind) sentinel() error {
	switch k {
	case MalformedInput:
		return ErrMalformedInput
	case InvalidCronExpression:
		return ErrInvalidCronExpression
	case GranularityViolation:
		return ErrGranularityViolation
	case WindowTooShort:
		return ErrWindowTooShort
	case ProductionGuardTriggered:
		return ErrProductionGuard
	default:
		return nil
	}
}

// Error is a schedule rejection.
type Error struct {
	Kind Kind
	// Field names the offending input ("start", "stop", "environment", ...), if any.
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// WindowError carries the computed window for a WindowTooShort rejection.
type WindowError struct {
	// Window is "uptime" or "downtime".
	Window   string
	Duration time.Duration
	Minimum  time.Duration
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("instance %s (%s) is less than minimum (%s)", e.Window, e.Duration, e.Minimum)
}

func newError(kind Kind, field, msg string, err error) *Error {
	return &Error{Kind: kind, Field: field, Msg: msg, Err: err}
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
