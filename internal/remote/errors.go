package remote

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by Client.Predict is a *StageError
// whose Kind is one of these.
var (
	ErrUnreachable       = errors.New("remote scorer unreachable")
	ErrNonOKStatus       = errors.New("remote scorer returned non-OK status")
	ErrMalformedResponse = errors.New("malformed remote scorer response")
	ErrTimeout           = errors.New("remote scorer timed out")
)

// StageError describes a failed remote scoring attempt.
type StageError struct {
	Kind       error
	StatusCode int // set for ErrNonOKStatus
	Err        error
}

func (e *StageError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%v (status %d): %v", e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%v (status %d)", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code is a short stable label for the failure kind, used in logs,
// metrics and the remoteFailure diagnostic.
func (e *StageError) Code() string {
	return Code(e)
}

// Code returns the short failure label for err, or "unknown".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNonOKStatus):
		return "non_ok_status"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	}
	return "unknown"
}
