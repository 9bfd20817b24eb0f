package convert

import (
	"errors"
	"fmt"
)

// Kind separates failures that never reached the service from answers it gave.
type Kind string

const (
	KindTransport Kind = "transport"
	KindService   Kind = "service"
)

// ErrMissingLocator is returned when a successful response carries no document location.
var ErrMissingLocator = errors.New("response did not include a document location")

// Error is a failed conversion request.
type Error struct {
	Kind   Kind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("[%s] status %d: %s", e.Kind, e.Status, e.Detail)
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("[%s] status %d: %v", e.Kind, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("[%s] status %d", e.Kind, e.Status)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
