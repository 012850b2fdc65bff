package webdistributor

import (
	"errors"
	"fmt"
)

var (
	ErrRouteExists    = errors.New("route already exists")
	ErrRouteMissing   = errors.New("route does not exist")
	ErrGroupExists    = errors.New("login group already exists")
	ErrGroupMissing   = errors.New("login group does not exist")
	ErrBindingExists  = errors.New("login group already applied")
	ErrBindingMissing = errors.New("no login group applied")
	ErrLoginExists    = errors.New("login already exists")
	ErrLoginMissing   = errors.New("login does not exist")
	ErrInvalidInput   = errors.New("invalid input")
)

// PreconditionError is returned when a command cannot run because of the current state of the registry or the
// login groups. The message is meant to be shown to the user as-is.
type PreconditionError struct {
	Kind    error
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

func (e *PreconditionError) Unwrap() error {
	return e.Kind
}

func precondition(kind error, format string, args ...interface{}) error {
	return &PreconditionError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsPrecondition reports whether err was caused by a violated command precondition rather than a system failure.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
