package core

import (
	"github.com/pkg/errors"
)

var (
	ErrNoPrimaryKey    = errors.New("persistor has no primary key")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrInvalidOption   = errors.New("invalid option")
	// ErrBackend marks failures of the wrapped persistor, as opposed to a row that
	// does not exist.
	ErrBackend = errors.New("backend failure")
)

// backendError keeps the cause reachable while matching ErrBackend.
type backendError struct {
	op  string
	err error
}

func (e *backendError) Error() string        { return "backend " + e.op + ": " + e.err.Error() }
func (e *backendError) Unwrap() error        { return e.err }
func (e *backendError) Is(target error) bool { return target == ErrBackend }
