package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a sensor has no stored rows.
var ErrNotFound = errors.New("no readings found")

// ErrNoKeyspace is returned when a statement runs before UseKeyspace.
var ErrNoKeyspace = errors.New("no keyspace selected")

// StoreError wraps a failed statement. The row of a failed insert is
// not considered written.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// StartupError means the store could not be made ready; the process must
// not start serving.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("store startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }
