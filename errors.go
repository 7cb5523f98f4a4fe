package vecstore

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownVector is returned for vector names that are not configured.
	ErrUnknownVector = errors.New("unknown vector name")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vecstore: manager closed")
)

// ErrStorageFailed indicates that an earlier write left a storage in an
// unknown state. The storage rejects writes until it is reloaded.
//
// The original error can be accessed via errors.Unwrap.
type ErrStorageFailed struct {
	Name  string
	cause error
}

func (e *ErrStorageFailed) Error() string {
	return fmt.Sprintf("vector storage %q failed: %v", e.Name, e.cause)
}

func (e *ErrStorageFailed) Unwrap() error { return e.cause }

func unknownVector(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownVector, name)
}
