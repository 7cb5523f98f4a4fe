package operr

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrValidation is the category of rejected caller input.
	ErrValidation = errors.New("validation failed")

	// ErrOutOfMemory is the category of refused capacity reservations.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrService is the category of errors that prevent further updates of a segment.
	ErrService = errors.New("service error")

	// ErrCancelled is returned when a bulk operation is cancelled.
	ErrCancelled = errors.New("operation cancelled")

	// ErrColumnNotFound is returned when a column family does not exist.
	ErrColumnNotFound = errors.New("column family not found")
)

// ProcessCancelledMessage is the description used for externally cancelled work.
const ProcessCancelledMessage = "process cancelled by service"

// ValidationError describes rejected input.
type ValidationError struct {
	Description string
	cause       error
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Description
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.cause }

// Validation returns a ValidationError with a formatted description.
func Validation(format string, args ...any) error {
	return &ValidationError{Description: fmt.Sprintf(format, args...)}
}

// WrapValidation returns a ValidationError that wraps cause, so callers can
// still match the specific reason with errors.Is.
func WrapValidation(cause error, format string, args ...any) error {
	return &ValidationError{Description: fmt.Sprintf(format, args...), cause: cause}
}

// DimensionMismatchError indicates a vector whose length differs from the store dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("wrong vector dimension: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrValidation }

// CheckDimension returns a DimensionMismatchError if got != want.
func CheckDimension(want, got int) error {
	if want != got {
		return &DimensionMismatchError{Expected: want, Actual: got}
	}
	return nil
}

// OutOfMemoryError is returned when a reservation cannot be satisfied.
// Free is the estimated number of bytes currently available on the host.
type OutOfMemoryError struct {
	Description string
	Free        uint64
	cause       error
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory, free: %d, %s", e.Free, e.Description)
}

func (e *OutOfMemoryError) Is(target error) bool { return target == ErrOutOfMemory }

func (e *OutOfMemoryError) Unwrap() error { return e.cause }

// OutOfMemory returns an OutOfMemoryError wrapping cause.
func OutOfMemory(description string, free uint64, cause error) error {
	return &OutOfMemoryError{Description: description, Free: free, cause: cause}
}

// ServiceError is an internal failure that should stop writes to the affected segment.
type ServiceError struct {
	Description string
	// Stack is the goroutine stack at the point the error was created.
	Stack string
	cause error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("service runtime error: %s: %v", e.Description, e.cause)
	}
	return "service runtime error: " + e.Description
}

func (e *ServiceError) Is(target error) bool { return target == ErrService }

func (e *ServiceError) Unwrap() error { return e.cause }

// Service returns a ServiceError with the given description.
func Service(description string) error {
	return &ServiceError{Description: description, Stack: string(debug.Stack())}
}

// Servicef returns a ServiceError with a formatted description.
func Servicef(format string, args ...any) error {
	return Service(fmt.Sprintf(format, args...))
}

// WrapService wraps cause into a ServiceError. It returns nil if cause is nil and
// returns cause unchanged if it already belongs to a known category.
func WrapService(cause error, description string) error {
	if cause == nil {
		return nil
	}
	if Categorized(cause) {
		return cause
	}
	return &ServiceError{Description: description, Stack: string(debug.Stack()), cause: cause}
}

// CancelledError reports a cooperative abort.
type CancelledError struct {
	Description string
	cause       error
}

func (e *CancelledError) Error() string {
	return "operation cancelled: " + e.Description
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

func (e *CancelledError) Unwrap() error { return e.cause }

// Cancelled returns a CancelledError wrapping cause (usually ctx.Err()).
func Cancelled(cause error) error {
	return &CancelledError{Description: ProcessCancelledMessage, cause: cause}
}

// CheckStopped returns a CancelledError if ctx is done.
func CheckStopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Cancelled(err)
	}
	return nil
}

// Categorized reports whether err belongs to one of the taxonomy categories.
func Categorized(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOutOfMemory) ||
		errors.Is(err, ErrService) ||
		errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrColumnNotFound)
}

// IsFatal reports whether err should stop further writes to the segment.
func IsFatal(err error) bool {
	return errors.Is(err, ErrService)
}

// IsCancelled reports whether err is a cooperative abort.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
