// Package operr defines the error taxonomy shared by every storage component.
//
// Errors fall into four categories that callers can tell apart with errors.Is:
//
//   - ErrValidation: caller-supplied input was rejected (wrong dimension, bad offset).
//     The single operation failed; nothing changed.
//   - ErrOutOfMemory: a capacity reservation was refused. Carries an estimate of the
//     memory currently available on the host.
//   - ErrService: I/O failure, corruption, missing files or short reads. The affected
//     segment should refuse further writes until it is reloaded.
//   - ErrCancelled: a long-running bulk operation observed its cancellation signal.
//     Work committed before the signal is kept.
//
// ErrColumnNotFound is reported when a column family is accessed after it was
// dropped (or before it was created). It is recoverable and is not a service error.
package operr
