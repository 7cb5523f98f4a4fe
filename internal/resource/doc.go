// Package resource governs the memory and IO budgets of the storage layer.
//
// The Controller provides two resource types:
//
//   - Memory: arena chunk reservations are charged against an optional hard
//     limit. Reservations never block; a refused reservation surfaces as an
//     out-of-memory condition that callers can handle (for example by rejecting
//     writes) without crashing the process.
//   - IO: a token bucket that throttles bulk migration writes so they do not
//     starve foreground reads.
//
// # Memory
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB limit
//	})
//
//	if err := rc.AcquireMemory(32 << 20); err != nil {
//	    // ErrMemoryLimitExceeded - caller decides what to reject
//	}
//	defer rc.ReleaseMemory(32 << 20)
//
// AvailableMemory reports an estimate of free host memory. It is attached to
// out-of-memory errors to aid diagnosis.
//
// # IO
//
//	w := resource.NewRateLimitedWriter(ctx, file, rc)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource
