//go:build !linux

package resource

import "runtime/debug"

// HostAvailableMemory returns the Go runtime soft memory limit when one is set,
// and 0 (unknown) otherwise.
func HostAvailableMemory() uint64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == 1<<63-1 {
		return 0
	}
	return uint64(limit)
}
