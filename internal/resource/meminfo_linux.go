//go:build linux

package resource

import "golang.org/x/sys/unix"

// HostAvailableMemory returns free plus buffer memory as reported by sysinfo(2).
func HostAvailableMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
}
