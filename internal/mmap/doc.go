// Package mmap provides memory-mapped file access for the on-disk vector store.
//
// # Overview
//
// The vector matrix is mapped read-only and read through direct pointer casts.
// The deletion bitmap is mapped read-write and shared, so flipping a bit
// writes through the OS page cache straight into the backing file. Flush forces
// dirty pages to disk.
//
// # Usage
//
//	m, err := mmap.OpenRW("deleted.dat")
//	if err != nil { ... }
//	defer m.Close()
//
//	m.Bytes()[0] |= 1
//	_ = m.Flush()
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2), msync(2), madvise(2)
//   - Windows: CreateFileMapping/MapViewOfFile, FlushViewOfFile (advise is a no-op)
//
// # Thread Safety
//
// Mapping is safe for concurrent read access. Close is idempotent. Callers must
// ensure no goroutine touches Bytes() after Close returns; the vector store
// guarantees this by swapping mappings under an exclusive lock.
//
// # Anonymous Mappings
//
// MapAnon creates read-write anonymous mappings. The async disk reader uses
// them as off-heap buffers the kernel can write into while the Go garbage
// collector is free to move heap objects.
package mmap
