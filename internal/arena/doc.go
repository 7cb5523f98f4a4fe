// Package arena provides a chunked, append-oriented arena for fixed-dimension
// float32 vectors addressed by a dense uint32 offset.
//
// # Layout
//
// Vectors are stored row-major in chunks of ChunkCapacity vectors each
// (32 MiB per chunk by default, never fewer than 16 vectors). A vector at
// offset o lives in chunk o/ChunkCapacity at element (o%ChunkCapacity)*dim.
// The first chunk grows by doubling so small stores stay small; every other
// chunk reserves its full capacity the first time a write touches it.
//
// # Memory accounting
//
// Every capacity growth is reserved from a MemoryAcquirer before the Go heap
// is touched. A refused reservation surfaces as *operr.OutOfMemoryError and
// leaves the arena unchanged.
//
// # Concurrency Model
//
// Chunked is not safe for concurrent use. Owners serialize writers and
// guard readers with their own lock.
package arena
