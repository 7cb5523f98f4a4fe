// Package asyncio reads fixed-size float32 records from a flat file in
// batches, keeping several reads in flight at once.
//
// On Linux the reader drives an io_uring instance directly through the
// io_uring_setup/io_uring_enter system calls. A fixed pool of off-heap
// buffers (anonymous mappings) bounds the number of outstanding reads;
// once every buffer is in flight the reader submits and drains at least
// one completion before queuing more.
//
// Where the ring cannot be created (other platforms, seccomp, old kernels)
// [New] falls back to a synchronous pread reader with the same contract.
//
// Records are assumed to be little-endian, matching the on-disk matrix
// format and every platform the ring backend runs on.
package asyncio
