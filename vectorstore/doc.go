// Package vectorstore holds fixed-dimension float32 vectors addressed by a
// dense uint32 offset, together with a soft-deletion bitmap.
//
// Two backends implement [VectorStorage]:
//
//   - [Dense] keeps vectors in a chunked in-memory arena and writes every
//     change behind to a column of the shared column database. Opening
//     replays the column.
//   - [Memmap] keeps vectors in a flat, append-only file (matrix.dat) that
//     is memory-mapped, plus a mapped deletion bitmap (deleted.dat). It only
//     grows through [Memmap.UpdateFrom].
//
// [Storage] is the closed set of backends: it wraps exactly one of them and
// dispatches every call with an exhaustive type switch.
//
// # Concurrency
//
// Each store guards its state with a sync.RWMutex. Reads take the read lock
// and copy, so they observe a state either before or after a write. There is
// a single writer per store; concurrent writers are serialized by the lock
// but their interleaving is not otherwise ordered.
package vectorstore
