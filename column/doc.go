// Package column provides named column families on top of a single shared
// BadgerDB instance.
//
// Badger has no native column families, so each column is assigned a
// numeric id persisted in a small registry inside the database. A column's
// keys live under the 5-byte prefix {0x01, id(big-endian)} and dropping a
// column removes that prefix in one DropPrefix call. Ids are never reused,
// so a recreated column never sees stale keys.
//
// Writes are fire-and-forget (SyncWrites=false); durability is reached by
// calling the Flusher returned from [Wrapper.Flusher].
//
// The [DB] handle is reference counted and guarded by a read/write lock:
// creating or dropping a column takes it exclusively, key operations share
// it.
package column
