// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with write/read/sync capabilities
//   - [FileSystem]: filesystem operations (open, stat, truncate, rename, ...)
//
// # Implementations
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that injects write, sync and truncate failures
//
// The memory-mapped vector store routes every file mutation (matrix appends,
// bitmap resizing) through a FileSystem so tests can prove that I/O errors
// surface as service errors and leave already-committed state intact.
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("matrix.dat", fs.Fault{FailAfterBytes: 64})
//
// Operations take no context.Context: local filesystem calls are not
// interruptible at the syscall level.
package fs
