// Package snapshot writes and restores backup archives of a storage segment.
//
// An archive is a tar stream, optionally compressed as a whole with zstd, lz4
// or snappy. It holds one entry per storage file, an optional column.backup
// entry with the column database backup, and a trailing manifest.json that
// records every entry's size and xxh3 checksum:
//
//	vectors/text/matrix.dat
//	vectors/text/deleted.dat
//	column.backup
//	manifest.json
//
// Restore autodetects the compression, verifies every checksum and only
// then hands the column backup to the caller.
package snapshot
