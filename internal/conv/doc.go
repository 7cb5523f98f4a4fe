// Package conv provides checked integer conversions for values that cross the
// boundary between Go's platform int and the fixed-width types used on disk.
//
// PointOffsets are uint32; counts and byte sizes read from files are int64.
// Every conversion here fails instead of silently wrapping.
package conv
