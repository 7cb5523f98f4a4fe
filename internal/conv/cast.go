package conv

import (
	"fmt"
	"math"
)

// MaxOffsetCount is the number of distinct PointOffsets a store can address.
const MaxOffsetCount = math.MaxUint32 + 1

// IntToUint32 converts int to uint32 safely.
func IntToUint32(v int) (uint32, error) {
	if v < 0 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint32 (negative)", v)
	}
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to uint32 (too large)", v)
	}
	return uint32(v), nil
}

// Int64ToInt converts int64 to int safely.
func Int64ToInt(v int64) (int, error) {
	if v < math.MinInt || v > math.MaxInt {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int", v)
	}
	return int(v), nil
}

// NextOffset returns the PointOffset that follows a store holding count vectors.
// It fails once the offset space is exhausted.
func NextOffset(count int) (uint32, error) {
	if count < 0 || uint64(count) >= MaxOffsetCount {
		return 0, fmt.Errorf("point offset space exhausted at %d vectors", count)
	}
	return uint32(count), nil
}

// ByteOffset returns offset*rawSize+header as int64, the position of a record
// inside a flat file.
func ByteOffset(offset uint32, rawSize, header int) (int64, error) {
	if rawSize <= 0 || header < 0 {
		return 0, fmt.Errorf("invalid record layout: size %d header %d", rawSize, header)
	}
	pos := uint64(offset)*uint64(rawSize) + uint64(header)
	if pos > math.MaxInt64 {
		return 0, fmt.Errorf("integer overflow: record %d at size %d", offset, rawSize)
	}
	return int64(pos), nil
}
