package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vecstore/distance"
	"github.com/hupe1980/vecstore/operr"
)

// ErrUnsupported is wrapped by errors of operations a backend cannot perform.
var ErrUnsupported = errors.New("operation not supported by storage backend")

// Flusher persists buffered state of a store.
type Flusher func() error

// Range is the half-open offset interval [Start, End).
type Range struct {
	Start uint32
	End   uint32
}

// Len returns the number of offsets in r.
func (r Range) Len() int { return int(r.End - r.Start) }

// All iterates every offset in r.
func (r Range) All() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for o := r.Start; o < r.End; o++ {
			if !yield(o) {
				return
			}
		}
	}
}

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// VectorStorage is the contract shared by every backend.
type VectorStorage interface {
	VectorDim() int
	Metric() distance.Metric
	IsOnDisk() bool

	// TotalVectorCount is the highest assigned offset + 1, deleted included.
	TotalVectorCount() int
	// AvailableVectorCount is TotalVectorCount minus DeletedVectorCount.
	AvailableVectorCount() int

	// GetVector returns a copy of the vector at offset.
	GetVector(offset uint32) ([]float32, error)
	// GetVectorOpt is GetVector without the error for out-of-range offsets.
	GetVectorOpt(offset uint32) ([]float32, bool)
	// ForEachVector visits offsets in order without copying. The slice is
	// only valid inside fn. Iteration stops when fn returns false.
	ForEachVector(fn func(offset uint32, vector []float32) bool)

	InsertVector(offset uint32, vector []float32) error
	// DeleteVector marks offset deleted and reports whether the flag changed.
	DeleteVector(offset uint32) (bool, error)
	IsDeletedVector(offset uint32) bool
	DeletedVectorCount() int
	// DeletedVectorBitslice returns a snapshot of the deletion bitmap.
	DeletedVectorBitslice() *bitset.BitSet

	// UpdateFrom appends the vectors of other at ids, preserving their
	// deletion flags, and returns the offsets they were assigned.
	UpdateFrom(ctx context.Context, other VectorStorage, ids iter.Seq[uint32]) (Range, error)

	Flusher() Flusher
	Files() []string
	Close() error
}

// sourceVector reads one vector of a migration source.
func sourceVector(other VectorStorage, id uint32, dim int) ([]float32, bool, error) {
	vec, ok := other.GetVectorOpt(id)
	if !ok {
		return nil, false, operr.Validation("source vector %d does not exist", id)
	}
	if err := operr.CheckDimension(dim, len(vec)); err != nil {
		return nil, false, err
	}
	return vec, other.IsDeletedVector(id), nil
}

// unwrap returns the backend behind a Storage.
func unwrap(s VectorStorage) VectorStorage {
	if st, ok := s.(*Storage); ok && st != nil {
		return st.b
	}
	return s
}

func outOfRange(offset uint32, total int) error {
	return operr.Validation("point offset %d out of range [0,%d)", offset, total)
}
