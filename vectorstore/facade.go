package vectorstore

import (
	"context"
	"fmt"
	"iter"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vecstore/distance"
	"github.com/hupe1980/vecstore/operr"
)

// Kind identifies the backend of a Storage.
type Kind int

const (
	KindDense Kind = iota
	KindMemmap
)

func (k Kind) String() string {
	switch k {
	case KindDense:
		return "dense"
	case KindMemmap:
		return "memmap"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind parses a backend kind name as returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "dense":
		return KindDense, nil
	case "memmap":
		return KindMemmap, nil
	default:
		return 0, operr.Validation("unknown storage kind %q", s)
	}
}

// backend is implemented only by *Dense and *Memmap.
type backend interface {
	VectorStorage
	isBackend()
}

// Storage wraps exactly one backend.
type Storage struct {
	b backend
}

// FromDense wraps a dense store.
func FromDense(d *Dense) *Storage { return &Storage{b: d} }

// FromMemmap wraps a memmap store.
func FromMemmap(m *Memmap) *Storage { return &Storage{b: m} }

func unknownBackend(b backend) string {
	return fmt.Sprintf("vectorstore: unknown storage backend %T", b)
}

// Kind returns the backend kind.
func (s *Storage) Kind() Kind {
	switch s.b.(type) {
	case *Dense:
		return KindDense
	case *Memmap:
		return KindMemmap
	default:
		panic(unknownBackend(s.b))
	}
}

// Dense returns the dense backend, if that is what s wraps.
func (s *Storage) Dense() (*Dense, bool) {
	d, ok := s.b.(*Dense)
	return d, ok
}

// Memmap returns the memmap backend, if that is what s wraps.
func (s *Storage) Memmap() (*Memmap, bool) {
	m, ok := s.b.(*Memmap)
	return m, ok
}

// VectorDim returns the vector dimension.
func (s *Storage) VectorDim() int {
	switch b := s.b.(type) {
	case *Dense:
		return b.VectorDim()
	case *Memmap:
		return b.VectorDim()
	default:
		panic(unknownBackend(s.b))
	}
}

// Metric returns the metric identity the vectors were stored for.
func (s *Storage) Metric() distance.Metric {
	switch b := s.b.(type) {
	case *Dense:
		return b.Metric()
	case *Memmap:
		return b.Metric()
	default:
		panic(unknownBackend(s.b))
	}
}

// IsOnDisk reports whether vectors are served from disk.
func (s *Storage) IsOnDisk() bool {
	switch b := s.b.(type) {
	case *Dense:
		return b.IsOnDisk()
	case *Memmap:
		return b.IsOnDisk()
	default:
		panic(unknownBackend(s.b))
	}
}

// TotalVectorCount returns the number of offsets, deleted ones included.
func (s *Storage) TotalVectorCount() int {
	switch b := s.b.(type) {
	case *Dense:
		return b.TotalVectorCount()
	case *Memmap:
		return b.TotalVectorCount()
	default:
		panic(unknownBackend(s.b))
	}
}

// AvailableVectorCount returns the number of vectors not deleted.
func (s *Storage) AvailableVectorCount() int {
	switch b := s.b.(type) {
	case *Dense:
		return b.AvailableVectorCount()
	case *Memmap:
		return b.AvailableVectorCount()
	default:
		panic(unknownBackend(s.b))
	}
}

// GetVector returns a copy of the vector at offset.
func (s *Storage) GetVector(offset uint32) ([]float32, error) {
	switch b := s.b.(type) {
	case *Dense:
		return b.GetVector(offset)
	case *Memmap:
		return b.GetVector(offset)
	default:
		panic(unknownBackend(s.b))
	}
}

// GetVectorOpt is GetVector that reports a missing offset instead of failing.
func (s *Storage) GetVectorOpt(offset uint32) ([]float32, bool) {
	switch b := s.b.(type) {
	case *Dense:
		return b.GetVectorOpt(offset)
	case *Memmap:
		return b.GetVectorOpt(offset)
	default:
		panic(unknownBackend(s.b))
	}
}

// ForEachVector visits every vector until fn returns false.
func (s *Storage) ForEachVector(fn func(offset uint32, vector []float32) bool) {
	switch b := s.b.(type) {
	case *Dense:
		b.ForEachVector(fn)
	case *Memmap:
		b.ForEachVector(fn)
	default:
		panic(unknownBackend(s.b))
	}
}

// InsertVector writes vector at offset.
func (s *Storage) InsertVector(offset uint32, vector []float32) error {
	switch b := s.b.(type) {
	case *Dense:
		return b.InsertVector(offset, vector)
	case *Memmap:
		return b.InsertVector(offset, vector)
	default:
		panic(unknownBackend(s.b))
	}
}

// DeleteVector flags offset deleted and reports whether the flag changed.
func (s *Storage) DeleteVector(offset uint32) (bool, error) {
	switch b := s.b.(type) {
	case *Dense:
		return b.DeleteVector(offset)
	case *Memmap:
		return b.DeleteVector(offset)
	default:
		panic(unknownBackend(s.b))
	}
}

// IsDeletedVector reports whether offset is deleted.
func (s *Storage) IsDeletedVector(offset uint32) bool {
	switch b := s.b.(type) {
	case *Dense:
		return b.IsDeletedVector(offset)
	case *Memmap:
		return b.IsDeletedVector(offset)
	default:
		panic(unknownBackend(s.b))
	}
}

// DeletedVectorCount returns the number of deleted offsets.
func (s *Storage) DeletedVectorCount() int {
	switch b := s.b.(type) {
	case *Dense:
		return b.DeletedVectorCount()
	case *Memmap:
		return b.DeletedVectorCount()
	default:
		panic(unknownBackend(s.b))
	}
}

// DeletedVectorBitslice returns a copy of the deletion bitmap.
func (s *Storage) DeletedVectorBitslice() *bitset.BitSet {
	switch b := s.b.(type) {
	case *Dense:
		return b.DeletedVectorBitslice()
	case *Memmap:
		return b.DeletedVectorBitslice()
	default:
		panic(unknownBackend(s.b))
	}
}

// UpdateFrom appends the vectors of other at ids to the backend.
func (s *Storage) UpdateFrom(ctx context.Context, other VectorStorage, ids iter.Seq[uint32]) (Range, error) {
	switch b := s.b.(type) {
	case *Dense:
		return b.UpdateFrom(ctx, other, ids)
	case *Memmap:
		return b.UpdateFrom(ctx, other, ids)
	default:
		panic(unknownBackend(s.b))
	}
}

// Flusher returns the backend flusher.
func (s *Storage) Flusher() Flusher {
	switch b := s.b.(type) {
	case *Dense:
		return b.Flusher()
	case *Memmap:
		return b.Flusher()
	default:
		panic(unknownBackend(s.b))
	}
}

// Files returns the backing files of the backend.
func (s *Storage) Files() []string {
	switch b := s.b.(type) {
	case *Dense:
		return b.Files()
	case *Memmap:
		return b.Files()
	default:
		panic(unknownBackend(s.b))
	}
}

// Close closes the backend.
func (s *Storage) Close() error {
	switch b := s.b.(type) {
	case *Dense:
		return b.Close()
	case *Memmap:
		return b.Close()
	default:
		panic(unknownBackend(s.b))
	}
}

var (
	_ VectorStorage = (*Storage)(nil)
	_ backend       = (*Dense)(nil)
	_ backend       = (*Memmap)(nil)
)
