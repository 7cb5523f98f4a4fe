package vectorstore

import (
	"path/filepath"
	"slices"
	"testing"

	"github.com/hupe1980/vecstore/column"
	"github.com/hupe1980/vecstore/distance"
	"github.com/stretchr/testify/require"
)

func memDB(t *testing.T) *column.DB {
	t.Helper()
	db, err := column.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func openDense(t *testing.T, db *column.DB, dim int, opts ...Option) *Dense {
	t.Helper()
	d, err := OpenDense(column.New(db, column.VectorColumnName("")), dim, distance.DotProduct, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func openMemmap(t *testing.T, dir string, dim int, opts ...Option) *Memmap {
	t.Helper()
	m, err := OpenMemmap(dir, dim, distance.DotProduct, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func memmapDir(t *testing.T) string {
	return filepath.Join(t.TempDir(), "vectors")
}

func vec(dim int, seed int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(seed*dim + i)
	}
	return v
}

// fill inserts n vectors and deletes every offset in del.
func fill(t *testing.T, s VectorStorage, n int, del ...uint32) {
	t.Helper()
	for i := range n {
		require.NoError(t, s.InsertVector(uint32(i), vec(s.VectorDim(), i)))
	}
	for _, o := range del {
		changed, err := s.DeleteVector(o)
		require.NoError(t, err)
		require.True(t, changed)
	}
}

func allOffsets(s VectorStorage) []uint32 {
	return slices.Collect(Range{End: uint32(s.TotalVectorCount())}.All())
}

// popcountBelow counts deleted bits in [0,total).
func popcountBelow(s VectorStorage) int {
	bits := s.DeletedVectorBitslice()
	n := 0
	for i := range s.TotalVectorCount() {
		if bits.Test(uint(i)) {
			n++
		}
	}
	return n
}
