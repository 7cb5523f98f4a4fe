package vectorstore

import (
	"context"
	"slices"
	"testing"

	"github.com/hupe1980/vecstore/column"
	"github.com/hupe1980/vecstore/distance"
	"github.com/hupe1980/vecstore/internal/resource"
	"github.com/hupe1980/vecstore/operr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenseInsertAndGet(t *testing.T) {
	d := openDense(t, memDB(t), 4)

	for i := range 10 {
		require.NoError(t, d.InsertVector(uint32(i), vec(4, i)))
		assert.Equal(t, i+1, d.TotalVectorCount())
	}

	for i := range 10 {
		got, err := d.GetVector(uint32(i))
		require.NoError(t, err)
		assert.Equal(t, vec(4, i), got)
	}

	_, err := d.GetVector(10)
	assert.ErrorIs(t, err, operr.ErrValidation)
	_, ok := d.GetVectorOpt(10)
	assert.False(t, ok)

	// Returned vectors are copies.
	got, _ := d.GetVector(3)
	got[0] = -1
	again, _ := d.GetVector(3)
	assert.Equal(t, vec(4, 3), again)

	assert.False(t, d.IsOnDisk())
	assert.Empty(t, d.Files())
	assert.Equal(t, distance.DotProduct, d.Metric())
}

func TestDenseSparseInsert(t *testing.T) {
	d := openDense(t, memDB(t), 2)
	require.NoError(t, d.InsertVector(7, []float32{1, 2}))
	assert.Equal(t, 8, d.TotalVectorCount())
	got, err := d.GetVector(3)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, got)
}

func TestDenseWrongDimension(t *testing.T) {
	d := openDense(t, memDB(t), 4)
	require.NoError(t, d.InsertVector(0, vec(4, 0)))

	err := d.InsertVector(1, make([]float32, 128))
	require.Error(t, err)
	assert.ErrorIs(t, err, operr.ErrValidation)
	assert.Equal(t, 1, d.TotalVectorCount())
}

func TestDenseDeleteIdempotent(t *testing.T) {
	d := openDense(t, memDB(t), 4)
	fill(t, d, 5)

	changed, err := d.DeleteVector(2)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = d.DeleteVector(2)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, 1, d.DeletedVectorCount())
	assert.Equal(t, 4, d.AvailableVectorCount())
	assert.True(t, d.IsDeletedVector(2))
	assert.False(t, d.IsDeletedVector(100))

	// Out of range deletes are ignored.
	changed, err = d.DeleteVector(100)
	require.NoError(t, err)
	assert.False(t, changed)

	// Re-inserting clears the flag.
	require.NoError(t, d.InsertVector(2, vec(4, 9)))
	assert.False(t, d.IsDeletedVector(2))
	assert.Zero(t, d.DeletedVectorCount())
}

func TestDenseDeletedCountMatchesBitslice(t *testing.T) {
	d := openDense(t, memDB(t), 3)
	fill(t, d, 100, 0, 17, 63, 64, 99)

	assert.Equal(t, 5, d.DeletedVectorCount())
	assert.Equal(t, d.DeletedVectorCount(), popcountBelow(d))

	// The bitslice is a snapshot.
	bits := d.DeletedVectorBitslice()
	bits.Set(5)
	assert.False(t, d.IsDeletedVector(5))
}

func TestDenseReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := column.Open(dir)
	require.NoError(t, err)

	col := column.New(db, column.VectorColumnName("img"))
	d, err := OpenDense(col, 4, distance.Cosine)
	require.NoError(t, err)
	fill(t, d, 50, 3, 10, 49)
	require.NoError(t, d.Flusher()())
	require.NoError(t, d.Close())
	require.NoError(t, db.Close())

	db, err = column.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	d, err = OpenDense(column.New(db, column.VectorColumnName("img")), 4, distance.Cosine)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 50, d.TotalVectorCount())
	assert.Equal(t, 3, d.DeletedVectorCount())
	for i := range 50 {
		got, err := d.GetVector(uint32(i))
		require.NoError(t, err)
		assert.Equal(t, vec(4, i), got)
	}
	assert.True(t, d.IsDeletedVector(10))
}

func TestDenseReplayRejectsCorruptRecords(t *testing.T) {
	db := memDB(t)
	col := column.New(db, column.VectorColumn)
	require.NoError(t, col.CreateIfNotExists())
	require.NoError(t, col.Put(EncodeKey(0), []byte{0xc1}))

	_, err := OpenDense(col, 4, distance.Euclid)
	assert.ErrorIs(t, err, operr.ErrService)

	require.NoError(t, col.Recreate())
	require.NoError(t, col.Put([]byte{1, 2}, []byte{}))
	_, err = OpenDense(col, 4, distance.Euclid)
	assert.ErrorIs(t, err, operr.ErrService)

	require.NoError(t, col.Recreate())
	raw, err := MarshalRecord(StoredRecord{Vector: []float32{1, 2}})
	require.NoError(t, err)
	require.NoError(t, col.Put(EncodeKey(0), raw))
	_, err = OpenDense(col, 4, distance.Euclid)
	assert.ErrorIs(t, err, operr.ErrService)
}

func TestDensePersistFailureRollsBack(t *testing.T) {
	db := memDB(t)
	d := openDense(t, db, 2)
	fill(t, d, 3)

	require.NoError(t, d.Column().Drop())

	err := d.InsertVector(5, []float32{9, 9})
	require.Error(t, err)
	assert.True(t, operr.IsFatal(err))
	assert.Equal(t, 3, d.TotalVectorCount())

	err = d.InsertVector(1, []float32{9, 9})
	require.Error(t, err)
	got, _ := d.GetVector(1)
	assert.Equal(t, vec(2, 1), got)

	changed, err := d.DeleteVector(0)
	require.Error(t, err)
	assert.False(t, changed)
	assert.False(t, d.IsDeletedVector(0))
}

func TestDenseOutOfMemory(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 16})
	d := openDense(t, memDB(t), 4, WithResourceController(rc))

	require.NoError(t, d.InsertVector(0, vec(4, 0)))
	err := d.InsertVector(1, vec(4, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, operr.ErrOutOfMemory)
	assert.Equal(t, 1, d.TotalVectorCount())

	require.NoError(t, d.Close())
	assert.Zero(t, rc.MemoryUsage())
}

func TestDenseUpdateFrom(t *testing.T) {
	db := memDB(t)
	src := openDense(t, db, 3)
	fill(t, src, 6, 1, 4)

	dst, err := OpenDense(column.New(db, "dst"), 3, distance.DotProduct)
	require.NoError(t, err)
	defer dst.Close()

	r, err := dst.UpdateFrom(context.Background(), FromDense(src), slices.Values(allOffsets(src)))
	require.NoError(t, err)
	assert.Equal(t, Range{Start: 0, End: 6}, r)
	assert.Equal(t, 6, r.Len())

	for i := range 6 {
		got, err := dst.GetVector(uint32(i))
		require.NoError(t, err)
		assert.Equal(t, vec(3, i), got)
		assert.Equal(t, src.IsDeletedVector(uint32(i)), dst.IsDeletedVector(uint32(i)))
	}
	assert.Equal(t, 2, dst.DeletedVectorCount())

	// Deleted source vectors are persisted as tombstones directly.
	for i := range 6 {
		raw, err := dst.Column().Get(EncodeKey(uint32(i)))
		require.NoError(t, err)
		rec, err := UnmarshalRecord(raw)
		require.NoError(t, err)
		assert.Equal(t, src.IsDeletedVector(uint32(i)), rec.Deleted, "offset %d", i)
		assert.Equal(t, vec(3, i), rec.Vector)
	}

	// Appends after existing vectors, in the order of ids.
	r, err = dst.UpdateFrom(context.Background(), src, slices.Values([]uint32{5, 0}))
	require.NoError(t, err)
	assert.Equal(t, Range{Start: 6, End: 8}, r)
	got, _ := dst.GetVector(6)
	assert.Equal(t, vec(3, 5), got)

	_, err = dst.UpdateFrom(context.Background(), FromDense(dst), slices.Values([]uint32{0}))
	assert.ErrorIs(t, err, operr.ErrValidation)

	_, err = dst.UpdateFrom(context.Background(), src, slices.Values([]uint32{99}))
	assert.ErrorIs(t, err, operr.ErrValidation)
}

func TestDenseUpdateFromCancelled(t *testing.T) {
	db := memDB(t)
	src := openDense(t, db, 2)
	fill(t, src, 10)

	dst, err := OpenDense(column.New(db, "dst"), 2, distance.DotProduct)
	require.NoError(t, err)
	defer dst.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ids := func(yield func(uint32) bool) {
		for i := range uint32(10) {
			if i == 4 {
				cancel()
			}
			if !yield(i) {
				return
			}
		}
	}

	r, err := dst.UpdateFrom(ctx, src, ids)
	require.Error(t, err)
	assert.ErrorIs(t, err, operr.ErrCancelled)
	assert.Equal(t, Range{Start: 0, End: 4}, r)
	assert.Equal(t, 4, dst.TotalVectorCount())
}

func TestDenseForEachVector(t *testing.T) {
	d := openDense(t, memDB(t), 2)
	fill(t, d, 5)

	var seen []uint32
	d.ForEachVector(func(offset uint32, v []float32) bool {
		assert.Equal(t, vec(2, int(offset)), v)
		seen = append(seen, offset)
		return offset < 2
	})
	assert.Equal(t, []uint32{0, 1, 2}, seen)
}
