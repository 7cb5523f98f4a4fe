package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vecstore/column"
	"github.com/hupe1980/vecstore/distance"
	"github.com/hupe1980/vecstore/internal/arena"
	"github.com/hupe1980/vecstore/internal/conv"
	"github.com/hupe1980/vecstore/operr"
)

// Dense keeps vectors in memory and writes them behind to a column.
type Dense struct {
	mu sync.RWMutex

	dim          int
	metric       distance.Metric
	vectors      *arena.Chunked
	deleted      *bitset.BitSet
	deletedCount int

	col    *column.Wrapper
	logger *slog.Logger
}

// OpenDense opens the dense store persisted in col, creating the column if
// needed and replaying every stored record.
func OpenDense(col *column.Wrapper, dim int, metric distance.Metric, opts ...Option) (*Dense, error) {
	if dim <= 0 {
		return nil, operr.Validation("vector dimension must be positive, got %d", dim)
	}
	o := buildOptions(opts)

	if err := col.CreateIfNotExists(); err != nil {
		return nil, err
	}

	var arenaOpts []arena.Option
	if o.resources != nil {
		arenaOpts = append(arenaOpts, arena.WithMemoryAcquirer(o.resources))
	}

	d := &Dense{
		dim:     dim,
		metric:  metric,
		vectors: arena.New(dim, arenaOpts...),
		deleted: bitset.New(0),
		col:     col,
		logger:  o.logger.With("storage", "dense", "column", col.Name()),
	}

	if err := d.replay(); err != nil {
		d.vectors.Release()
		return nil, err
	}

	d.logger.Debug("dense vector storage opened",
		"vectors", d.vectors.Len(),
		"deleted", d.deletedCount,
	)
	return d, nil
}

func (d *Dense) replay() error {
	for entry, err := range d.col.All() {
		if err != nil {
			return err
		}
		offset, err := DecodeKey(entry.Key)
		if err != nil {
			return operr.WrapService(err, "failed to decode vector key")
		}
		rec, err := UnmarshalRecord(entry.Value)
		if err != nil {
			return operr.WrapService(err, fmt.Sprintf("failed to decode vector record %d", offset))
		}
		if len(rec.Vector) != d.dim {
			return operr.Servicef("stored vector %d has dimension %d, expected %d", offset, len(rec.Vector), d.dim)
		}
		if err := d.vectors.Insert(offset, rec.Vector); err != nil {
			return err
		}
		d.setDeleted(offset, rec.Deleted)
	}
	return nil
}

func (d *Dense) isBackend() {}

// VectorDim returns the vector dimension.
func (d *Dense) VectorDim() int { return d.dim }

// Metric returns the metric identity the vectors were stored for.
func (d *Dense) Metric() distance.Metric { return d.metric }

// IsOnDisk reports whether vectors are served from disk.
func (d *Dense) IsOnDisk() bool { return false }

// Files returns nothing: a dense store lives in the column database.
func (d *Dense) Files() []string { return nil }

// Column returns the backing column.
func (d *Dense) Column() *column.Wrapper { return d.col }

// Flusher flushes the backing column.
func (d *Dense) Flusher() Flusher { return Flusher(d.col.Flusher()) }

// TotalVectorCount returns the number of offsets, deleted ones included.
func (d *Dense) TotalVectorCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vectors.Len()
}

// DeletedVectorCount returns the number of deleted offsets.
func (d *Dense) DeletedVectorCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deletedCount
}

// AvailableVectorCount returns the number of vectors not deleted.
func (d *Dense) AvailableVectorCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vectors.Len() - d.deletedCount
}

// GetVector returns a copy of the vector at offset.
func (d *Dense) GetVector(offset uint32) ([]float32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(offset) >= d.vectors.Len() {
		return nil, outOfRange(offset, d.vectors.Len())
	}
	return slices.Clone(d.vectors.Get(offset)), nil
}

// GetVectorOpt returns a copy of the vector at offset, if any.
func (d *Dense) GetVectorOpt(offset uint32) ([]float32, bool) {
	v, err := d.GetVector(offset)
	return v, err == nil
}

// ForEachVector visits every vector under the read lock without copying.
func (d *Dense) ForEachVector(fn func(offset uint32, vector []float32) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for offset, vec := range d.vectors.All() {
		if !fn(offset, vec) {
			return
		}
	}
}

// IsDeletedVector reports whether offset is deleted. Offsets past the end
// are not deleted.
func (d *Dense) IsDeletedVector(offset uint32) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deleted.Test(uint(offset))
}

// DeletedVectorBitslice returns a copy of the deletion bitmap.
func (d *Dense) DeletedVectorBitslice() *bitset.BitSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deleted.Clone()
}

// InsertVector writes vector at offset and clears its deletion flag. If the
// record cannot be persisted the in-memory state is rolled back.
func (d *Dense) InsertVector(offset uint32, vector []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insertLocked(offset, vector, false)
}

// insertLocked stores vector with the given deletion flag in one record.
func (d *Dense) insertLocked(offset uint32, vector []float32, deleted bool) error {
	if err := operr.CheckDimension(d.dim, len(vector)); err != nil {
		return err
	}

	prevLen := d.vectors.Len()
	var prev []float32
	if int(offset) < prevLen {
		prev = slices.Clone(d.vectors.Get(offset))
	}
	wasDeleted := d.deleted.Test(uint(offset))

	if err := d.vectors.Insert(offset, vector); err != nil {
		return err
	}
	d.setDeleted(offset, deleted)

	if err := d.persist(offset, deleted, vector); err != nil {
		if prev != nil {
			// Cannot fail: the slot already exists.
			_ = d.vectors.Insert(offset, prev)
		} else {
			d.vectors.Truncate(prevLen)
		}
		d.setDeleted(offset, wasDeleted)
		return err
	}
	return nil
}

// DeleteVector flags offset deleted. It is idempotent; offsets past the end
// report false.
func (d *Dense) DeleteVector(offset uint32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteLocked(offset)
}

func (d *Dense) deleteLocked(offset uint32) (bool, error) {
	if int(offset) >= d.vectors.Len() || d.deleted.Test(uint(offset)) {
		return false, nil
	}

	d.setDeleted(offset, true)
	if err := d.persist(offset, true, d.vectors.Get(offset)); err != nil {
		d.setDeleted(offset, false)
		return false, err
	}
	return true, nil
}

// UpdateFrom appends the vectors of other at ids. The context is polled
// between vectors; on cancellation the range appended so far is returned
// together with the cancellation error.
func (d *Dense) UpdateFrom(ctx context.Context, other VectorStorage, ids iter.Seq[uint32]) (Range, error) {
	if unwrap(other) == VectorStorage(d) {
		return Range{}, operr.Validation("cannot update a storage from itself")
	}

	d.mu.RLock()
	start, err := conv.NextOffset(d.vectors.Len())
	d.mu.RUnlock()
	if err != nil {
		return Range{}, operr.Validation("%v", err)
	}

	r := Range{Start: start, End: start}
	for id := range ids {
		if err := operr.CheckStopped(ctx); err != nil {
			return r, err
		}

		vec, deleted, err := sourceVector(other, id, d.dim)
		if err != nil {
			return r, err
		}
		if err := d.appendOne(r.End, vec, deleted); err != nil {
			return r, err
		}
		r.End++
	}

	d.logger.Debug("dense vector storage updated", "range", r.String())
	return r, nil
}

func (d *Dense) appendOne(offset uint32, vec []float32, deleted bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.vectors.Len() != int(offset) {
		return operr.Servicef("concurrent write during update: expected length %d, got %d", offset, d.vectors.Len())
	}
	return d.insertLocked(offset, vec, deleted)
}

// Close releases the memory held by the store. The column is left intact.
func (d *Dense) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vectors.Release()
	d.deleted = bitset.New(0)
	d.deletedCount = 0
	return nil
}

// MemoryStats reports arena memory usage.
func (d *Dense) MemoryStats() arena.Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vectors.Stats()
}

func (d *Dense) setDeleted(offset uint32, deleted bool) {
	was := d.deleted.Test(uint(offset))
	switch {
	case deleted && !was:
		d.deleted.Set(uint(offset))
		d.deletedCount++
	case !deleted && was:
		d.deleted.Clear(uint(offset))
		d.deletedCount--
	}
}

func (d *Dense) persist(offset uint32, deleted bool, vector []float32) error {
	value, err := MarshalRecord(StoredRecord{Deleted: deleted, Vector: vector})
	if err != nil {
		return operr.WrapService(err, "failed to encode vector record")
	}
	if err := d.col.Put(EncodeKey(offset), value); err != nil {
		if errors.Is(err, operr.ErrColumnNotFound) {
			return operr.Servicef("failed to persist vector %d: %v", offset, err)
		}
		return err
	}
	return nil
}
