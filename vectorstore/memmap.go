package vectorstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"iter"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vecstore/distance"
	"github.com/hupe1980/vecstore/internal/asyncio"
	"github.com/hupe1980/vecstore/internal/conv"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/mmap"
	"github.com/hupe1980/vecstore/internal/resource"
	"github.com/hupe1980/vecstore/operr"
)

const (
	// MatrixFile holds vectors as flat little-endian float32s.
	MatrixFile = "matrix.dat"
	// DeletedFile holds the deletion bitmap as uint64 words.
	DeletedFile = "deleted.dat"

	wordBytes = 8
)

// mapped is one published generation of the store's mappings.
type mapped struct {
	matrix  *mmap.Mapping
	vectors []float32
	count   int

	deletedMap *mmap.Mapping
	deleted    *bitset.BitSet // aliases deletedMap
}

func (m *mapped) close() error {
	err := m.matrix.Close()
	if derr := m.deletedMap.Close(); err == nil {
		err = derr
	}
	return err
}

// Memmap keeps vectors in a memory-mapped, append-only file.
type Memmap struct {
	mu sync.RWMutex

	dir     string
	dim     int
	rawSize int
	metric  distance.Metric

	fs        fs.FileSystem
	resources *resource.Controller
	logger    *slog.Logger

	cur          *mapped
	deletedCount int
	closed       bool

	readerFile *os.File
	reader     asyncio.Reader
}

// OpenMemmap opens the store in dir, creating empty files if needed.
func OpenMemmap(dir string, dim int, metric distance.Metric, opts ...Option) (_ *Memmap, err error) {
	if dim <= 0 {
		return nil, operr.Validation("vector dimension must be positive, got %d", dim)
	}
	o := buildOptions(opts)

	m := &Memmap{
		dir:       dir,
		dim:       dim,
		rawSize:   dim * 4,
		metric:    metric,
		fs:        o.fs,
		resources: o.resources,
		logger:    o.logger.With("storage", "memmap", "path", dir),
	}

	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, operr.WrapService(err, "failed to create storage directory")
	}
	if err := fs.Touch(m.fs, m.matrixPath()); err != nil {
		return nil, operr.WrapService(err, "failed to create matrix file")
	}
	if err := fs.Touch(m.fs, m.deletedPath()); err != nil {
		return nil, operr.WrapService(err, "failed to create deleted file")
	}

	info, err := m.fs.Stat(m.matrixPath())
	if err != nil {
		return nil, operr.WrapService(err, "failed to stat matrix file")
	}
	if info.Size()%int64(m.rawSize) != 0 {
		return nil, operr.Servicef("matrix file size %d is not a multiple of vector size %d", info.Size(), m.rawSize)
	}
	count, err := conv.Int64ToInt(info.Size() / int64(m.rawSize))
	if err != nil || uint64(count) > conv.MaxOffsetCount {
		return nil, operr.Servicef("matrix file holds too many vectors: %d bytes", info.Size())
	}

	cur, err := m.mapFiles(count)
	if err != nil {
		return nil, err
	}
	m.cur = cur
	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()

	if count > 0 {
		m.deletedCount = int(cur.deleted.Rank(uint(count - 1)))
	}

	if o.asyncIO {
		if err := m.openReader(o); err != nil {
			return nil, err
		}
	}

	m.logger.Debug("memmap vector storage opened",
		"vectors", count,
		"deleted", m.deletedCount,
		"async_io", m.reader != nil,
	)
	return m, nil
}

func (m *Memmap) openReader(o options) error {
	f, err := os.Open(m.matrixPath())
	if err != nil {
		return operr.WrapService(err, "failed to open matrix for reading")
	}
	r, err := asyncio.New(f, m.rawSize, 0,
		asyncio.WithParallelism(o.readParallelism),
		asyncio.WithLogger(m.logger),
	)
	if err != nil {
		_ = f.Close()
		return err
	}
	m.readerFile, m.reader = f, r
	return nil
}

func (m *Memmap) matrixPath() string { return filepath.Join(m.dir, MatrixFile) }
func (m *Memmap) deletedPath() string { return filepath.Join(m.dir, DeletedFile) }

// mapFiles sizes deleted.dat for count vectors and maps both files.
func (m *Memmap) mapFiles(count int) (*mapped, error) {
	info, err := m.fs.Stat(m.deletedPath())
	if err != nil {
		return nil, operr.WrapService(err, "failed to stat deleted file")
	}
	words := (count + 63) / 64
	want := max(alignUp(info.Size(), wordBytes), int64(words)*wordBytes)
	if want != info.Size() {
		if err := m.fs.Truncate(m.deletedPath(), want); err != nil {
			return nil, operr.WrapService(err, "failed to resize deleted file")
		}
	}

	matrix, err := mmap.Open(m.matrixPath())
	if err != nil {
		return nil, operr.WrapService(err, "failed to map matrix file")
	}
	deletedMap, err := mmap.OpenRW(m.deletedPath())
	if err != nil {
		_ = matrix.Close()
		return nil, operr.WrapService(err, "failed to map deleted file")
	}

	vectors := bytesAsFloat32s(matrix.Bytes())
	if len(vectors) < count*m.dim {
		_ = matrix.Close()
		_ = deletedMap.Close()
		return nil, operr.Servicef("matrix mapping holds %d floats, expected %d", len(vectors), count*m.dim)
	}

	return &mapped{
		matrix:     matrix,
		vectors:    vectors[:count*m.dim],
		count:      count,
		deletedMap: deletedMap,
		deleted:    bitset.From(bytesAsUint64s(deletedMap.Bytes())),
	}, nil
}

func (m *Memmap) isBackend() {}

// VectorDim returns the vector dimension.
func (m *Memmap) VectorDim() int { return m.dim }

// Metric returns the metric identity the vectors were stored for.
func (m *Memmap) Metric() distance.Metric { return m.metric }

// IsOnDisk reports whether vectors are served from disk.
func (m *Memmap) IsOnDisk() bool { return true }

// Dir returns the storage directory.
func (m *Memmap) Dir() string { return m.dir }

// Files returns the paths of the matrix and the deletion bitmap.
func (m *Memmap) Files() []string {
	return []string{m.matrixPath(), m.deletedPath()}
}

// TotalVectorCount returns the number of offsets, deleted ones included.
func (m *Memmap) TotalVectorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.count
}

// DeletedVectorCount returns the number of deleted offsets.
func (m *Memmap) DeletedVectorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deletedCount
}

// AvailableVectorCount returns the number of vectors not deleted.
func (m *Memmap) AvailableVectorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.count - m.deletedCount
}

// GetVector returns a copy of the vector at offset.
func (m *Memmap) GetVector(offset uint32) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(offset) >= m.cur.count {
		return nil, outOfRange(offset, m.cur.count)
	}
	return slices.Clone(m.vector(offset)), nil
}

// GetVectorOpt returns a copy of the vector at offset, if any.
func (m *Memmap) GetVectorOpt(offset uint32) ([]float32, bool) {
	v, err := m.GetVector(offset)
	return v, err == nil
}

func (m *Memmap) vector(offset uint32) []float32 {
	start := int(offset) * m.dim
	return m.cur.vectors[start : start+m.dim]
}

// ForEachVector visits every vector in the mapping without copying.
func (m *Memmap) ForEachVector(fn func(offset uint32, vector []float32) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := 0; i < m.cur.count; i++ {
		if !fn(uint32(i), m.vector(uint32(i))) {
			return
		}
	}
}

// InsertVector always fails: a memmap store only grows through UpdateFrom.
func (m *Memmap) InsertVector(offset uint32, _ []float32) error {
	return operr.WrapValidation(ErrUnsupported, "cannot insert vector %d into memmap storage", offset)
}

// IsDeletedVector reports whether offset is deleted.
func (m *Memmap) IsDeletedVector(offset uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(offset) < m.cur.count && m.cur.deleted.Test(uint(offset))
}

// DeletedVectorBitslice returns a copy of the deletion bitmap.
func (m *Memmap) DeletedVectorBitslice() *bitset.BitSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.deleted.Clone()
}

// DeleteVector flips the deletion bit of offset in the mapped bitmap.
func (m *Memmap) DeleteVector(offset uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(offset) >= m.cur.count || m.cur.deleted.Test(uint(offset)) {
		return false, nil
	}
	m.cur.deleted.Set(uint(offset))
	m.deletedCount++
	return true, nil
}

// Flusher syncs the deletion bitmap and the matrix file to disk.
func (m *Memmap) Flusher() Flusher {
	return func() error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.closed {
			return nil
		}
		if err := m.cur.deletedMap.Flush(); err != nil {
			return operr.WrapService(err, "failed to flush deleted bitmap")
		}
		return m.syncMatrix()
	}
}

func (m *Memmap) syncMatrix() error {
	f, err := m.fs.OpenFile(m.matrixPath(), os.O_RDONLY, 0)
	if err != nil {
		return operr.WrapService(err, "failed to open matrix for sync")
	}
	defer f.Close()
	return operr.WrapService(f.Sync(), "failed to sync matrix")
}

// Prefault asks the kernel to read the whole matrix into the page cache.
func (m *Memmap) Prefault() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return operr.WrapService(m.cur.matrix.Advise(mmap.AccessWillNeed), "failed to prefault matrix")
}

// HasAsyncReader reports whether ReadVectors goes through the async reader.
func (m *Memmap) HasAsyncReader() bool { return m.reader != nil }

// ReadVectors reads the vectors at offsets and passes each to fn. With the
// async reader the reads bypass the mapping and complete in any order;
// otherwise they are served from the mapping in request order. The slice
// passed to fn is only valid during the call.
func (m *Memmap) ReadVectors(ctx context.Context, offsets iter.Seq[uint32], fn asyncio.Callback) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := m.cur.count
	var rangeErr error
	checked := func(yield func(uint32) bool) {
		for o := range offsets {
			if int(o) >= count {
				rangeErr = outOfRange(o, count)
				return
			}
			if !yield(o) {
				return
			}
		}
	}

	var err error
	if m.reader != nil {
		err = m.reader.ReadStream(ctx, checked, fn)
	} else {
		index := 0
		for o := range checked {
			if err = operr.CheckStopped(ctx); err != nil {
				break
			}
			fn(index, o, m.vector(o))
			index++
		}
	}
	if rangeErr != nil {
		return rangeErr
	}
	return err
}

// UpdateFrom appends the vectors of other at ids to the matrix, then remaps
// and publishes the grown store in one step. Cancellation stops the copy;
// what was copied is still committed and its range returned along with the
// cancellation error.
func (m *Memmap) UpdateFrom(ctx context.Context, other VectorStorage, ids iter.Seq[uint32]) (Range, error) {
	if unwrap(other) == VectorStorage(m) {
		return Range{}, operr.Validation("cannot update a storage from itself")
	}
	began := time.Now()

	m.mu.RLock()
	start, closed := m.cur.count, m.closed
	m.mu.RUnlock()
	if closed {
		return Range{}, operr.Service("memmap storage is closed")
	}

	startOffset, err := conv.NextOffset(start)
	if err != nil {
		return Range{}, operr.Validation("%v", err)
	}

	written, deferred, copyErr := m.appendVectors(ctx, other, ids, start)
	if copyErr != nil && !operr.IsCancelled(copyErr) {
		m.rollback(start)
		return Range{Start: startOffset, End: startOffset}, copyErr
	}

	r := Range{Start: startOffset, End: startOffset + uint32(written)}
	if written == 0 {
		return r, copyErr
	}

	next, err := m.mapFiles(start + written)
	if err != nil {
		m.rollback(start)
		return Range{Start: startOffset, End: startOffset}, err
	}

	added := 0
	it := deferred.Iterator()
	for it.HasNext() {
		off := uint(start) + uint(it.Next())
		if !next.deleted.Test(off) {
			next.deleted.Set(off)
			added++
		}
	}

	m.mu.Lock()
	prev := m.cur
	m.cur = next
	m.deletedCount += added
	m.mu.Unlock()

	if err := prev.close(); err != nil {
		m.logger.Warn("failed to unmap previous generation", "error", err)
	}

	m.logger.Debug("memmap vector storage updated",
		"range", r.String(),
		"deleted", added,
		"duration", time.Since(began),
	)
	return r, copyErr
}

// rollback cuts the matrix back to count vectors, dropping bytes appended by
// an update that was not published. Later appends must land at count.
func (m *Memmap) rollback(count int) {
	if err := m.fs.Truncate(m.matrixPath(), int64(count)*int64(m.rawSize)); err != nil {
		m.logger.Error("failed to roll back matrix", "count", count, "error", err)
	}
}

// appendVectors writes the source vectors to the end of the matrix and
// returns how many were written plus the relative offsets of deleted ones.
func (m *Memmap) appendVectors(ctx context.Context, other VectorStorage, ids iter.Seq[uint32], start int) (int, *roaring.Bitmap, error) {
	deferred := roaring.New()

	f, err := m.fs.OpenFile(m.matrixPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, deferred, operr.WrapService(err, "failed to open matrix for append")
	}
	defer f.Close()

	// The limiter must not abort a partially written vector, so it ignores
	// cancellation; the loop below polls ctx between vectors.
	w := bufio.NewWriterSize(resource.NewRateLimitedWriter(context.WithoutCancel(ctx), f, m.resources), 1<<20)

	buf := make([]byte, 0, m.rawSize)
	written := 0
	var stopErr error
	for id := range ids {
		if err := operr.CheckStopped(ctx); err != nil {
			stopErr = err
			break
		}
		if uint64(start+written) >= conv.MaxOffsetCount {
			return written, deferred, operr.Validation("point offset space exhausted")
		}

		vec, deleted, err := sourceVector(other, id, m.dim)
		if err != nil {
			return written, deferred, err
		}

		buf = buf[:0]
		for _, v := range vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return written, deferred, operr.WrapService(err, "failed to append vector")
		}
		if deleted {
			deferred.Add(uint32(written))
		}
		written++
	}

	if err := w.Flush(); err != nil {
		return written, deferred, operr.WrapService(err, "failed to append vectors")
	}
	if err := f.Sync(); err != nil {
		return written, deferred, operr.WrapService(err, "failed to sync matrix")
	}
	return written, deferred, stopErr
}

// Close releases the mappings and the async reader.
func (m *Memmap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.reader != nil {
		keep(m.reader.Close())
		m.reader = nil
	}
	if m.readerFile != nil {
		keep(m.readerFile.Close())
		m.readerFile = nil
	}
	if m.cur != nil && !m.closed {
		keep(m.cur.close())
		// Reads after Close see an empty store.
		m.cur = &mapped{matrix: &mmap.Mapping{}, deletedMap: &mmap.Mapping{}, deleted: bitset.New(0)}
	}
	m.closed = true
	m.deletedCount = 0
	return operr.WrapService(firstErr, "failed to close memmap storage")
}

func alignUp(n, to int64) int64 {
	return (n + to - 1) / to * to
}

func bytesAsFloat32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func bytesAsUint64s(b []byte) []uint64 {
	if len(b) < wordBytes {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/wordBytes)
}
