package vecstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecstore/column"
	"github.com/hupe1980/vecstore/internal/resource"
	"github.com/hupe1980/vecstore/manifest"
	"github.com/hupe1980/vecstore/operr"
	"github.com/hupe1980/vecstore/snapshot"
	"github.com/hupe1980/vecstore/vectorstore"
)

const (
	// ColumnDBDir is the column database directory inside a segment.
	ColumnDBDir = "db"
	// VectorsDir holds one directory per memmap storage.
	VectorsDir = "vectors"
)

// Manager owns the vector storages of one segment.
//
// Writes to different vectors run concurrently; each storage serializes its
// own writes. Migrate, Reload, Snapshot and Close take the manager
// exclusively.
type Manager struct {
	mu      sync.RWMutex
	cfg     Config
	opts    options
	logger  *Logger
	metrics MetricsCollector

	resources *ResourceController
	db        *column.DB
	payload   *column.ScheduledDeleteWrapper
	layout    *manifest.Store
	current   *manifest.Manifest
	vectors   map[string]*vectorEntry

	unflushed atomic.Int64
	closed    bool
}

type vectorEntry struct {
	name    string
	cfg     VectorConfig
	storage *vectorstore.Storage

	mu     sync.Mutex
	failed error
}

func (e *vectorEntry) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed == nil {
		e.failed = err
	}
}

func (e *vectorEntry) checkFailed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed != nil {
		return &ErrStorageFailed{Name: e.name, cause: e.failed}
	}
	return nil
}

func (e *vectorEntry) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = nil
}

// Open opens or creates the segment described by cfg.
func Open(ctx context.Context, cfg Config, optFns ...Option) (*Manager, error) {
	return open(ctx, cfg, applyOptions(optFns), nil)
}

func open(ctx context.Context, cfg Config, o options, db *column.DB) (_ *Manager, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		opts:      o,
		logger:    o.logger,
		metrics:   o.metricsCollector,
		resources: o.resources,
		db:        db,
		vectors:   make(map[string]*vectorEntry, len(cfg.Vectors)),
	}
	if m.resources == nil {
		m.resources = NewResourceController(cfg.MemoryLimitBytes, cfg.IOLimitBytesPerSec)
	}
	defer func() {
		if err != nil {
			_ = m.closeAll()
		}
	}()

	if err := o.fs.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, operr.WrapService(err, "failed to create segment directory")
	}

	if m.db == nil {
		if m.db, err = openColumnDB(cfg, o); err != nil {
			return nil, err
		}
	}
	for _, name := range column.StandardColumns {
		if err := column.New(m.db, name).CreateIfNotExists(); err != nil {
			return nil, err
		}
	}
	m.payload = column.NewScheduledDelete(column.New(m.db, column.PayloadColumn))

	m.layout = manifest.NewStore(o.fs, cfg.Path)
	if m.current, err = m.layout.Load(); err != nil {
		return nil, operr.WrapService(err, "failed to load segment manifest")
	}

	next := m.current.Clone()
	for _, name := range cfg.VectorNames() {
		if err := operr.CheckStopped(ctx); err != nil {
			return nil, err
		}
		vc := cfg.Vectors[name]

		kind := vectorstore.KindDense
		if vc.OnDisk {
			kind = vectorstore.KindMemmap
		}
		if info, ok := m.current.Vectors[name]; ok {
			if info.Dim != vc.Dim {
				return nil, operr.Validation("vector %q: configured dim %d does not match stored dim %d", name, vc.Dim, info.Dim)
			}
			if kind, err = vectorstore.ParseKind(info.Kind); err != nil {
				return nil, operr.WrapService(err, "corrupt segment manifest")
			}
		}

		storage, err := m.openStorage(name, vc, kind)
		m.logger.LogRecovery(ctx, name, kind.String(), count(storage), deleted(storage), err)
		if err != nil {
			return nil, err
		}
		m.vectors[name] = &vectorEntry{name: name, cfg: vc, storage: storage}
		next.Vectors[name] = m.describe(storage)
	}

	for name := range m.current.Vectors {
		if _, ok := cfg.Vectors[name]; !ok {
			m.logger.Warn("stored vector is not configured and stays closed", "vector", name)
		}
	}

	if err := m.saveLayout(next); err != nil {
		return nil, err
	}

	m.logger.Info("segment opened", "path", cfg.Path, "vectors", len(m.vectors))
	return m, nil
}

func openColumnDB(cfg Config, o options) (*column.DB, error) {
	opts := []column.Option{
		column.WithLogger(o.logger.Logger),
		column.WithSyncWrites(cfg.ColumnDB.SyncWrites),
	}
	if cfg.ColumnDB.InMemory {
		return column.OpenInMemory(opts...)
	}
	return column.Open(filepath.Join(cfg.Path, ColumnDBDir), opts...)
}

func count(s *vectorstore.Storage) int {
	if s == nil {
		return 0
	}
	return s.TotalVectorCount()
}

func deleted(s *vectorstore.Storage) int {
	if s == nil {
		return 0
	}
	return s.DeletedVectorCount()
}

func (m *Manager) storeOptions(name string, vc VectorConfig) []vectorstore.Option {
	opts := []vectorstore.Option{
		vectorstore.WithLogger(m.logger.WithVector(name).Logger),
		vectorstore.WithResourceController(m.resources),
		vectorstore.WithFS(m.opts.fs),
		vectorstore.WithAsyncIO(vc.AsyncIO),
	}
	if vc.ReadParallelism > 0 {
		opts = append(opts, vectorstore.WithReadParallelism(vc.ReadParallelism))
	}
	return opts
}

func (m *Manager) memmapDir(name string) string {
	return filepath.Join(m.cfg.Path, VectorsDir, name)
}

func (m *Manager) openStorage(name string, vc VectorConfig, kind vectorstore.Kind) (*vectorstore.Storage, error) {
	opts := m.storeOptions(name, vc)
	switch kind {
	case vectorstore.KindDense:
		d, err := vectorstore.OpenDense(column.New(m.db, column.VectorColumnName(name)), vc.Dim, vc.Distance, opts...)
		if err != nil {
			return nil, err
		}
		return vectorstore.FromDense(d), nil
	case vectorstore.KindMemmap:
		mm, err := vectorstore.OpenMemmap(m.memmapDir(name), vc.Dim, vc.Distance, opts...)
		if err != nil {
			return nil, err
		}
		return vectorstore.FromMemmap(mm), nil
	default:
		return nil, operr.Validation("unknown storage kind %s", kind)
	}
}

// createEmpty creates a fresh storage of kind, discarding leftovers of an
// earlier interrupted migration.
func (m *Manager) createEmpty(name string, vc VectorConfig, kind vectorstore.Kind) (*vectorstore.Storage, error) {
	if err := m.removeData(name, kind); err != nil {
		return nil, err
	}
	return m.openStorage(name, vc, kind)
}

func (m *Manager) removeData(name string, kind vectorstore.Kind) error {
	switch kind {
	case vectorstore.KindDense:
		col := column.New(m.db, column.VectorColumnName(name))
		if err := col.Drop(); err != nil && !errors.Is(err, operr.ErrColumnNotFound) {
			return err
		}
		return nil
	case vectorstore.KindMemmap:
		if err := os.RemoveAll(m.memmapDir(name)); err != nil {
			return operr.WrapService(err, "failed to remove storage directory")
		}
		return nil
	default:
		return operr.Validation("unknown storage kind %s", kind)
	}
}

func (m *Manager) describe(s *vectorstore.Storage) manifest.VectorInfo {
	return manifest.VectorInfo{
		Kind:   s.Kind().String(),
		Dim:    s.VectorDim(),
		Metric: s.Metric(),
		Count:  s.TotalVectorCount(),
	}
}

func (m *Manager) saveLayout(next *manifest.Manifest) error {
	if err := m.layout.Save(next); err != nil {
		return operr.WrapService(err, "failed to save segment manifest")
	}
	m.current = next
	return nil
}

// entry returns the named storage. Callers hold m.mu.
func (m *Manager) entry(name string) (*vectorEntry, error) {
	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.vectors[name]
	if !ok {
		return nil, unknownVector(name)
	}
	return e, nil
}

// afterWrite records a service failure and applies the flush policy.
// Callers hold m.mu for reading.
func (m *Manager) afterWrite(ctx context.Context, e *vectorEntry, err error) error {
	if err != nil {
		if operr.IsFatal(err) {
			e.fail(err)
		}
		return err
	}
	n := m.unflushed.Add(1)
	if limit := int64(m.cfg.FlushEveryOps); limit > 0 && n >= limit {
		return m.flushLocked(ctx)
	}
	return nil
}

// Insert stores vector at offset. Cosine vectors are normalized first.
func (m *Manager) Insert(ctx context.Context, name string, offset uint32, vector []float32) (err error) {
	start := time.Now()
	defer func() {
		m.metrics.RecordInsert(time.Since(start), err)
		m.logger.LogInsert(ctx, name, offset, err)
	}()

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, err := m.entry(name)
	if err != nil {
		return err
	}
	if err := e.checkFailed(); err != nil {
		return err
	}
	if err := operr.CheckStopped(ctx); err != nil {
		return err
	}
	if err := operr.CheckDimension(e.cfg.Dim, len(vector)); err != nil {
		return err
	}

	err = e.storage.InsertVector(offset, e.cfg.Distance.Preprocess(vector))
	return m.afterWrite(ctx, e, err)
}

// Delete marks offset deleted and reports whether the flag changed.
func (m *Manager) Delete(ctx context.Context, name string, offset uint32) (changed bool, err error) {
	start := time.Now()
	defer func() {
		m.metrics.RecordDelete(time.Since(start), err)
		m.logger.LogDelete(ctx, name, offset, changed, err)
	}()

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, err := m.entry(name)
	if err != nil {
		return false, err
	}
	if err := e.checkFailed(); err != nil {
		return false, err
	}

	changed, err = e.storage.DeleteVector(offset)
	if err := m.afterWrite(ctx, e, err); err != nil {
		return changed, err
	}
	return changed, nil
}

// Get returns a copy of the stored vector at offset.
func (m *Manager) Get(name string, offset uint32) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	return e.storage.GetVector(offset)
}

// IsDeleted reports whether offset is marked deleted.
func (m *Manager) IsDeleted(name string, offset uint32) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, err := m.entry(name)
	if err != nil {
		return false, err
	}
	return e.storage.IsDeletedVector(offset), nil
}

// Score computes the similarity of query to the vectors at offsets, in
// offset order. Higher is closer. On-disk storages read in one batch.
func (m *Manager) Score(ctx context.Context, name string, query []float32, offsets []uint32) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	if err := operr.CheckDimension(e.cfg.Dim, len(query)); err != nil {
		return nil, err
	}

	scorer := e.cfg.Distance.Scorer(query)
	scores := make([]float32, len(offsets))

	if mm, ok := e.storage.Memmap(); ok {
		start := time.Now()
		err := mm.ReadVectors(ctx, slices.Values(offsets), func(i int, _ uint32, v []float32) {
			scores[i] = scorer(v)
		})
		m.metrics.RecordAsyncRead(len(offsets), time.Since(start), err)
		if err != nil {
			return nil, err
		}
		return scores, nil
	}

	for i, offset := range offsets {
		if err := operr.CheckStopped(ctx); err != nil {
			return nil, err
		}
		v, err := e.storage.GetVector(offset)
		if err != nil {
			return nil, err
		}
		scores[i] = scorer(v)
	}
	return scores, nil
}

// Migrate converts the named storage to kind. The new storage is filled,
// flushed and recorded in the segment manifest before it replaces the old
// one; a failed or cancelled migration leaves the old storage in place.
func (m *Manager) Migrate(ctx context.Context, name string, kind vectorstore.Kind) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(name)
	if err != nil {
		return err
	}
	from := e.storage.Kind()
	if from == kind {
		return nil
	}

	start := time.Now()
	copied := 0
	defer func() {
		m.metrics.RecordMigration(copied, time.Since(start), err)
		m.logger.LogMigration(ctx, name, from.String(), kind.String(), copied, err)
	}()

	target, err := m.createEmpty(name, e.cfg, kind)
	if err != nil {
		return err
	}
	abort := func(cause error) error {
		_ = target.Close()
		if rmErr := m.removeData(name, kind); rmErr != nil {
			m.logger.Warn("failed to remove partial migration", "vector", name, "error", rmErr)
		}
		return cause
	}

	src := vectorstore.Range{Start: 0, End: uint32(e.storage.TotalVectorCount())}
	rng, err := target.UpdateFrom(ctx, e.storage, src.All())
	copied = rng.Len()
	if err != nil {
		return abort(err)
	}
	if err := target.Flusher()(); err != nil {
		return abort(err)
	}

	next := m.current.Clone()
	next.Vectors[name] = m.describe(target)
	if err := m.saveLayout(next); err != nil {
		return abort(err)
	}

	old := e.storage
	e.storage = target
	e.reset()

	if err := old.Close(); err != nil {
		m.logger.Warn("failed to close migrated storage", "vector", name, "error", err)
	}
	if err := m.removeData(name, from); err != nil {
		m.logger.Warn("failed to remove migrated storage", "vector", name, "error", err)
	}
	return nil
}

// Flush persists all storages in parallel and resets the unflushed counter.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return m.flushLocked(ctx)
}

func (m *Manager) flushLocked(ctx context.Context) (err error) {
	start := time.Now()
	flushers := make([]vectorstore.Flusher, 0, len(m.vectors)+1)
	for _, e := range m.vectors {
		flushers = append(flushers, e.storage.Flusher())
	}
	flushers = append(flushers, vectorstore.Flusher(m.payload.Flusher()))

	defer func() {
		m.metrics.RecordFlush(time.Since(start), err)
		m.logger.LogFlush(ctx, len(flushers), time.Since(start), err)
	}()

	pending := m.unflushed.Load()

	g, gctx := errgroup.WithContext(ctx)
	for _, flush := range flushers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return operr.Cancelled(err)
			}
			return flush()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := m.db.Sync(); err != nil {
		return err
	}

	m.unflushed.Add(-pending)
	return nil
}

// UnflushedOps returns the number of writes since the last flush.
func (m *Manager) UnflushedOps() int64 {
	return m.unflushed.Load()
}

// Payload returns the payload column. Removals are buffered until Flush.
func (m *Manager) Payload() *column.ScheduledDeleteWrapper {
	return m.payload
}

// Columns lists the columns of the column database.
func (m *Manager) Columns() []string {
	return m.db.ListColumns()
}

// Storage returns the named storage.
func (m *Manager) Storage(name string) (*vectorstore.Storage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	return e.storage, nil
}

// DeletedBitmap exports the deleted offsets of the named storage.
func (m *Manager) DeletedBitmap(name string) (*roaring.Bitmap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}

	total := uint(e.storage.TotalVectorCount())
	bits := e.storage.DeletedVectorBitslice()
	bm := roaring.New()
	for i, ok := bits.NextSet(0); ok && i < total; i, ok = bits.NextSet(i + 1) {
		bm.Add(uint32(i))
	}
	return bm, nil
}

// VectorStats summarizes one storage.
type VectorStats struct {
	Name      string
	Kind      vectorstore.Kind
	Dim       int
	Distance  string
	Total     int
	Deleted   int
	Available int
	Files     []string
	Failed    error
}

// Vectors summarizes all storages, sorted by name.
func (m *Manager) Vectors() []VectorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]VectorStats, 0, len(m.vectors))
	for _, name := range m.cfg.VectorNames() {
		e, ok := m.vectors[name]
		if !ok {
			continue
		}
		s := e.storage
		stats = append(stats, VectorStats{
			Name:      name,
			Kind:      s.Kind(),
			Dim:       s.VectorDim(),
			Distance:  s.Metric().String(),
			Total:     s.TotalVectorCount(),
			Deleted:   s.DeletedVectorCount(),
			Available: s.AvailableVectorCount(),
			Files:     s.Files(),
			Failed:    e.checkFailed(),
		})
	}
	return stats
}

// Files lists the segment files outside the column database: storage
// files and the manifest.
func (m *Manager) Files() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filesLocked()
}

func (m *Manager) filesLocked() ([]string, error) {
	if m.closed {
		return nil, ErrClosed
	}
	var files []string
	for _, name := range m.cfg.VectorNames() {
		if e, ok := m.vectors[name]; ok {
			files = append(files, e.storage.Files()...)
		}
	}
	manifestFiles, err := m.layout.Files()
	if err != nil {
		return nil, err
	}
	for _, f := range manifestFiles {
		files = append(files, filepath.Join(m.cfg.Path, f))
	}
	return files, nil
}

// Snapshot flushes all storages and writes an archive of the segment to w.
func (m *Manager) Snapshot(ctx context.Context, w io.Writer, compression snapshot.Compression) (_ *snapshot.Manifest, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sm *snapshot.Manifest
	defer func() {
		id, entries := "", 0
		if sm != nil {
			id, entries = sm.ID, len(sm.Entries)
		}
		m.logger.LogSnapshot(ctx, id, entries, err)
	}()

	if m.closed {
		return nil, ErrClosed
	}
	if err := m.flushLocked(ctx); err != nil {
		return nil, err
	}
	files, err := m.filesLocked()
	if err != nil {
		return nil, err
	}

	out := resource.NewRateLimitedWriter(ctx, w, m.resources)
	sm, err = snapshot.Create(ctx, out, snapshot.Source{
		Root:         m.cfg.Path,
		Files:        files,
		ColumnBackup: m.db.Backup,
	}, snapshot.Options{
		Compression: compression,
		Logger:      m.logger.Logger,
		FS:          m.opts.fs,
	})
	return sm, err
}

// Restore rebuilds the segment at cfg.Path from an archive and opens it.
// cfg.Path must not contain a segment yet.
func Restore(ctx context.Context, r io.Reader, cfg Config, optFns ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(optFns)

	if entries, err := os.ReadDir(cfg.Path); err == nil && len(entries) > 0 {
		return nil, operr.Validation("restore target %s is not empty", cfg.Path)
	}

	db, err := openColumnDB(cfg, o)
	if err != nil {
		return nil, err
	}

	sm, err := snapshot.Restore(ctx, r, cfg.Path, snapshot.RestoreOptions{
		ColumnLoader: db.Load,
		Logger:       o.logger.Logger,
		FS:           o.fs,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	o.logger.InfoContext(ctx, "segment restored", "snapshot", sm.ID, "path", cfg.Path)

	// open takes over db and closes it on failure.
	return open(ctx, cfg, o, db)
}

// Reload closes and reopens the named storage from its persisted state,
// clearing a recorded failure. If reopening fails the vector is unavailable
// until the segment is opened again.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(name)
	if err != nil {
		return err
	}
	kind := e.storage.Kind()
	if err := e.storage.Close(); err != nil {
		m.logger.Warn("failed to close storage for reload", "vector", name, "error", err)
	}

	storage, err := m.openStorage(name, e.cfg, kind)
	m.logger.LogRecovery(ctx, name, kind.String(), count(storage), deleted(storage), err)
	if err != nil {
		delete(m.vectors, name)
		return fmt.Errorf("reload %q: %w", name, err)
	}
	e.storage = storage
	e.reset()
	return nil
}

// Close flushes and closes all storages and the column database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	var errs []error
	if err := m.flushLocked(context.Background()); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, m.closeAll())
	m.closed = true
	return errors.Join(errs...)
}

func (m *Manager) closeAll() error {
	var errs []error
	for _, e := range m.vectors {
		if err := e.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", e.name, err))
		}
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
