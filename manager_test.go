package vecstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecstore/distance"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/operr"
	"github.com/hupe1980/vecstore/snapshot"
	"github.com/hupe1980/vecstore/vectorstore"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Path: t.TempDir(),
		Vectors: map[string]VectorConfig{
			"text":  {Dim: 4, Distance: distance.Euclid},
			"image": {Dim: 2, Distance: distance.Cosine, OnDisk: true},
		},
	}
}

func openManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManagerInsertGetDelete(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	require.NoError(t, m.Insert(ctx, "text", 0, []float32{1, 2, 3, 4}))
	require.NoError(t, m.Insert(ctx, "text", 1, []float32{5, 6, 7, 8}))

	v, err := m.Get("text", 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 7, 8}, v)

	changed, err := m.Delete(ctx, "text", 0)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = m.Delete(ctx, "text", 0)
	require.NoError(t, err)
	assert.False(t, changed)

	del, err := m.IsDeleted("text", 0)
	require.NoError(t, err)
	assert.True(t, del)

	bm, err := m.DeletedBitmap("text")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, bm.ToArray())
}

func TestManagerValidation(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	err := m.Insert(ctx, "missing", 0, []float32{1})
	assert.ErrorIs(t, err, ErrUnknownVector)

	err = m.Insert(ctx, "text", 0, make([]float32, 128))
	assert.ErrorIs(t, err, operr.ErrValidation)

	s, err := m.Storage("text")
	require.NoError(t, err)
	assert.Equal(t, 0, s.TotalVectorCount())

	// Memmap storages are filled by migration only.
	err = m.Insert(ctx, "image", 0, []float32{1, 0})
	assert.ErrorIs(t, err, vectorstore.ErrUnsupported)
	assert.ErrorIs(t, err, operr.ErrValidation)

	// A rejected insert does not mark the storage failed.
	changed, err := m.Delete(ctx, "image", 0)
	require.NoError(t, err)
	assert.False(t, changed)
	for _, st := range m.Vectors() {
		assert.NoError(t, st.Failed, st.Name)
	}
}

func TestManagerCosineNormalizes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Vectors["image"] = VectorConfig{Dim: 2, Distance: distance.Cosine}
	m := openManager(t, cfg)

	require.NoError(t, m.Insert(ctx, "image", 0, []float32{3, 4}))
	v, err := m.Get("image", 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestManagerReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	m, err := Open(ctx, cfg)
	require.NoError(t, err)
	for i := range 10 {
		require.NoError(t, m.Insert(ctx, "text", uint32(i), []float32{float32(i), 0, 0, 1}))
	}
	_, err = m.Delete(ctx, "text", 3)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m = openManager(t, cfg)
	s, err := m.Storage("text")
	require.NoError(t, err)
	assert.Equal(t, 10, s.TotalVectorCount())
	assert.Equal(t, 1, s.DeletedVectorCount())
	v, err := m.Get("text", 7)
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 0, 0, 1}, v)
}

func TestManagerMigrateEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	metrics := &BasicMetricsCollector{}

	m, err := Open(ctx, cfg, WithMetricsCollector(metrics))
	require.NoError(t, err)

	require.NoError(t, m.Insert(ctx, "text", 0, []float32{1, 0, 1, 1}))
	require.NoError(t, m.Insert(ctx, "text", 1, []float32{1, 1, 1, 1}))
	_, err = m.Delete(ctx, "text", 0)
	require.NoError(t, err)

	require.NoError(t, m.Migrate(ctx, "text", vectorstore.KindMemmap))

	s, err := m.Storage("text")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.KindMemmap, s.Kind())
	assert.Equal(t, 2, s.TotalVectorCount())
	assert.Equal(t, 1, s.DeletedVectorCount())
	v, err := m.Get("text", 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1}, v)
	assert.NotContains(t, m.Columns(), "vector_text")

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.MigrationCount)
	assert.Equal(t, int64(2), stats.MigratedVectors)
	assert.Equal(t, int64(2), stats.InsertCount)

	require.NoError(t, m.Close())

	// The backend choice survives a reopen even though the config says dense.
	m = openManager(t, cfg)
	s, err = m.Storage("text")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.KindMemmap, s.Kind())
	assert.True(t, s.IsDeletedVector(0))

	require.NoError(t, m.Migrate(ctx, "text", vectorstore.KindDense))
	s, err = m.Storage("text")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.KindDense, s.Kind())
	assert.Equal(t, 2, s.TotalVectorCount())
	assert.Equal(t, 1, s.DeletedVectorCount())
	assert.NoDirExists(t, m.memmapDir("text"))

	// Same kind is a no-op.
	require.NoError(t, m.Migrate(ctx, "text", vectorstore.KindDense))
}

func TestManagerMigrateFailureKeepsSource(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	faulty := fs.NewFaultyFS(fs.Default)
	m := openManager(t, cfg, withFS(faulty))

	for i := range 4 {
		require.NoError(t, m.Insert(ctx, "text", uint32(i), []float32{float32(i), 1, 1, 1}))
	}

	faulty.AddRule("vectors/text/"+vectorstore.MatrixFile, fs.Fault{FailAfterBytes: 20})
	err := m.Migrate(ctx, "text", vectorstore.KindMemmap)
	require.Error(t, err)

	s, err := m.Storage("text")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.KindDense, s.Kind())
	assert.Equal(t, 4, s.TotalVectorCount())
	assert.NoDirExists(t, m.memmapDir("text"))

	faulty.ClearRules()
	require.NoError(t, m.Migrate(ctx, "text", vectorstore.KindMemmap))
}

func TestManagerMigrateCancelled(t *testing.T) {
	cfg := testConfig(t)
	m := openManager(t, cfg)
	require.NoError(t, m.Insert(context.Background(), "text", 0, []float32{1, 1, 1, 1}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Migrate(ctx, "text", vectorstore.KindMemmap)
	require.Error(t, err)
	assert.True(t, operr.IsCancelled(err))

	s, err := m.Storage("text")
	require.NoError(t, err)
	assert.Equal(t, vectorstore.KindDense, s.Kind())
}

func TestManagerScore(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))

	vectors := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {1, 1, 0, 0}}
	for i, v := range vectors {
		require.NoError(t, m.Insert(ctx, "text", uint32(i), v))
	}

	query := []float32{1, 0, 0, 0}
	offsets := []uint32{2, 0, 1}
	dense, err := m.Score(ctx, "text", query, offsets)
	require.NoError(t, err)
	assert.Equal(t, float32(0), dense[1])
	assert.Greater(t, dense[1], dense[0])
	assert.Greater(t, dense[0], dense[2])

	require.NoError(t, m.Migrate(ctx, "text", vectorstore.KindMemmap))
	onDisk, err := m.Score(ctx, "text", query, offsets)
	require.NoError(t, err)
	assert.Equal(t, dense, onDisk)

	_, err = m.Score(ctx, "text", query, []uint32{99})
	assert.ErrorIs(t, err, operr.ErrValidation)
	_, err = m.Score(ctx, "text", []float32{1}, offsets)
	assert.ErrorIs(t, err, operr.ErrValidation)
}

func TestManagerFlushEveryOps(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.FlushEveryOps = 3
	metrics := &BasicMetricsCollector{}
	m := openManager(t, cfg, WithMetricsCollector(metrics))

	require.NoError(t, m.Insert(ctx, "text", 0, []float32{1, 1, 1, 1}))
	require.NoError(t, m.Insert(ctx, "text", 1, []float32{1, 1, 1, 1}))
	assert.Equal(t, int64(2), m.UnflushedOps())
	assert.Equal(t, int64(0), metrics.GetStats().FlushCount)

	_, err := m.Delete(ctx, "text", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.UnflushedOps())
	assert.Equal(t, int64(1), metrics.GetStats().FlushCount)

	// Failed writes do not count.
	_ = m.Insert(ctx, "text", 2, []float32{1})
	assert.Equal(t, int64(0), m.UnflushedOps())

	require.NoError(t, m.Insert(ctx, "text", 2, []float32{1, 1, 1, 1}))
	require.NoError(t, m.Flush(ctx))
	assert.Equal(t, int64(0), m.UnflushedOps())
}

func TestManagerFailedStorageRejectsWrites(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, testConfig(t))
	require.NoError(t, m.Insert(ctx, "text", 0, []float32{1, 1, 1, 1}))

	s, err := m.Storage("text")
	require.NoError(t, err)
	d, ok := s.Dense()
	require.True(t, ok)
	require.NoError(t, d.Column().Drop())

	err = m.Insert(ctx, "text", 1, []float32{1, 1, 1, 1})
	require.Error(t, err)
	assert.True(t, operr.IsFatal(err))

	err = m.Insert(ctx, "text", 2, []float32{1, 1, 1, 1})
	var failed *ErrStorageFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "text", failed.Name)
	_, err = m.Delete(ctx, "text", 0)
	assert.ErrorAs(t, err, &failed)

	var stats VectorStats
	for _, vs := range m.Vectors() {
		if vs.Name == "text" {
			stats = vs
		}
	}
	assert.Error(t, stats.Failed)

	require.NoError(t, m.Reload(ctx, "text"))
	require.NoError(t, m.Insert(ctx, "text", 0, []float32{2, 2, 2, 2}))
}

func TestManagerSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	for name, inMemory := range map[string]bool{"disk": false, "in_memory": true} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.ColumnDB.InMemory = inMemory
			cfg.Vectors["audio"] = VectorConfig{Dim: 3, Distance: distance.DotProduct}
			m := openManager(t, cfg)

			for i := range 5 {
				require.NoError(t, m.Insert(ctx, "text", uint32(i), []float32{float32(i), 1, 2, 3}))
				require.NoError(t, m.Insert(ctx, "audio", uint32(i), []float32{float32(i), 0, 1}))
			}
			_, err := m.Delete(ctx, "text", 2)
			require.NoError(t, err)
			_, err = m.Delete(ctx, "audio", 4)
			require.NoError(t, err)
			require.NoError(t, m.Payload().Put([]byte("k"), []byte("payload")))
			require.NoError(t, m.Migrate(ctx, "audio", vectorstore.KindMemmap))

			var archive bytes.Buffer
			sm, err := m.Snapshot(ctx, &archive, snapshot.LZ4)
			require.NoError(t, err)
			require.NotNil(t, sm.ColumnBackup)

			restoredCfg := cfg
			restoredCfg.Path = t.TempDir()
			r, err := Restore(ctx, &archive, restoredCfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = r.Close() })

			text, err := r.Storage("text")
			require.NoError(t, err)
			assert.Equal(t, vectorstore.KindDense, text.Kind())
			assert.Equal(t, 5, text.TotalVectorCount())
			assert.True(t, text.IsDeletedVector(2))

			audio, err := r.Storage("audio")
			require.NoError(t, err)
			assert.Equal(t, vectorstore.KindMemmap, audio.Kind())
			assert.Equal(t, 5, audio.TotalVectorCount())
			assert.Equal(t, 1, audio.DeletedVectorCount())
			v, err := r.Get("audio", 3)
			require.NoError(t, err)
			assert.Equal(t, []float32{3, 0, 1}, v)

			payload, err := r.Payload().Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, "payload", string(payload))
		})
	}
}

func TestRestoreRejectsNonEmptyTarget(t *testing.T) {
	cfg := testConfig(t)
	m := openManager(t, cfg)

	var archive bytes.Buffer
	_, err := m.Snapshot(context.Background(), &archive, snapshot.None)
	require.NoError(t, err)

	_, err = Restore(context.Background(), &archive, cfg)
	assert.ErrorIs(t, err, operr.ErrValidation)
}

func TestManagerOpenDimensionChange(t *testing.T) {
	cfg := testConfig(t)
	m, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	cfg.Vectors["text"] = VectorConfig{Dim: 8}
	_, err = Open(context.Background(), cfg)
	assert.ErrorIs(t, err, operr.ErrValidation)
}

func TestManagerFiles(t *testing.T) {
	m := openManager(t, testConfig(t))
	files, err := m.Files()
	require.NoError(t, err)
	// image is on disk: matrix + deleted, plus CURRENT + MANIFEST.
	assert.Len(t, files, 4)

	stats := m.Vectors()
	require.Len(t, stats, 2)
	assert.Equal(t, "image", stats[0].Name)
	assert.Equal(t, vectorstore.KindMemmap, stats[0].Kind)
	assert.Len(t, stats[0].Files, 2)
	assert.Equal(t, "text", stats[1].Name)
	assert.Empty(t, stats[1].Files)
}

func TestManagerClosed(t *testing.T) {
	m, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Insert(context.Background(), "text", 0, []float32{1, 1, 1, 1}), ErrClosed)
	assert.ErrorIs(t, m.Flush(context.Background()), ErrClosed)
	_, err = m.Files()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Snapshot(context.Background(), &bytes.Buffer{}, snapshot.None)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestManagerSharedResourceController(t *testing.T) {
	rc := NewResourceController(1024, 0)
	cfg := testConfig(t)
	cfg.Vectors = map[string]VectorConfig{"big": {Dim: 512}}
	m := openManager(t, cfg, WithResourceController(rc))

	err := m.Insert(context.Background(), "big", 0, make([]float32, 512))
	assert.ErrorIs(t, err, operr.ErrOutOfMemory)
	assert.False(t, operr.IsFatal(err))
}
