package snapshot

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecstore/blobstore"
)

func writeTree(t *testing.T, files map[string]string) (string, []string) {
	t.Helper()
	root := t.TempDir()
	var paths []string
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		paths = append(paths, p)
	}
	return root, paths
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCreateRestoreRoundTrip(t *testing.T) {
	files := map[string]string{
		"vectors/text/matrix.dat":  strings.Repeat("\x01\x02\x03\x04", 1024),
		"vectors/text/deleted.dat": "\x05\x00\x00\x00\x00\x00\x00\x00",
		"CURRENT":                  "MANIFEST-000001.json",
	}

	for _, c := range []Compression{None, Zstd, LZ4, Snappy} {
		t.Run(string(c), func(t *testing.T) {
			root, paths := writeTree(t, files)

			var buf bytes.Buffer
			m, err := Create(context.Background(), &buf, Source{
				Root:  root,
				Files: paths,
				ColumnBackup: func(w io.Writer) error {
					_, err := io.WriteString(w, "column-data")
					return err
				},
			}, Options{Compression: c})
			require.NoError(t, err)
			assert.Len(t, m.Entries, len(files))
			require.NotNil(t, m.ColumnBackup)
			assert.NotEmpty(t, m.ID)

			dir := t.TempDir()
			var loaded string
			restored, err := Restore(context.Background(), &buf, dir, RestoreOptions{
				ColumnLoader: func(r io.Reader) error {
					data, err := io.ReadAll(r)
					loaded = string(data)
					return err
				},
			})
			require.NoError(t, err)
			assert.Equal(t, m.ID, restored.ID)
			assert.Equal(t, c, restored.Compression)
			assert.Equal(t, "column-data", loaded)

			for name, content := range files {
				assert.Equal(t, content, readFile(t, filepath.Join(dir, filepath.FromSlash(name))), name)
			}
		})
	}
}

func TestRestoreWithoutColumnLoader(t *testing.T) {
	root, paths := writeTree(t, map[string]string{"a": "x"})
	var buf bytes.Buffer
	_, err := Create(context.Background(), &buf, Source{
		Root:         root,
		Files:        paths,
		ColumnBackup: func(w io.Writer) error { return nil },
	}, Options{})
	require.NoError(t, err)

	m, err := Restore(context.Background(), &buf, t.TempDir(), RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.ColumnBackup.Size)
	assert.Equal(t, Zstd, m.Compression)
}

func TestCreateRejectsFileOutsideRoot(t *testing.T) {
	root := t.TempDir()
	_, outside := writeTree(t, map[string]string{"x": "y"})
	_, err := Create(context.Background(), io.Discard, Source{Root: root, Files: outside}, Options{})
	assert.Error(t, err)
}

func TestCreateColumnBackupError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Create(context.Background(), io.Discard, Source{
		Root:         t.TempDir(),
		ColumnBackup: func(io.Writer) error { return boom },
	}, Options{})
	assert.ErrorIs(t, err, boom)
}

func TestCreateCancelled(t *testing.T) {
	root, paths := writeTree(t, map[string]string{"a": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Create(ctx, io.Discard, Source{Root: root, Files: paths}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

// rawArchive builds an uncompressed tar from name/content pairs in order.
func rawArchive(t *testing.T, entries ...[2]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e[0], Mode: 0o644, Size: int64(len(e[1])), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return &buf
}

func TestRestoreDetectsTampering(t *testing.T) {
	root, paths := writeTree(t, map[string]string{"a": "original"})
	var buf bytes.Buffer
	m, err := Create(context.Background(), &buf, Source{Root: root, Files: paths}, Options{Compression: None})
	require.NoError(t, err)

	manifestJSON := extractManifest(t, buf.Bytes())

	tampered := rawArchive(t, [2]string{"a", "modified"}, [2]string{ManifestName, manifestJSON})
	_, err = Restore(context.Background(), tampered, t.TempDir(), RestoreOptions{})
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	missing := rawArchive(t, [2]string{ManifestName, manifestJSON})
	_, err = Restore(context.Background(), missing, t.TempDir(), RestoreOptions{})
	assert.ErrorIs(t, err, ErrCorrupt)

	extra := rawArchive(t, [2]string{"a", "original"}, [2]string{"b", "?"}, [2]string{ManifestName, manifestJSON})
	_, err = Restore(context.Background(), extra, t.TempDir(), RestoreOptions{})
	assert.ErrorIs(t, err, ErrCorrupt)

	assert.Len(t, m.Entries, 1)
}

func extractManifest(t *testing.T, archive []byte) string {
	t.Helper()
	tr := tar.NewReader(bytes.NewReader(archive))
	for {
		hdr, err := tr.Next()
		require.NoError(t, err)
		if hdr.Name == ManifestName {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			return string(data)
		}
	}
}

func TestRestoreRejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"../escape", "/abs", "a/../../b"} {
		archive := rawArchive(t, [2]string{name, "x"})
		_, err := Restore(context.Background(), archive, t.TempDir(), RestoreOptions{})
		assert.ErrorIs(t, err, ErrCorrupt, name)
	}
}

func TestRestoreMissingManifest(t *testing.T) {
	_, err := Restore(context.Background(), rawArchive(t, [2]string{"a", "x"}), t.TempDir(), RestoreOptions{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRestoreGarbage(t *testing.T) {
	_, err := Restore(context.Background(), strings.NewReader("definitely not a tar stream, long enough to parse a header"), t.TempDir(), RestoreOptions{})
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, Zstd, c)

	c, err = ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, LZ4, c)

	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}

func TestUploadDownload(t *testing.T) {
	root, paths := writeTree(t, map[string]string{"vectors/a/matrix.dat": "abcdefgh"})
	store := blobstore.NewMemoryStore()
	ctx := context.Background()

	var created *Manifest
	err := Upload(ctx, store, "snapshots/s1.tar.zst", func(w io.Writer) error {
		var err error
		created, err = Create(ctx, w, Source{Root: root, Files: paths}, Options{})
		return err
	})
	require.NoError(t, err)

	dir := t.TempDir()
	m, err := Download(ctx, store, "snapshots/s1.tar.zst", dir, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, created.ID, m.ID)
	assert.Equal(t, "abcdefgh", readFile(t, filepath.Join(dir, "vectors", "a", "matrix.dat")))

	_, err = Download(ctx, store, "snapshots/missing", dir, RestoreOptions{})
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestUploadWriterError(t *testing.T) {
	store := blobstore.NewMemoryStore()
	boom := errors.New("boom")
	err := Upload(context.Background(), store, "x", func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}
