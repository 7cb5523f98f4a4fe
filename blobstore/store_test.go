package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"local":  NewLocalStore(t.TempDir()),
		"memory": NewMemoryStore(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "snapshots/a.tar", strings.NewReader("alpha")))
			require.NoError(t, s.Put(ctx, "snapshots/b.tar", strings.NewReader("beta")))
			require.NoError(t, s.Put(ctx, "other", strings.NewReader("x")))

			rc, err := s.Open(ctx, "snapshots/a.tar")
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, "alpha", string(data))

			// Put replaces.
			require.NoError(t, s.Put(ctx, "snapshots/a.tar", strings.NewReader("alpha2")))
			rc, err = s.Open(ctx, "snapshots/a.tar")
			require.NoError(t, err)
			data, _ = io.ReadAll(rc)
			_ = rc.Close()
			assert.Equal(t, "alpha2", string(data))

			names, err := s.List(ctx, "snapshots/")
			require.NoError(t, err)
			assert.Equal(t, []string{"snapshots/a.tar", "snapshots/b.tar"}, names)

			require.NoError(t, s.Delete(ctx, "snapshots/a.tar"))
			require.NoError(t, s.Delete(ctx, "snapshots/a.tar"))
			_, err = s.Open(ctx, "snapshots/a.tar")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestStorePutFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Put(ctx, "broken", io.MultiReader(strings.NewReader("partial"), failingReader{boom}))
			assert.ErrorIs(t, err, boom)

			names, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestStoreCancelledPut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Put(ctx, "x", strings.NewReader("data"))
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestValidateName(t *testing.T) {
	for _, bad := range []string{"", "/abs", "../escape", "a/../../b", "a//b", ".."} {
		assert.Error(t, ValidateName(bad), bad)
	}
	assert.NoError(t, ValidateName("snapshots/2024/a.tar.zst"))

	s := NewLocalStore(t.TempDir())
	assert.Error(t, s.Put(context.Background(), "../x", strings.NewReader("")))
}

func TestLocalStoreListMissingRoot(t *testing.T) {
	s := NewLocalStore(t.TempDir() + "/missing")
	names, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
	_, err = s.Open(context.Background(), "nope")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
