package column

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduledDelete(t *testing.T) {
	db := openMem(t)
	w := New(db, "mapping")
	require.NoError(t, w.CreateIfNotExists())
	s := NewScheduledDelete(w)

	require.NoError(t, s.Put(key(1), []byte("one")))
	require.NoError(t, s.Put(key(2), []byte("two")))
	require.NoError(t, s.Put(key(3), []byte("three")))

	s.Remove(key(1))
	s.Remove(key(2))
	assert.Equal(t, 2, s.PendingDeleteCount())

	// Hidden from readers, still present underneath.
	_, err := s.Get(key(1))
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = GetPinned(s, key(1), func(v []byte) (string, error) { return string(v), nil })
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = w.Get(key(1))
	require.NoError(t, err)

	// A put cancels the pending removal.
	require.NoError(t, s.Put(key(2), []byte("two again")))
	assert.Equal(t, 1, s.PendingDeleteCount())

	var keys []string
	for e, err := range s.All() {
		require.NoError(t, err)
		keys = append(keys, string(e.Value))
	}
	assert.Equal(t, []string{"two again", "three"}, keys)

	require.NoError(t, s.Flusher()())
	assert.Zero(t, s.PendingDeleteCount())
	_, err = w.Get(key(1))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	v, err := GetPinned(s, key(2), func(v []byte) (string, error) { return string(v), nil })
	require.NoError(t, err)
	assert.Equal(t, "two again", v)
}

func TestScheduledDeleteKeepsPendingOnFailure(t *testing.T) {
	db := openMem(t)
	w := New(db, "mapping")
	require.NoError(t, w.CreateIfNotExists())
	s := NewScheduledDelete(w)

	require.NoError(t, s.Put(key(1), []byte("one")))
	s.Remove(key(1))
	require.NoError(t, w.Drop())

	assert.Error(t, s.Flusher()())
	assert.Equal(t, 1, s.PendingDeleteCount())
}
