package column

import (
	"errors"
	"fmt"
	"iter"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/vecstore/operr"
)

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("column: key not found")

// Flusher persists buffered writes.
type Flusher func() error

// Entry is a key/value pair read from a column.
type Entry struct {
	Key   []byte
	Value []byte
}

// Wrapper gives access to one named column.
type Wrapper struct {
	db   *DB
	name string
}

// New returns a wrapper for column name. The column is not created.
func New(db *DB, name string) *Wrapper {
	return &Wrapper{db: db, name: name}
}

// Name returns the column name.
func (w *Wrapper) Name() string { return w.name }

// DB returns the shared database.
func (w *Wrapper) DB() *DB { return w.db }

// CreateIfNotExists creates the column if it is missing.
func (w *Wrapper) CreateIfNotExists() error {
	if err := validName(w.name); err != nil {
		return err
	}
	return w.db.createColumn(w.name)
}

// Recreate drops the column with all its keys and creates it empty.
func (w *Wrapper) Recreate() error {
	if err := validName(w.name); err != nil {
		return err
	}
	return w.db.recreateColumn(w.name)
}

// Drop removes the column and its keys. Dropping a missing column is a no-op.
func (w *Wrapper) Drop() error {
	return w.db.dropColumn(w.name)
}

// Has reports whether the column exists.
func (w *Wrapper) Has() bool {
	w.db.mu.RLock()
	defer w.db.mu.RUnlock()
	_, ok := w.db.columns[w.name]
	return ok
}

// Put stores value under key.
func (w *Wrapper) Put(key, value []byte) error {
	w.db.mu.RLock()
	defer w.db.mu.RUnlock()

	prefix, err := w.db.prefixOf(w.name)
	if err != nil {
		return err
	}
	err = w.db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dataKey(prefix, key), value)
	})
	return operr.WrapService(err, fmt.Sprintf("failed to put key into column %s", w.name))
}

// Get returns a copy of the value stored under key.
func (w *Wrapper) Get(key []byte) ([]byte, error) {
	var val []byte
	err := w.pin(key, func(v []byte) error {
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

// GetPinned reads key and projects its value with fn without copying.
// The slice passed to fn is only valid for the duration of the call.
func GetPinned[T any](r PinnedReader, key []byte, fn func([]byte) (T, error)) (T, error) {
	var out T
	err := r.pin(key, func(v []byte) error {
		var err error
		out, err = fn(v)
		return err
	})
	return out, err
}

// PinnedReader is a column that supports GetPinned.
type PinnedReader interface {
	pin(key []byte, fn func([]byte) error) error
}

func (w *Wrapper) pin(key []byte, fn func([]byte) error) error {
	w.db.mu.RLock()
	defer w.db.mu.RUnlock()

	prefix, err := w.db.prefixOf(w.name)
	if err != nil {
		return err
	}

	var notFound bool
	var userErr error
	err = w.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(prefix, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			notFound = true
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			userErr = fn(v)
			return nil
		})
	})
	if err != nil {
		return operr.WrapService(err, fmt.Sprintf("failed to get key from column %s", w.name))
	}
	if notFound {
		return ErrKeyNotFound
	}
	return userErr
}

// Remove deletes key. Removing a missing key is not an error.
func (w *Wrapper) Remove(key []byte) error {
	w.db.mu.RLock()
	defer w.db.mu.RUnlock()

	prefix, err := w.db.prefixOf(w.name)
	if err != nil {
		return err
	}
	err = w.db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dataKey(prefix, key))
	})
	return operr.WrapService(err, fmt.Sprintf("failed to remove key from column %s", w.name))
}

// removeBatch deletes keys in a single write batch.
func (w *Wrapper) removeBatch(keys [][]byte) error {
	w.db.mu.RLock()
	defer w.db.mu.RUnlock()

	prefix, err := w.db.prefixOf(w.name)
	if err != nil {
		return err
	}

	wb := w.db.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(dataKey(prefix, key)); err != nil {
			return operr.WrapService(err, fmt.Sprintf("failed to remove keys from column %s", w.name))
		}
	}
	return operr.WrapService(wb.Flush(), fmt.Sprintf("failed to remove keys from column %s", w.name))
}

// Iter returns a cursor over a consistent snapshot of the column in key order.
// The cursor must be closed.
func (w *Wrapper) Iter() (*Iterator, error) {
	w.db.mu.RLock()
	defer w.db.mu.RUnlock()

	prefix, err := w.db.prefixOf(w.name)
	if err != nil {
		return nil, err
	}

	txn := w.db.db.NewTransaction(false)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
	return &Iterator{txn: txn, it: it, prefix: prefix}, nil
}

// All iterates the column in key order. Keys and values are copies.
// Iteration stops after the first error is yielded.
func (w *Wrapper) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		it, err := w.Iter()
		if err != nil {
			yield(Entry{}, err)
			return
		}
		defer it.Close()

		for it.Next() {
			if !yield(Entry{Key: it.Key(), Value: it.Value()}, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Entry{}, err)
		}
	}
}

// Flusher returns a function that persists this column's pending writes.
// Flushing a column that has been dropped logs a warning and succeeds.
func (w *Wrapper) Flusher() Flusher {
	return func() error {
		w.db.mu.RLock()
		defer w.db.mu.RUnlock()

		if _, err := w.db.prefixOf(w.name); err != nil {
			if errors.Is(err, operr.ErrColumnNotFound) {
				w.db.opts.logger.Warn("flush of missing column skipped", "column", w.name)
				return nil
			}
			return err
		}
		return w.db.syncLocked()
	}
}

// Iterator walks a snapshot of one column.
type Iterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
	key     []byte
	value   []byte
	err     error
}

// Next advances to the next entry and reports whether one exists.
func (i *Iterator) Next() bool {
	if i.it == nil || i.err != nil {
		return false
	}
	if !i.started {
		i.it.Seek(i.prefix)
		i.started = true
	} else {
		i.it.Next()
	}
	if !i.it.ValidForPrefix(i.prefix) {
		return false
	}

	item := i.it.Item()
	i.key = item.KeyCopy(nil)[len(i.prefix):]
	value, err := item.ValueCopy(nil)
	if err != nil {
		i.err = operr.WrapService(err, "failed to read column value")
		return false
	}
	i.value = value
	return true
}

// Key returns the current key without the column prefix.
func (i *Iterator) Key() []byte { return i.key }

// Value returns the current value.
func (i *Iterator) Value() []byte { return i.value }

// Err returns the first error encountered.
func (i *Iterator) Err() error { return i.err }

// Close releases the snapshot.
func (i *Iterator) Close() {
	if i.it == nil {
		return
	}
	i.it.Close()
	i.txn.Discard()
	i.it = nil
}
