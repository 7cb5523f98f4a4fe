package column

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/vecstore/operr"
)

const (
	metaPrefix byte = 0x00
	dataPrefix byte = 0x01

	columnKeyPrefix = "col/"
	nextIDKey       = "next_id"

	prefixLen = 5
)

// ErrClosed is returned when using a DB after its last reference was closed.
var ErrClosed = errors.New("column: database closed")

// Option configures a DB.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	syncWrites bool
	inMemory   bool
}

// WithLogger sets the logger badger and the column layer write to.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSyncWrites makes every write durable before returning.
// The default is fire-and-forget with explicit flushes.
func WithSyncWrites(sync bool) Option {
	return func(o *options) {
		o.syncWrites = sync
	}
}

// DB is a shared, reference-counted column database.
type DB struct {
	mu      sync.RWMutex
	db      *badger.DB
	dir     string
	opts    options
	refs    int
	columns map[string]uint32
	nextID  uint32
}

// Open opens (or creates) the column database in dir.
func Open(dir string, opts ...Option) (*DB, error) {
	if dir == "" {
		return nil, operr.Validation("column database directory is required")
	}
	return open(dir, opts)
}

// OpenInMemory opens a database that lives only in memory.
func OpenInMemory(opts ...Option) (*DB, error) {
	return open("", append(opts, func(o *options) { o.inMemory = true }))
}

func open(dir string, opts []Option) (*DB, error) {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	bopts := badger.DefaultOptions(dir).
		WithInMemory(o.inMemory).
		WithSyncWrites(o.syncWrites).
		WithLogger(badgerLogger{l: o.logger})

	bdb, err := badger.Open(bopts)
	if err != nil {
		return nil, operr.WrapService(err, "failed to open column database")
	}

	d := &DB{db: bdb, dir: dir, opts: o, refs: 1}
	if err := d.loadRegistry(); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) loadRegistry() error {
	columns := make(map[string]uint32)
	var nextID uint32 = 1

	err := d.db.View(func(txn *badger.Txn) error {
		prefix := metaKey(columnKeyPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefix):])
			err := item.Value(func(v []byte) error {
				if len(v) != 4 {
					return fmt.Errorf("corrupt registry entry for column %q", name)
				}
				columns[name] = binary.BigEndian.Uint32(v)
				return nil
			})
			if err != nil {
				return err
			}
		}

		item, err := txn.Get(metaKey(nextIDKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) != 4 {
				return errors.New("corrupt column id counter")
			}
			nextID = binary.BigEndian.Uint32(v)
			return nil
		})
	})
	if err != nil {
		return operr.WrapService(err, "failed to load column registry")
	}

	d.columns = columns
	d.nextID = nextID
	return nil
}

// Acquire adds a reference. Every Acquire must be paired with a Close.
func (d *DB) Acquire() *DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs++
	return d
}

// Close drops a reference and closes badger when the last one goes away.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.refs == 0 {
		return nil
	}
	d.refs--
	if d.refs > 0 {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return operr.WrapService(err, "failed to close column database")
}

// Dir returns the database directory ("" for in-memory databases).
func (d *DB) Dir() string { return d.dir }

// InMemory reports whether the database has no on-disk state.
func (d *DB) InMemory() bool { return d.opts.inMemory }

// ListColumns returns the names of all existing columns, sorted.
func (d *DB) ListColumns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.columns))
	for name := range d.columns {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Backup writes a full backup stream of the database to w.
func (d *DB) Backup(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return ErrClosed
	}
	_, err := d.db.Backup(w, 0)
	return operr.WrapService(err, "failed to back up column database")
}

// Load restores a backup stream written by Backup and reloads the registry.
func (d *DB) Load(r io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return ErrClosed
	}
	if err := d.db.Load(r, 256); err != nil {
		return operr.WrapService(err, "failed to load column database backup")
	}
	return d.loadRegistry()
}

// Sync persists all pending writes.
func (d *DB) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.syncLocked()
}

func (d *DB) syncLocked() error {
	if d.db == nil {
		return ErrClosed
	}
	if d.opts.inMemory {
		return nil
	}
	return operr.WrapService(d.db.Sync(), "failed to flush column database")
}

func (d *DB) createColumn(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createLocked(name)
}

func (d *DB) createLocked(name string) error {
	if d.db == nil {
		return ErrClosed
	}
	if _, ok := d.columns[name]; ok {
		return nil
	}

	id := d.nextID
	idBytes := binary.BigEndian.AppendUint32(nil, id)
	nextBytes := binary.BigEndian.AppendUint32(nil, id+1)

	err := d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(metaKey(columnKeyPrefix+name), idBytes); err != nil {
			return err
		}
		return txn.Set(metaKey(nextIDKey), nextBytes)
	})
	if err != nil {
		return operr.WrapService(err, fmt.Sprintf("failed to create column %s", name))
	}

	d.columns[name] = id
	d.nextID = id + 1
	d.opts.logger.Debug("column created", "column", name, "id", id)
	return nil
}

func (d *DB) dropColumn(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropLocked(name)
}

func (d *DB) dropLocked(name string) error {
	if d.db == nil {
		return ErrClosed
	}
	id, ok := d.columns[name]
	if !ok {
		return nil
	}

	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(columnKeyPrefix + name))
	})
	if err != nil {
		return operr.WrapService(err, fmt.Sprintf("failed to drop column %s", name))
	}
	delete(d.columns, name)

	if err := d.db.DropPrefix(columnPrefix(id)); err != nil {
		return operr.WrapService(err, fmt.Sprintf("failed to drop data of column %s", name))
	}
	d.opts.logger.Debug("column dropped", "column", name, "id", id)
	return nil
}

func (d *DB) recreateColumn(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dropLocked(name); err != nil {
		return err
	}
	return d.createLocked(name)
}

// prefixOf returns the key prefix of name. Callers hold d.mu.
func (d *DB) prefixOf(name string) ([]byte, error) {
	if d.db == nil {
		return nil, ErrClosed
	}
	id, ok := d.columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", operr.ErrColumnNotFound, name)
	}
	return columnPrefix(id), nil
}

func metaKey(name string) []byte {
	return append([]byte{metaPrefix}, name...)
}

func columnPrefix(id uint32) []byte {
	p := make([]byte, prefixLen, prefixLen+8)
	p[0] = dataPrefix
	binary.BigEndian.PutUint32(p[1:], id)
	return p
}

func dataKey(prefix, key []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(key))
	return append(append(k, prefix...), key...)
}

func validName(name string) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return operr.Validation("invalid column name %q", name)
	}
	return nil
}
