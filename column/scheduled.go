package column

import (
	"iter"
	"sync"
)

// ScheduledDeleteWrapper defers removals until its flusher runs.
// Pending removals are invisible to readers immediately.
type ScheduledDeleteWrapper struct {
	w *Wrapper

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewScheduledDelete wraps w.
func NewScheduledDelete(w *Wrapper) *ScheduledDeleteWrapper {
	return &ScheduledDeleteWrapper{w: w, pending: make(map[string]struct{})}
}

// Wrapper returns the underlying column.
func (s *ScheduledDeleteWrapper) Wrapper() *Wrapper { return s.w }

// Put stores value and cancels a pending removal of key.
func (s *ScheduledDeleteWrapper) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, string(key))
	return s.w.Put(key, value)
}

// Get returns ErrKeyNotFound for keys with a pending removal.
func (s *ScheduledDeleteWrapper) Get(key []byte) ([]byte, error) {
	if s.isPending(key) {
		return nil, ErrKeyNotFound
	}
	return s.w.Get(key)
}

func (s *ScheduledDeleteWrapper) pin(key []byte, fn func([]byte) error) error {
	if s.isPending(key) {
		return ErrKeyNotFound
	}
	return s.w.pin(key, fn)
}

// Remove schedules key for removal on the next flush.
func (s *ScheduledDeleteWrapper) Remove(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[string(key)] = struct{}{}
}

// PendingDeleteCount returns the number of scheduled removals.
func (s *ScheduledDeleteWrapper) PendingDeleteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// All iterates the column, skipping keys with a pending removal.
func (s *ScheduledDeleteWrapper) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for e, err := range s.w.All() {
			if err == nil && s.isPending(e.Key) {
				continue
			}
			if !yield(e, err) {
				return
			}
		}
	}
}

// Flusher applies pending removals in one batch, then flushes the column.
// Removals stay pending if the batch fails.
func (s *ScheduledDeleteWrapper) Flusher() Flusher {
	flush := s.w.Flusher()
	return func() error {
		s.mu.Lock()
		if len(s.pending) > 0 {
			keys := make([][]byte, 0, len(s.pending))
			for k := range s.pending {
				keys = append(keys, []byte(k))
			}
			if err := s.w.removeBatch(keys); err != nil {
				s.mu.Unlock()
				return err
			}
			clear(s.pending)
		}
		s.mu.Unlock()
		return flush()
	}
}

func (s *ScheduledDeleteWrapper) isPending(key []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[string(key)]
	return ok
}
