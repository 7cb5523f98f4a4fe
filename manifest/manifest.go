// Package manifest persists the storage layout of a segment: which backend
// holds each named vector and with which dimension and metric.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/vecstore/distance"
	"github.com/hupe1980/vecstore/internal/fs"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	CurrentVersion   = 1
)

// Manifest describes the storage layout at a specific point in time.
type Manifest struct {
	Version int                   `json:"version"`
	ID      uint64                `json:"id"`
	Vectors map[string]VectorInfo `json:"vectors"`
}

// VectorInfo describes a single named vector storage.
type VectorInfo struct {
	Kind   string          `json:"kind"`
	Dim    int             `json:"dim"`
	Metric distance.Metric `json:"metric"`
	// Count is informational; the backend is authoritative on open.
	Count int `json:"count"`
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{Version: m.Version, ID: m.ID, Vectors: make(map[string]VectorInfo, len(m.Vectors))}
	for k, v := range m.Vectors {
		c.Vectors[k] = v
	}
	return c
}

// Store manages the manifest file and atomic updates.
type Store struct {
	fs  fs.FileSystem
	dir string
	mu  sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(fsys fs.FileSystem, dir string) *Store {
	return &Store{
		fs:  fsys,
		dir: dir,
	}
}

func (s *Store) readFile(path string) ([]byte, error) {
	f, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Load loads the current manifest. A missing CURRENT yields an empty manifest.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.readFile(filepath.Join(s.dir, CurrentFileName))
	if errors.Is(err, os.ErrNotExist) {
		return &Manifest{Version: CurrentVersion, Vectors: map[string]VectorInfo{}}, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := s.readFile(filepath.Join(s.dir, string(content)))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt manifest %s: %w", content, err)
	}

	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported manifest version: %d (expected %d)", m.Version, CurrentVersion)
	}
	if m.Vectors == nil {
		m.Vectors = map[string]VectorInfo{}
	}

	return &m, nil
}

// Save atomically saves a new manifest and removes the one it replaces.
func (s *Store) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	prev := m.ID
	m.ID++

	filename := fileName(m.ID)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	if err := s.writeAtomic(filename, data); err != nil {
		return err
	}
	if err := s.writeAtomic(CurrentFileName, []byte(filename)); err != nil {
		return err
	}

	if prev > 0 {
		if err := s.fs.Remove(filepath.Join(s.dir, fileName(prev))); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Files lists the manifest files currently referenced, relative to the store dir.
func (s *Store) Files() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.readFile(filepath.Join(s.dir, CurrentFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []string{CurrentFileName, string(content)}, nil
}

func fileName(id uint64) string {
	return fmt.Sprintf("%s-%06d.json", ManifestFileName, id)
}

func (s *Store) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"

	f, err := s.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return err
	}

	if err := s.fs.Rename(tmpPath, path); err != nil {
		s.fs.Remove(tmpPath)
		return err
	}

	return s.syncDir()
}

func (s *Store) syncDir() error {
	f, err := s.fs.OpenFile(s.dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
