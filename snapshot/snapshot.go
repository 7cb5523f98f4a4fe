package snapshot

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"github.com/hupe1980/vecstore/internal/fs"
)

const (
	// ManifestName is the trailing archive entry describing all others.
	ManifestName = "manifest.json"
	// ColumnBackupName holds the column database backup stream.
	ColumnBackupName = "column.backup"
	// FormatVersion is bumped on incompatible archive changes.
	FormatVersion = 1
)

var (
	// ErrChecksumMismatch is returned when an entry does not match its manifest checksum.
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	// ErrCorrupt is returned for structurally invalid archives.
	ErrCorrupt = errors.New("snapshot: corrupt archive")
)

// Entry describes one archived file.
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	XXH3 uint64 `json:"xxh3"`
}

// Manifest describes an archive.
type Manifest struct {
	Version      int         `json:"version"`
	ID           string      `json:"id"`
	CreatedAt    time.Time   `json:"created_at"`
	Compression  Compression `json:"compression"`
	Entries      []Entry     `json:"entries"`
	ColumnBackup *Entry      `json:"column_backup,omitempty"`
}

// TotalSize returns the uncompressed payload size.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m.Entries {
		n += e.Size
	}
	if m.ColumnBackup != nil {
		n += m.ColumnBackup.Size
	}
	return n
}

// Source lists what goes into an archive.
type Source struct {
	// Root is the directory all Files are stored relative to.
	Root string
	// Files are absolute paths below Root.
	Files []string
	// ColumnBackup, if set, writes the column database backup.
	ColumnBackup func(w io.Writer) error
}

// Options configure Create.
type Options struct {
	Compression Compression
	Logger      *slog.Logger
	FS          fs.FileSystem
}

// RestoreOptions configure Restore.
type RestoreOptions struct {
	// ColumnLoader receives the verified column backup, if the archive has one.
	ColumnLoader func(r io.Reader) error
	Logger       *slog.Logger
	FS           fs.FileSystem
}

func orDefault(fsys fs.FileSystem, logger *slog.Logger) (fs.FileSystem, *slog.Logger) {
	if fsys == nil {
		fsys = fs.Default
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return fsys, logger
}

// Create writes an archive of src to w and returns its manifest.
func Create(ctx context.Context, w io.Writer, src Source, opts Options) (*Manifest, error) {
	fsys, logger := orDefault(opts.FS, opts.Logger)
	if opts.Compression == "" {
		opts.Compression = Zstd
	}

	m := &Manifest{
		Version:     FormatVersion,
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Compression: opts.Compression,
	}

	cw, err := newCompressor(w, opts.Compression)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(cw)

	for _, file := range src.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, err := archiveName(src.Root, file)
		if err != nil {
			return nil, err
		}
		entry, err := addFile(tw, fsys, file, name, m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", name, err)
		}
		m.Entries = append(m.Entries, entry)
		logger.Debug("archived file", "name", name, "size", entry.Size)
	}

	if src.ColumnBackup != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := addColumnBackup(tw, src.ColumnBackup, m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", ColumnBackupName, err)
		}
		m.ColumnBackup = &entry
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:     ManifestName,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  m.CreatedAt,
		Typeflag: tar.TypeReg,
	}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := cw.Close(); err != nil {
		return nil, err
	}

	logger.Info("snapshot created", "id", m.ID, "entries", len(m.Entries), "bytes", m.TotalSize(), "compression", m.Compression)
	return m, nil
}

func archiveName(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", err
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("snapshot: %s is outside %s", file, root)
	}
	name := filepath.ToSlash(rel)
	if name == ManifestName || name == ColumnBackupName {
		return "", fmt.Errorf("snapshot: reserved entry name %q", name)
	}
	return name, nil
}

func addFile(tw *tar.Writer, fsys fs.FileSystem, file, name string, mtime time.Time) (Entry, error) {
	f, err := fsys.OpenFile(file, os.O_RDONLY, 0)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Entry{}, err
	}
	return writeEntry(tw, f, name, info.Size(), mtime)
}

// addColumnBackup spools the backup to a temp file since tar needs the size up front.
func addColumnBackup(tw *tar.Writer, backup func(io.Writer) error, mtime time.Time) (Entry, error) {
	tmp, err := os.CreateTemp("", "vecstore-column-*.backup")
	if err != nil {
		return Entry{}, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := backup(tmp); err != nil {
		return Entry{}, err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return Entry{}, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Entry{}, err
	}
	return writeEntry(tw, tmp, ColumnBackupName, size, mtime)
}

func writeEntry(tw *tar.Writer, r io.Reader, name string, size int64, mtime time.Time) (Entry, error) {
	if err := tw.WriteHeader(&tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     size,
		ModTime:  mtime,
		Typeflag: tar.TypeReg,
	}); err != nil {
		return Entry{}, err
	}

	h := xxh3.New()
	n, err := io.Copy(io.MultiWriter(tw, h), io.LimitReader(r, size))
	if err != nil {
		return Entry{}, err
	}
	if n != size {
		return Entry{}, fmt.Errorf("file shrank during snapshot: got %d of %d bytes", n, size)
	}
	return Entry{Name: name, Size: size, XXH3: h.Sum64()}, nil
}

// Restore extracts the archive in r into dir, verifies it against its
// manifest and, if requested, loads the column backup.
//
// dir should be empty; on error it may hold a partial restore.
func Restore(ctx context.Context, r io.Reader, dir string, opts RestoreOptions) (*Manifest, error) {
	fsys, logger := orDefault(opts.FS, opts.Logger)

	dr, closeDecoder, detected, err := newDecompressor(r)
	if err != nil {
		return nil, err
	}
	defer closeDecoder()

	tr := tar.NewReader(dr)

	var (
		m       *Manifest
		seen    = map[string]Entry{}
		backup  *os.File
		backupE Entry
	)
	defer func() {
		if backup != nil {
			_ = backup.Close()
			_ = os.Remove(backup.Name())
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, fmt.Errorf("%w: unexpected entry type for %s", ErrCorrupt, hdr.Name)
		}
		if m != nil {
			return nil, fmt.Errorf("%w: entry %s after manifest", ErrCorrupt, hdr.Name)
		}

		switch hdr.Name {
		case ManifestName:
			m = &Manifest{}
			if err := json.NewDecoder(tr).Decode(m); err != nil {
				return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
			}
		case ColumnBackupName:
			if backup != nil {
				return nil, fmt.Errorf("%w: duplicate %s", ErrCorrupt, ColumnBackupName)
			}
			backup, err = os.CreateTemp("", "vecstore-restore-*.backup")
			if err != nil {
				return nil, err
			}
			backupE, err = copyEntry(backup, tr, hdr)
			if err != nil {
				return nil, err
			}
		default:
			if _, dup := seen[hdr.Name]; dup {
				return nil, fmt.Errorf("%w: duplicate entry %s", ErrCorrupt, hdr.Name)
			}
			entry, err := extractFile(fsys, tr, hdr, dir)
			if err != nil {
				return nil, err
			}
			seen[hdr.Name] = entry
		}
	}

	if m == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrCorrupt, ManifestName)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, m.Version)
	}
	if m.Compression != detected {
		logger.Warn("snapshot compression differs from manifest", "manifest", m.Compression, "detected", detected)
	}

	if err := verify(m, seen, backup != nil, backupE); err != nil {
		return nil, err
	}

	if m.ColumnBackup != nil && opts.ColumnLoader != nil {
		if _, err := backup.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		if err := opts.ColumnLoader(backup); err != nil {
			return nil, fmt.Errorf("load column backup: %w", err)
		}
	}

	logger.Info("snapshot restored", "id", m.ID, "entries", len(m.Entries), "dir", dir)
	return m, nil
}

func verify(m *Manifest, seen map[string]Entry, hasBackup bool, backup Entry) error {
	for _, want := range m.Entries {
		got, ok := seen[want.Name]
		if !ok {
			return fmt.Errorf("%w: missing entry %s", ErrCorrupt, want.Name)
		}
		if got != want {
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, want.Name)
		}
		delete(seen, want.Name)
	}
	if len(seen) > 0 {
		extra := make([]string, 0, len(seen))
		for name := range seen {
			extra = append(extra, name)
		}
		slices.Sort(extra)
		return fmt.Errorf("%w: entries not in manifest: %v", ErrCorrupt, extra)
	}

	switch {
	case m.ColumnBackup == nil && hasBackup:
		return fmt.Errorf("%w: %s not in manifest", ErrCorrupt, ColumnBackupName)
	case m.ColumnBackup != nil && !hasBackup:
		return fmt.Errorf("%w: missing entry %s", ErrCorrupt, ColumnBackupName)
	case m.ColumnBackup != nil && *m.ColumnBackup != backup:
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, ColumnBackupName)
	}
	return nil
}

func extractFile(fsys fs.FileSystem, tr *tar.Reader, hdr *tar.Header, dir string) (Entry, error) {
	if !filepath.IsLocal(filepath.FromSlash(hdr.Name)) || path.Clean(hdr.Name) != hdr.Name {
		return Entry{}, fmt.Errorf("%w: unsafe entry name %q", ErrCorrupt, hdr.Name)
	}
	target := filepath.Join(dir, filepath.FromSlash(hdr.Name))
	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Entry{}, err
	}

	f, err := fsys.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Entry{}, err
	}
	entry, err := copyEntry(f, tr, hdr)
	if err != nil {
		_ = f.Close()
		return Entry{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return Entry{}, err
	}
	return entry, f.Close()
}

func copyEntry(w io.Writer, tr *tar.Reader, hdr *tar.Header) (Entry, error) {
	h := xxh3.New()
	n, err := io.Copy(io.MultiWriter(w, h), tr)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, hdr.Name, err)
	}
	return Entry{Name: hdr.Name, Size: n, XXH3: h.Sum64()}, nil
}
