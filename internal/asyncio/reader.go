package asyncio

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"unsafe"

	"github.com/hupe1980/vecstore/operr"
)

// DefaultParallelism is the default number of reads kept in flight.
const DefaultParallelism = 16

// ErrUnsupported is returned when the platform has no asynchronous backend.
var ErrUnsupported = errors.New("asyncio: io_uring not supported")

// Callback receives one record. index is the position of offset in the
// requested sequence. vector is only valid for the duration of the call.
type Callback func(index int, offset uint32, vector []float32)

// Reader streams records from disk.
type Reader interface {
	// ReadStream reads the record at every offset and invokes fn for each.
	// Completion order is unspecified. The first failure aborts the rest
	// of the batch.
	ReadStream(ctx context.Context, offsets iter.Seq[uint32], fn Callback) error
	// Close releases the reader. The file is not closed.
	Close() error
}

// Option configures a reader.
type Option func(*options)

type options struct {
	parallelism int
	logger      *slog.Logger
}

// WithParallelism sets the number of buffers and thus in-flight reads.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithLogger sets the logger used to report the chosen backend.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{parallelism: DefaultParallelism, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// layout locates records inside the file.
type layout struct {
	rawSize    int
	headerSize int
}

func newLayout(rawSize, headerSize int) (layout, error) {
	if rawSize <= 0 || rawSize%4 != 0 {
		return layout{}, operr.Validation("record size %d is not a positive multiple of 4", rawSize)
	}
	if headerSize < 0 {
		return layout{}, operr.Validation("negative header size %d", headerSize)
	}
	return layout{rawSize: rawSize, headerSize: headerSize}, nil
}

func (l layout) position(offset uint32) int64 {
	return int64(offset)*int64(l.rawSize) + int64(l.headerSize)
}

// New returns an io_uring reader where the kernel allows one and a
// synchronous reader otherwise.
func New(f *os.File, rawSize, headerSize int, opts ...Option) (Reader, error) {
	l, err := newLayout(rawSize, headerSize)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	r, err := newURing(f, l, o)
	if err == nil {
		o.logger.Debug("async reader ready", "backend", "io_uring", "parallelism", o.parallelism)
		return r, nil
	}

	o.logger.Debug("io_uring unavailable, using pread", "error", err)
	return &syncReader{f: f, layout: l}, nil
}

// NewSync returns the synchronous pread reader.
func NewSync(f *os.File, rawSize, headerSize int) (Reader, error) {
	l, err := newLayout(rawSize, headerSize)
	if err != nil {
		return nil, err
	}
	return &syncReader{f: f, layout: l}, nil
}

// asFloat32s reinterprets a 4-byte aligned buffer as float32s.
func asFloat32s(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
