package vectorstore

import (
	"log/slog"

	"github.com/hupe1980/vecstore/internal/asyncio"
	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/resource"
)

// Option configures a store.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	resources       *resource.Controller
	fs              fs.FileSystem
	asyncIO         bool
	readParallelism int
}

func defaultOptions() options {
	return options{
		logger:          slog.New(slog.DiscardHandler),
		fs:              fs.Default,
		readParallelism: asyncio.DefaultParallelism,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithResourceController sets the memory budget (Dense) and the IO rate
// limit for migrations (Memmap).
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithFS sets the file system used for Memmap file mutations.
func WithFS(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithAsyncIO enables the asynchronous disk reader of a Memmap store.
func WithAsyncIO(enabled bool) Option {
	return func(o *options) {
		o.asyncIO = enabled
	}
}

// WithReadParallelism sets the number of reads the async reader keeps in flight.
func WithReadParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readParallelism = n
		}
	}
}
