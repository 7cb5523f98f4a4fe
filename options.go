package vecstore

import (
	"log/slog"

	"github.com/hupe1980/vecstore/internal/fs"
	"github.com/hupe1980/vecstore/internal/resource"
)

// ResourceController enforces the memory budget of dense storages and the
// IO rate limit of migrations.
type ResourceController = resource.Controller

// NewResourceController creates a controller. Zero limits disable the
// corresponding budget.
func NewResourceController(memoryLimitBytes, ioLimitBytesPerSec int64) *ResourceController {
	return resource.NewController(resource.Config{
		MemoryLimitBytes:   memoryLimitBytes,
		IOLimitBytesPerSec: ioLimitBytesPerSec,
	})
}

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	resources        *ResourceController
	fs               fs.FileSystem
}

// Option configures Open and Restore.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vecstore.BasicMetricsCollector{}
//	m, _ := vecstore.Open(ctx, cfg, vecstore.WithMetricsCollector(metrics))
//	// ... use m ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, Avg latency: %dns\n", stats.InsertCount, stats.InsertAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vecstore.NewJSONLogger(slog.LevelInfo)
//	m, _ := vecstore.Open(ctx, cfg, vecstore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController shares a resource controller between managers.
// It overrides the limits in Config.
func WithResourceController(rc *ResourceController) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// withFS swaps the file system used for storage files. Tests only.
func withFS(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fs:               fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
