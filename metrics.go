package vecstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems;
// PrometheusCollector is the built-in Prometheus integration.
type MetricsCollector interface {
	// RecordInsert is called after each insert operation.
	// duration is the total time taken, err is nil if successful.
	RecordInsert(duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, err error)

	// RecordMigration is called after each storage conversion.
	// count is the number of vectors copied.
	RecordMigration(count int, duration time.Duration, err error)

	// RecordFlush is called after each flush of all storages.
	RecordFlush(duration time.Duration, err error)

	// RecordAsyncRead is called after each batch read from an on-disk
	// storage. count is the number of vectors requested.
	RecordAsyncRead(count int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)         {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)         {}
func (NoopMetricsCollector) RecordMigration(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordFlush(time.Duration, error)          {}
func (NoopMetricsCollector) RecordAsyncRead(int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount         atomic.Int64
	InsertErrors        atomic.Int64
	InsertTotalNanos    atomic.Int64
	DeleteCount         atomic.Int64
	DeleteErrors        atomic.Int64
	MigrationCount      atomic.Int64
	MigrationErrors     atomic.Int64
	MigratedVectors     atomic.Int64
	FlushCount          atomic.Int64
	FlushErrors         atomic.Int64
	FlushTotalNanos     atomic.Int64
	AsyncReadCount      atomic.Int64
	AsyncReadErrors     atomic.Int64
	AsyncReadVectors    atomic.Int64
	AsyncReadTotalNanos atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordMigration implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMigration(count int, duration time.Duration, err error) {
	b.MigrationCount.Add(1)
	b.MigratedVectors.Add(int64(count))
	if err != nil {
		b.MigrationErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(duration time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordAsyncRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAsyncRead(count int, duration time.Duration, err error) {
	b.AsyncReadCount.Add(1)
	b.AsyncReadVectors.Add(int64(count))
	b.AsyncReadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AsyncReadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:       b.InsertCount.Load(),
		InsertErrors:      b.InsertErrors.Load(),
		InsertAvgNanos:    avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		DeleteCount:       b.DeleteCount.Load(),
		DeleteErrors:      b.DeleteErrors.Load(),
		MigrationCount:    b.MigrationCount.Load(),
		MigrationErrors:   b.MigrationErrors.Load(),
		MigratedVectors:   b.MigratedVectors.Load(),
		FlushCount:        b.FlushCount.Load(),
		FlushErrors:       b.FlushErrors.Load(),
		FlushAvgNanos:     avg(b.FlushTotalNanos.Load(), b.FlushCount.Load()),
		AsyncReadCount:    b.AsyncReadCount.Load(),
		AsyncReadErrors:   b.AsyncReadErrors.Load(),
		AsyncReadVectors:  b.AsyncReadVectors.Load(),
		AsyncReadAvgNanos: avg(b.AsyncReadTotalNanos.Load(), b.AsyncReadCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount       int64
	InsertErrors      int64
	InsertAvgNanos    int64
	DeleteCount       int64
	DeleteErrors      int64
	MigrationCount    int64
	MigrationErrors   int64
	MigratedVectors   int64
	FlushCount        int64
	FlushErrors       int64
	FlushAvgNanos     int64
	AsyncReadCount    int64
	AsyncReadErrors   int64
	AsyncReadVectors  int64
	AsyncReadAvgNanos int64
}
