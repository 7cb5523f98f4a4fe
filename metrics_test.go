package vecstore

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicMetricsCollector(t *testing.T) {
	b := &BasicMetricsCollector{}
	boom := errors.New("boom")

	b.RecordInsert(10*time.Nanosecond, nil)
	b.RecordInsert(30*time.Nanosecond, boom)
	b.RecordDelete(time.Nanosecond, nil)
	b.RecordMigration(100, time.Second, nil)
	b.RecordFlush(4*time.Nanosecond, boom)
	b.RecordAsyncRead(8, 6*time.Nanosecond, nil)

	stats := b.GetStats()
	assert.Equal(t, int64(2), stats.InsertCount)
	assert.Equal(t, int64(1), stats.InsertErrors)
	assert.Equal(t, int64(20), stats.InsertAvgNanos)
	assert.Equal(t, int64(1), stats.DeleteCount)
	assert.Equal(t, int64(100), stats.MigratedVectors)
	assert.Equal(t, int64(1), stats.FlushErrors)
	assert.Equal(t, int64(4), stats.FlushAvgNanos)
	assert.Equal(t, int64(8), stats.AsyncReadVectors)
	assert.Equal(t, int64(6), stats.AsyncReadAvgNanos)
}

func TestNoopMetricsCollector(t *testing.T) {
	var mc MetricsCollector = NoopMetricsCollector{}
	mc.RecordInsert(time.Second, nil)
	mc.RecordAsyncRead(1, time.Second, nil)
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheusCollector(reg, "vecstore")
	require.NoError(t, err)

	p.RecordInsert(time.Millisecond, nil)
	p.RecordInsert(time.Millisecond, errors.New("boom"))
	p.RecordMigration(42, time.Second, nil)
	p.RecordAsyncRead(7, time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.ops.WithLabelValues("insert", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ops.WithLabelValues("insert", "error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(p.migratedVectors))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.readVectors))

	// Registering twice on the same registry fails.
	_, err = NewPrometheusCollector(reg, "vecstore")
	assert.Error(t, err)
}
