package vecstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports MetricsCollector events as Prometheus metrics.
type PrometheusCollector struct {
	ops             *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	migratedVectors prometheus.Counter
	readVectors     prometheus.Counter
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collector and registers its metrics
// with reg. namespace prefixes every metric name.
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	p := &PrometheusCollector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Storage operations by kind and outcome.",
		}, []string{"op", "status"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12),
		}, []string{"op"}),
		migratedVectors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrated_vectors_total",
			Help:      "Vectors copied by storage migrations.",
		}),
		readVectors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_read_vectors_total",
			Help:      "Vectors requested from on-disk storages.",
		}),
	}

	for _, c := range []prometheus.Collector{p.ops, p.opDuration, p.migratedVectors, p.readVectors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusCollector) record(op string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.ops.WithLabelValues(op, status).Inc()
	p.opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordInsert implements MetricsCollector.
func (p *PrometheusCollector) RecordInsert(duration time.Duration, err error) {
	p.record("insert", duration, err)
}

// RecordDelete implements MetricsCollector.
func (p *PrometheusCollector) RecordDelete(duration time.Duration, err error) {
	p.record("delete", duration, err)
}

// RecordMigration implements MetricsCollector.
func (p *PrometheusCollector) RecordMigration(count int, duration time.Duration, err error) {
	p.record("migrate", duration, err)
	p.migratedVectors.Add(float64(count))
}

// RecordFlush implements MetricsCollector.
func (p *PrometheusCollector) RecordFlush(duration time.Duration, err error) {
	p.record("flush", duration, err)
}

// RecordAsyncRead implements MetricsCollector.
func (p *PrometheusCollector) RecordAsyncRead(count int, duration time.Duration, err error) {
	p.record("async_read", duration, err)
	p.readVectors.Add(float64(count))
}
