package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"prepflow-go/internal/model"
)

const namespace = "prepflow"

var (
	httpRequestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "http", "requests_total"),
		"Backup API requests per operation.",
		[]string{"operation"}, nil,
	)
	httpFailuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "http", "failures_total"),
		"Backup API responses with a 4xx or 5xx status per operation.",
		[]string{"operation"}, nil,
	)
	httpBytesInDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "http", "request_bytes_total"),
		"Request body bytes read per operation.",
		[]string{"operation"}, nil,
	)
	httpBytesOutDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "http", "response_bytes_total"),
		"Response body bytes written per operation.",
		[]string{"operation"}, nil,
	)
)

// Describe and Collect expose the per-operation traffic to Prometheus.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- httpRequestsDesc
	ch <- httpFailuresDesc
	ch <- httpBytesInDesc
	ch <- httpBytesOutDesc
}

func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, op := range r.Operations() {
		s := r.Operation(op)
		ch <- prometheus.MustNewConstMetric(httpRequestsDesc, prometheus.CounterValue, float64(s.Requests), op)
		ch <- prometheus.MustNewConstMetric(httpFailuresDesc, prometheus.CounterValue, float64(s.Failures), op)
		ch <- prometheus.MustNewConstMetric(httpBytesInDesc, prometheus.CounterValue, float64(s.BytesIn), op)
		ch <- prometheus.MustNewConstMetric(httpBytesOutDesc, prometheus.CounterValue, float64(s.BytesOut), op)
	}
}

// Backups records export and restore outcomes.
type Backups struct {
	exports       *prometheus.CounterVec
	containerSize prometheus.Histogram
	restores      *prometheus.CounterVec
	records       *prometheus.CounterVec
}

func NewBackups(reg prometheus.Registerer) *Backups {
	b := &Backups{
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "exports_total",
			Help:      "Backup exports by encryption mode and result.",
		}, []string{"mode", "result"}),
		containerSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "container_bytes",
			Help:      "Size of exported backup containers.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "restores_total",
			Help:      "Restores by strategy and result.",
		}, []string{"strategy", "result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "restored_records_total",
			Help:      "Records touched by restores, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(b.exports, b.containerSize, b.restores, b.records)
	}
	return b
}

func (b *Backups) ObserveExport(mode string, sizeBytes int, err error) {
	if b == nil {
		return
	}
	b.exports.WithLabelValues(mode, result(err, nil)).Inc()
	if err == nil {
		b.containerSize.Observe(float64(sizeBytes))
	}
}

func (b *Backups) ObserveRestore(strategy string, res *model.RestoreResult, err error) {
	if b == nil {
		return
	}
	b.restores.WithLabelValues(strategy, result(err, res)).Inc()
	if res == nil {
		return
	}
	inserted, updated, skipped, errs := res.Totals()
	b.records.WithLabelValues("inserted").Add(float64(inserted))
	b.records.WithLabelValues("updated").Add(float64(updated))
	b.records.WithLabelValues("skipped").Add(float64(skipped))
	b.records.WithLabelValues("error").Add(float64(errs))
}

func result(err error, res *model.RestoreResult) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case err != nil:
		return "error"
	case res != nil && !res.Success:
		return "partial"
	default:
		return "ok"
	}
}
