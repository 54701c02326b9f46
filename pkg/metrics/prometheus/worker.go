package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittoblk/pkg/metrics"
	"github.com/marmos91/dittoblk/pkg/worker"
)

// workerMetrics is the Prometheus implementation of worker.Metrics.
type workerMetrics struct {
	records        *prometheus.CounterVec
	recordDuration *prometheus.HistogramVec
	volumeOps      *prometheus.CounterVec
	volumeErrors   *prometheus.CounterVec
	volumeBytes    *prometheus.CounterVec
	volumeDuration *prometheus.HistogramVec
}

// NewWorkerMetrics creates worker metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewWorkerMetrics() worker.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &workerMetrics{
		records: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "worker",
				Name:      "records_total",
				Help:      "Records executed by the worker by opcode and status",
			},
			[]string{"op", "status"},
		),
		recordDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "worker",
				Name:      "record_duration_milliseconds",
				Help:      "Time from pull to completion push in milliseconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 50, 100, 500, 2000},
			},
			[]string{"op"},
		),
		volumeOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "volume",
				Name:      "operations_total",
				Help:      "Volume calls by volume index and operation",
			},
			[]string{"volume", "op"},
		),
		volumeErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "volume",
				Name:      "errors_total",
				Help:      "Failed volume calls by volume index and operation",
			},
			[]string{"volume", "op"},
		),
		volumeBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "volume",
				Name:      "bytes_total",
				Help:      "Bytes transferred per volume and operation",
			},
			[]string{"volume", "op"},
		),
		volumeDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "volume",
				Name:      "operation_duration_milliseconds",
				Help:      "Latency of volume calls in milliseconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100, 500},
			},
			[]string{"op"},
		),
	}
}

func (m *workerMetrics) ObserveRequest(op string, status uint32, _ int, duration time.Duration) {
	m.records.WithLabelValues(op, strconv.FormatUint(uint64(status), 10)).Inc()
	m.recordDuration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *workerMetrics) ObserveVolumeIO(volume int, op string, bytes int, duration time.Duration, err error) {
	idx := strconv.Itoa(volume)
	m.volumeOps.WithLabelValues(idx, op).Inc()
	m.volumeDuration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000.0)
	if err != nil {
		m.volumeErrors.WithLabelValues(idx, op).Inc()
		return
	}
	m.volumeBytes.WithLabelValues(idx, op).Add(float64(bytes))
}
