// Package prometheus implements the component metrics interfaces on top of
// the shared registry in pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittoblk/pkg/blockdev"
	"github.com/marmos91/dittoblk/pkg/metrics"
)

// deviceMetrics is the Prometheus implementation of blockdev.Metrics.
type deviceMetrics struct {
	requests    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	bytes       *prometheus.CounterVec
	acquireWait prometheus.Histogram
}

// NewDeviceMetrics creates dispatcher metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDeviceMetrics() blockdev.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &deviceMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "requests_total",
				Help:      "Total number of block requests by opcode",
			},
			[]string{"op"},
		),
		errors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "request_errors_total",
				Help:      "Total number of failed block requests by opcode",
			},
			[]string{"op"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "request_duration_milliseconds",
				Help:      "End-to-end latency of block requests in milliseconds",
				Buckets: []float64{
					0.05, // 50us - flush, rejected requests
					0.1,
					0.5,
					1,
					5,
					10,
					50,
					100,
					500, // 500ms - object storage volumes
					2000,
				},
			},
			[]string{"op"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "request_bytes_total",
				Help:      "Bytes moved by block requests by opcode",
			},
			[]string{"op"},
		),
		acquireWait: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "slot_acquire_wait_milliseconds",
				Help:      "Time spent waiting for a free slot in milliseconds",
				Buckets:   []float64{0.01, 0.1, 1, 10, 100, 1000},
			},
		),
	}
}

func (m *deviceMetrics) ObserveDispatch(op string, bytes int, duration time.Duration, err error) {
	m.requests.WithLabelValues(op).Inc()
	m.duration.WithLabelValues(op).Observe(float64(duration.Microseconds()) / 1000.0)
	if err != nil {
		m.errors.WithLabelValues(op).Inc()
		return
	}
	m.bytes.WithLabelValues(op).Add(float64(bytes))
}

func (m *deviceMetrics) ObserveAcquireWait(duration time.Duration) {
	m.acquireWait.Observe(float64(duration.Microseconds()) / 1000.0)
}
