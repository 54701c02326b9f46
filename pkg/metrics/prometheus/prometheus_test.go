package prometheus

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoblk/pkg/metrics"
	"github.com/marmos91/dittoblk/pkg/queue"
)

func TestDisabledReturnsNil(t *testing.T) {
	metrics.Reset()

	assert.Nil(t, NewDeviceMetrics())
	assert.Nil(t, NewWorkerMetrics())
	assert.NoError(t, RegisterQueue(func() queue.Stats { return queue.Stats{} }))
}

func TestDeviceMetrics(t *testing.T) {
	reg := metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	m := NewDeviceMetrics()
	require.NotNil(t, m)
	m.ObserveDispatch("WRITE", 8192, time.Millisecond, nil)
	m.ObserveDispatch("WRITE", 4096, time.Millisecond, errors.New("io"))
	m.ObserveAcquireWait(time.Microsecond)

	dm := m.(*deviceMetrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(dm.requests.WithLabelValues("WRITE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(dm.errors.WithLabelValues("WRITE")))
	assert.Equal(t, 8192.0, testutil.ToFloat64(dm.bytes.WithLabelValues("WRITE")))

	n, err := testutil.GatherAndCount(reg, "dittoblk_slot_acquire_wait_milliseconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWorkerMetrics(t *testing.T) {
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	m := NewWorkerMetrics()
	require.NotNil(t, m)
	m.ObserveRequest("READ", 0, 4096, time.Millisecond)
	m.ObserveVolumeIO(2, "read", 4096, time.Millisecond, nil)
	m.ObserveVolumeIO(2, "read", 4096, time.Millisecond, errors.New("eio"))

	wm := m.(*workerMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(wm.records.WithLabelValues("READ", "0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(wm.volumeOps.WithLabelValues("2", "read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(wm.volumeErrors.WithLabelValues("2", "read")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(wm.volumeBytes.WithLabelValues("2", "read")))
}

func TestQueueGaugesAndHandler(t *testing.T) {
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	table, err := queue.New(4)
	require.NoError(t, err)
	_, err = table.Acquire(t.Context())
	require.NoError(t, err)

	require.NoError(t, RegisterQueue(table.Stats))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, "dittoblk_queue_depth 4"), out)
	assert.Contains(t, out, "dittoblk_queue_free_slots 3")
	assert.Contains(t, out, "dittoblk_queue_reserved_slots 1")
}
