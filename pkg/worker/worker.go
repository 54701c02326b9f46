// Package worker executes block requests pulled from the transport against
// striped backing volumes.
//
// The worker is one sequential loop: pull a record, perform its I/O through
// the staging region, push the completion, repeat. Reads land in staging
// before the completion push copies them out; writes are fetched into
// staging with a FlagFetch push before any volume is touched, and completed
// only after every granule is written.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittoblk/internal/logger"
	"github.com/marmos91/dittoblk/internal/telemetry"
	"github.com/marmos91/dittoblk/pkg/queue"
	"github.com/marmos91/dittoblk/pkg/staging"
	"github.com/marmos91/dittoblk/pkg/stripe"
	"github.com/marmos91/dittoblk/pkg/transport"
	"github.com/marmos91/dittoblk/pkg/volume"
)

// Metrics receives worker observations. A nil Metrics disables collection.
type Metrics interface {
	// ObserveRequest records one completed record.
	ObserveRequest(op string, status uint32, bytes int, duration time.Duration)

	// ObserveVolumeIO records one volume call.
	ObserveVolumeIO(volume int, op string, bytes int, duration time.Duration, err error)
}

// Worker drains one transport endpoint.
type Worker struct {
	ep       transport.Endpoint
	volumes  []volume.Volume
	layout   stripe.Layout
	staging  []byte
	metrics  Metrics
	coalesce bool
	zero     []byte
}

// Option configures a Worker.
type Option func(*Worker)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithCoalesce merges granules that are contiguous on the same volume into
// one volume call. The bytes written are identical either way.
func WithCoalesce(enabled bool) Option {
	return func(w *Worker) { w.coalesce = enabled }
}

// New creates a worker striping over volumes with layout. The staging
// region must be the one the endpoint copies payloads through.
func New(ep transport.Endpoint, volumes []volume.Volume, layout stripe.Layout, stagingRegion []byte, opts ...Option) (*Worker, error) {
	if len(volumes) != layout.Devices() {
		return nil, fmt.Errorf("worker: layout has %d volumes, got %d", layout.Devices(), len(volumes))
	}
	w := &Worker{
		ep:      ep,
		volumes: volumes,
		layout:  layout,
		staging: stagingRegion,
		zero:    make([]byte, stripe.GranuleSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run pulls and executes records until ctx is cancelled or the endpoint is
// closed. A record already pulled is always completed, even during
// shutdown. Volumes are synced before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("worker started",
		logger.KeyVolumes, len(w.volumes),
		logger.KeyStripeSize, w.layout.StripeSize(),
	)
	defer w.syncAll()

	for {
		rec, err := w.ep.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) || errors.Is(err, queue.ErrInterrupted) {
				logger.Info("worker stopped")
				return nil
			}
			return fmt.Errorf("pull: %w", err)
		}
		w.execute(context.WithoutCancel(ctx), rec)
	}
}

func (w *Worker) syncAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i, v := range w.volumes {
		if err := v.Sync(ctx); err != nil {
			logger.Warn("volume sync failed", logger.Volume(i), logger.KeyVolumePath, v.String(), logger.Err(err))
		}
	}
}

// execute performs one record and pushes its completion.
func (w *Worker) execute(ctx context.Context, rec transport.Record) {
	start := time.Now()
	op := rec.Opcode()

	ctx, span := telemetry.StartWorkerSpan(ctx, op.String(), rec.ID, rec.Position, rec.Length)
	defer span.End()
	lc := logger.NewLogContext("", op.String()).WithSlot(rec.ID)
	ctx = telemetry.InjectLogContext(logger.WithContext(ctx, lc))

	var err error
	switch op {
	case queue.OpRead:
		err = w.read(ctx, rec)
	case queue.OpWrite:
		var completed bool
		completed, err = w.write(ctx, rec)
		if completed {
			w.observe(op, transport.StatusIOError, rec.Length, start)
			return
		}
	case queue.OpWriteZeroes:
		err = w.writeZeroes(ctx, rec)
	default:
		// Discard, flush and anything else are acknowledged without
		// touching the volumes.
	}

	rec.Flags = 0
	rec.Status = transport.StatusOK
	if err != nil {
		rec.Status = transport.StatusIOError
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "request failed", logger.Position(rec.Position), logger.Length(rec.Length), logger.Err(err))
	}

	if err := w.ep.Push(ctx, rec); err != nil {
		logger.ErrorCtx(ctx, "completion push failed", logger.Err(err))
	}
	w.observe(op, rec.Status, rec.Length, start)
	logger.DebugCtx(ctx, "request completed", logger.Status(int(rec.Status)), logger.DurationMs(logger.Duration(start)))
}

func (w *Worker) observe(op queue.Op, status uint32, length uint32, start time.Time) {
	if w.metrics != nil {
		w.metrics.ObserveRequest(op.String(), status, int(length), time.Since(start))
	}
}

func (w *Worker) window(rec transport.Record) ([]byte, error) {
	if rec.Length%stripe.GranuleSize != 0 {
		return nil, fmt.Errorf("length %d is not granule aligned", rec.Length)
	}
	return staging.Window(w.staging, rec.Buffer, rec.Length)
}

func (w *Worker) plan(rec transport.Record) []stripe.Extent {
	if w.coalesce {
		return w.layout.Runs(rec.Position, rec.Length)
	}
	return w.layout.Plan(rec.Position, rec.Length)
}

func (w *Worker) read(ctx context.Context, rec transport.Record) error {
	buf, err := w.window(rec)
	if err != nil {
		return err
	}
	for _, e := range w.plan(rec) {
		if err := w.volumeIO(ctx, "read", e, buf[e.Window:e.Window+e.Length]); err != nil {
			return err
		}
	}
	return nil
}

// write fetches the payload into staging, then writes every granule. It
// reports completed when the fetch itself already completed the request.
func (w *Worker) write(ctx context.Context, rec transport.Record) (completed bool, err error) {
	buf, err := w.window(rec)
	if err != nil {
		return false, err
	}

	fetch := rec
	fetch.Flags = transport.FlagFetch
	fetch.Status = transport.StatusOK
	if err := w.ep.Push(ctx, fetch); err != nil {
		if errors.Is(err, transport.ErrPayloadCopy) {
			logger.WarnCtx(ctx, "payload fetch failed", logger.Err(err))
			return true, nil
		}
		return false, fmt.Errorf("fetch payload: %w", err)
	}

	for _, e := range w.plan(rec) {
		if err := w.volumeIO(ctx, "write", e, buf[e.Window:e.Window+e.Length]); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (w *Worker) writeZeroes(ctx context.Context, rec transport.Record) error {
	if rec.Length%stripe.GranuleSize != 0 {
		return fmt.Errorf("length %d is not granule aligned", rec.Length)
	}
	for _, e := range w.layout.Plan(rec.Position, rec.Length) {
		if err := w.volumeIO(ctx, "write", e, w.zero); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) volumeIO(ctx context.Context, op string, e stripe.Extent, p []byte) error {
	v := w.volumes[e.Device]
	start := time.Now()

	ctx, span := telemetry.StartVolumeSpan(ctx, op, v.String(), telemetry.Volume(e.Device), telemetry.Offset(uint64(e.Offset)))
	defer span.End()

	var err error
	if op == "read" {
		err = v.ReadAt(ctx, p, e.Offset)
	} else {
		err = v.WriteAt(ctx, p, e.Offset)
	}

	if w.metrics != nil {
		w.metrics.ObserveVolumeIO(e.Device, op, len(p), time.Since(start), err)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("%s volume %d (%s) at %d: %w", op, e.Device, v, e.Offset, err)
	}
	logger.DebugCtx(ctx, "granule io", logger.Volume(e.Device), logger.VolumeOffset(e.Offset), logger.KeyLength, len(p))
	return nil
}
