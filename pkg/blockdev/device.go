// Package blockdev is the submitter side of the virtual block device.
//
// Each request is classified, admitted through the slot table, handed to the
// worker and waited on. Flush completes immediately, WriteZeroes is
// reclassified as Discard unless zero-fill is enabled, and unknown opcodes
// are rejected before any slot is reserved.
package blockdev

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/internal/logger"
	"github.com/marmos91/dittoblk/internal/telemetry"
	"github.com/marmos91/dittoblk/pkg/queue"
)

const (
	// SectorSize is the device's logical and physical block size.
	SectorSize = queue.GranuleSize

	// MaxCapacity is the largest capacity addressable by a 32-bit position.
	MaxCapacity = int64(1<<32) * SectorSize

	// DefaultMaxTransfer is the largest data transfer sent as one request.
	DefaultMaxTransfer = 2 << 20

	// maxDiscard bounds a single discard or write-zeroes request.
	maxDiscard = 1 << 30
)

// WriteZeroes handling modes.
const (
	WriteZeroesDiscard  = "discard"
	WriteZeroesZeroFill = "zerofill"
)

// Metrics receives dispatcher observations. A nil Metrics disables
// collection.
type Metrics interface {
	ObserveDispatch(op string, bytes int, duration time.Duration, err error)
	ObserveAcquireWait(duration time.Duration)
}

// Config configures a Device.
type Config struct {
	Name        string
	Capacity    int64
	MaxTransfer int
	WriteZeroes string
	Metrics     Metrics
}

// Request is one block request as received from the block layer.
type Request struct {
	Op       queue.Op
	Offset   int64
	Length   int64 // bytes; derived from Segments for reads and writes when zero
	Segments [][]byte
}

// Device is the virtual block device.
type Device struct {
	id          uuid.UUID
	name        string
	table       *queue.Table
	maxTransfer int64
	zeroFill    bool
	metrics     Metrics

	capacity atomic.Int64
	opens    atomic.Int32
}

// New creates a device submitting to table.
func New(cfg Config, table *queue.Table) (*Device, error) {
	if cfg.Name == "" {
		cfg.Name = "dittoblk0"
	}
	if cfg.MaxTransfer == 0 {
		cfg.MaxTransfer = DefaultMaxTransfer
	}
	if cfg.MaxTransfer < SectorSize || cfg.MaxTransfer%SectorSize != 0 {
		return nil, fmt.Errorf("%w: max transfer %d", ErrInvalidSize, cfg.MaxTransfer)
	}

	var zeroFill bool
	switch cfg.WriteZeroes {
	case "", WriteZeroesDiscard:
	case WriteZeroesZeroFill:
		zeroFill = true
	default:
		return nil, fmt.Errorf("%w: write_zeroes mode %q", ErrInvalidArgument, cfg.WriteZeroes)
	}

	d := &Device{
		id:          uuid.New(),
		name:        cfg.Name,
		table:       table,
		maxTransfer: int64(cfg.MaxTransfer),
		zeroFill:    zeroFill,
		metrics:     cfg.Metrics,
	}
	if err := d.SetCapacity(cfg.Capacity); err != nil {
		return nil, err
	}
	return d, nil
}

// ID returns the device's identity, fixed for the process lifetime.
func (d *Device) ID() uuid.UUID { return d.id }

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// MaxTransfer returns the largest data transfer per request.
func (d *Device) MaxTransfer() int64 { return d.maxTransfer }

// Stats returns the slot table snapshot.
func (d *Device) Stats() queue.Stats { return d.table.Stats() }

// Capacity returns the device size in bytes.
func (d *Device) Capacity() int64 { return d.capacity.Load() }

// SetCapacity sets the device size. Zero is accepted as "no capacity".
// Other values are rounded down to a multiple of SectorSize; a value that
// rounds to zero, or exceeds MaxCapacity, is rejected and the capacity is
// left unchanged.
func (d *Device) SetCapacity(bytes int64) error {
	if bytes == 0 {
		d.capacity.Store(0)
		return nil
	}
	if bytes < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, bytes)
	}

	aligned := bytesize.ByteSize(bytes).AlignDown(SectorSize).Int64()
	if aligned == 0 || aligned > MaxCapacity {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, bytes)
	}
	d.capacity.Store(aligned)
	logger.Info("device capacity set", logger.KeyDevice, d.name, logger.KeyCapacity, aligned)
	return nil
}

// Open records an opener of the device.
func (d *Device) Open() error {
	d.opens.Add(1)
	return nil
}

// Close releases an opener of the device.
func (d *Device) Close() error {
	if d.opens.Add(-1) < 0 {
		d.opens.Store(0)
	}
	return nil
}

// Openers returns the number of current openers.
func (d *Device) Openers() int { return int(d.opens.Load()) }

// Ioctl rejects every control command.
func (d *Device) Ioctl(cmd uint, _ uintptr) error {
	return fmt.Errorf("%w: ioctl %#x", ErrNotSupported, cmd)
}

// ReadAt reads len(p) bytes at off.
func (d *Device) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	return d.transfer(ctx, queue.OpRead, p, off)
}

// WriteAt writes p at off. It returns once every byte is on the volumes.
func (d *Device) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	return d.transfer(ctx, queue.OpWrite, p, off)
}

func (d *Device) transfer(ctx context.Context, op queue.Op, p []byte, off int64) (int, error) {
	if err := d.checkRange(off, int64(len(p))); err != nil {
		return 0, err
	}
	done := 0
	for done < len(p) {
		n := min(int64(len(p)-done), d.maxTransfer)
		req := &Request{Op: op, Offset: off + int64(done), Segments: [][]byte{p[done : done+int(n)]}}
		if err := d.Dispatch(ctx, req); err != nil {
			return done, err
		}
		done += int(n)
	}
	return done, nil
}

// Discard drops the contents of [off, off+length).
func (d *Device) Discard(ctx context.Context, off, length int64) error {
	return d.span(ctx, queue.OpDiscard, off, length)
}

// WriteZeroes zeroes [off, off+length). Unless zero-fill is enabled this
// is handled as a discard.
func (d *Device) WriteZeroes(ctx context.Context, off, length int64) error {
	return d.span(ctx, queue.OpWriteZeroes, off, length)
}

func (d *Device) span(ctx context.Context, op queue.Op, off, length int64) error {
	if err := d.checkRange(off, length); err != nil {
		return err
	}
	for done := int64(0); done < length; {
		n := min(length-done, maxDiscard)
		if err := d.Dispatch(ctx, &Request{Op: op, Offset: off + done, Length: n}); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// Flush is acknowledged immediately.
func (d *Device) Flush(ctx context.Context) error {
	return d.Dispatch(ctx, &Request{Op: queue.OpFlush})
}

func (d *Device) checkRange(off, length int64) error {
	if off < 0 || off%SectorSize != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, off)
	}
	if length < 0 || length%SectorSize != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, length)
	}
	if off+length > d.Capacity() {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, off, off+length, d.Capacity())
	}
	return nil
}

// classify maps a request opcode to the opcode sent to the worker. It
// reports false when the request completes without a slot.
func (d *Device) classify(op queue.Op) (queue.Op, bool, error) {
	switch op {
	case queue.OpFlush:
		return op, false, nil
	case queue.OpWriteZeroes:
		if d.zeroFill {
			return op, true, nil
		}
		return queue.OpDiscard, true, nil
	case queue.OpRead, queue.OpWrite, queue.OpDiscard:
		return op, true, nil
	default:
		return op, false, fmt.Errorf("%w: opcode %s", ErrNotSupported, op)
	}
}

// Dispatch runs one request through the slot table and waits for its
// completion. The request must fit in one transfer; ReadAt, WriteAt,
// Discard and WriteZeroes split larger ranges.
func (d *Device) Dispatch(ctx context.Context, req *Request) (err error) {
	start := time.Now()
	length := req.Length
	if req.Op == queue.OpRead || req.Op == queue.OpWrite {
		var total int64
		for _, seg := range req.Segments {
			total += int64(len(seg))
		}
		if length == 0 {
			length = total
		}
		if total != length || length > d.maxTransfer {
			return fmt.Errorf("%w: buffer %d bytes for length %d (max %d)", ErrInvalidSize, total, length, d.maxTransfer)
		}
	}
	if length > maxDiscard {
		return fmt.Errorf("%w: length %d", ErrInvalidSize, length)
	}

	ctx, sp := telemetry.StartDispatchSpan(ctx, d.name, req.Op.String(), uint64(req.Offset), uint32(length), telemetry.Segments(len(req.Segments)))
	defer func() {
		telemetry.RecordError(ctx, err)
		sp.End()
		if d.metrics != nil {
			d.metrics.ObserveDispatch(req.Op.String(), int(length), time.Since(start), err)
		}
	}()

	op, needsSlot, err := d.classify(req.Op)
	if err != nil || !needsSlot {
		return err
	}
	if err := d.checkRange(req.Offset, length); err != nil {
		return err
	}

	lc := logger.NewLogContext(d.name, op.String())
	ctx = telemetry.InjectLogContext(logger.WithContext(ctx, lc))

	waitStart := time.Now()
	slot, err := d.table.Acquire(ctx)
	if err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.ObserveAcquireWait(time.Since(waitStart))
	}

	slot.Op = op
	slot.Position = uint32(req.Offset / SectorSize)
	slot.Length = uint32(length)
	slot.Buffer = 0
	slot.Segments = req.Segments

	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithSlot(slot.ID))
	logger.DebugCtx(ctx, "request dispatched", logger.Position(slot.Position), logger.Length(slot.Length))

	if err := d.table.Submit(slot); err != nil {
		return err
	}

	status := d.table.Wait(slot)
	ioErr := &IOError{Op: op, Slot: slot.ID, Position: slot.Position, Length: slot.Length, Status: status}
	if err := d.table.Release(slot); err != nil {
		return err
	}

	if !status.OK() {
		logger.WarnCtx(ctx, "request failed", logger.Status(int(status)))
		return ioErr
	}
	logger.DebugCtx(ctx, "request completed", logger.DurationMs(logger.Duration(start)))
	return nil
}
