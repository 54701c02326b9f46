// Package transport moves request descriptors between the slot table and the
// worker as fixed-size records.
//
// The worker pulls one record per queued request and pushes records back to
// move payloads and complete requests. Payload bytes never travel in the
// record: the buffer handle names a window of the staging region, and the
// privileged side copies between that window and the requester's buffer.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittoblk/internal/logger"
	"github.com/marmos91/dittoblk/pkg/queue"
	"github.com/marmos91/dittoblk/pkg/staging"
)

// Endpoint is the worker's view of the channel.
type Endpoint interface {
	// Pull blocks until a request is queued and returns its record.
	Pull(ctx context.Context) (Record, error)

	// Push hands a record back: a payload fetch when FlagFetch is set,
	// otherwise the completion of the request.
	Push(ctx context.Context, rec Record) error
}

// Channel is the in-process transport bound to one slot table and one
// staging region.
type Channel struct {
	table   *queue.Table
	staging []byte

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Endpoint = (*Channel)(nil)

// New creates a channel over table. The staging region is handed over once
// and shared with the worker for the channel's lifetime.
func New(table *queue.Table, stagingRegion []byte) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		table:   table,
		staging: stagingRegion,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Staging returns the shared staging region.
func (c *Channel) Staging() []byte { return c.staging }

// Pull checks out the oldest queued slot and returns its record.
func (c *Channel) Pull(ctx context.Context) (Record, error) {
	s, err := c.table.Checkout(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return Record{}, ErrClosed
		}
		return Record{}, err
	}
	logger.Debug("record pulled", logger.Slot(s.ID), logger.Op(s.Op.String()), logger.Position(s.Position), logger.Length(s.Length))
	return RecordFrom(s.Descriptor), nil
}

// Push processes one record from the worker.
//
// Write payloads are copied into staging when FlagFetch is set; the slot
// stays checked out. Read payloads are copied out of staging when the
// completion status is success. Every push without FlagFetch fires the
// slot's completion signal, including pushes whose copy failed.
func (c *Channel) Push(_ context.Context, rec Record) error {
	s, err := c.table.CheckedOut(rec.ID)
	if err != nil {
		return fmt.Errorf("%w: push for slot %d: %w", ErrInvalidArgument, rec.ID, err)
	}

	fetch := rec.Flags&FlagFetch != 0
	if fetch && s.Op != queue.OpWrite {
		return fmt.Errorf("%w: fetch on %s slot %d", ErrInvalidArgument, s.Op, rec.ID)
	}

	var copyErr error
	switch {
	case fetch:
		copyErr = c.copyIn(s)
	case s.Op == queue.OpRead && rec.Status == StatusOK:
		copyErr = c.copyOut(s)
	}

	if copyErr != nil {
		logger.Warn("payload copy failed", logger.Slot(s.ID), logger.Op(s.Op.String()), logger.Err(copyErr))
		if err := c.table.Complete(s.ID, queue.StatusIOError); err != nil {
			return err
		}
		return copyErr
	}
	if fetch {
		return nil
	}

	return c.table.Complete(s.ID, queue.Status(rec.Status))
}

// Abort completes a checked-out slot with StatusIOError. Used when the
// worker holding it goes away.
func (c *Channel) Abort(id int32) error {
	if _, err := c.table.CheckedOut(id); err != nil {
		return err
	}
	return c.table.Complete(id, queue.StatusIOError)
}

// copyIn gathers the requester's segments into the staging window.
func (c *Channel) copyIn(s *queue.Slot) error {
	window, err := staging.Window(c.staging, s.Buffer, s.Length)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPayloadCopy, err)
	}
	n := 0
	for _, seg := range s.Segments {
		n += copy(window[n:], seg)
		if n == len(window) {
			break
		}
	}
	if n != len(window) {
		return fmt.Errorf("%w: request buffer holds %d of %d bytes", ErrPayloadCopy, n, len(window))
	}
	return nil
}

// copyOut scatters the staging window into the requester's segments.
func (c *Channel) copyOut(s *queue.Slot) error {
	window, err := staging.Window(c.staging, s.Buffer, s.Length)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPayloadCopy, err)
	}
	n := 0
	for _, seg := range s.Segments {
		if n == len(window) {
			break
		}
		n += copy(seg, window[n:])
	}
	if n != len(window) {
		return fmt.Errorf("%w: request buffer holds %d of %d bytes", ErrPayloadCopy, n, len(window))
	}
	return nil
}

// Read is the file-style pull: it blocks until a request is queued and
// encodes its record into p. p must be exactly RecordSize bytes.
func (c *Channel) Read(p []byte) (int, error) {
	if len(p) != RecordSize {
		return 0, fmt.Errorf("%w: read of %d bytes, want %d", ErrInvalidArgument, len(p), RecordSize)
	}
	rec, err := c.Pull(c.ctx)
	if err != nil {
		if c.ctx.Err() != nil {
			return 0, ErrClosed
		}
		return 0, err
	}
	b, err := rec.MarshalBinary()
	if err != nil {
		_ = c.Abort(rec.ID)
		return 0, err
	}
	return copy(p, b), nil
}

// Write is the file-style push. p must be exactly RecordSize bytes.
func (c *Channel) Write(p []byte) (int, error) {
	var rec Record
	if err := rec.UnmarshalBinary(p); err != nil {
		return 0, err
	}
	if err := c.Push(c.ctx, rec); err != nil {
		return 0, err
	}
	return RecordSize, nil
}

// Close stops file-style reads blocked in Read.
func (c *Channel) Close() error {
	c.cancel()
	return nil
}
