package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoblk/internal/logger"
)

// Serve exposes ch over ln until ctx is cancelled. Each connection carries a
// sequence of 32-byte frames: a frame with ID PullID asks for the next
// record, any other frame is a push answered by an ack frame. Records a
// connection still holds when it ends are completed with StatusIOError.
//
// All records share one staging window, so only one worker connection is
// served at a time; further connections are closed until it ends.
func Serve(ctx context.Context, ln net.Listener, ch *Channel) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var (
		wg     sync.WaitGroup
		active atomic.Bool
	)
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !active.CompareAndSwap(false, true) {
			logger.Warn("rejecting second worker connection", logger.KeySocket, conn.LocalAddr().String())
			_ = conn.Close()
			continue
		}

		logger.Info("worker connected", logger.KeySocket, conn.LocalAddr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer active.Store(false)
			serveConn(ctx, conn, ch)
		}()
	}
}

func serveConn(ctx context.Context, conn net.Conn, ch *Channel) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	held := make(map[int32]struct{})
	defer func() {
		_ = conn.Close()
		for id := range held {
			if err := ch.Abort(id); err == nil {
				logger.Warn("aborted request held by disconnected worker", logger.Slot(id))
			}
		}
		logger.Info("worker disconnected")
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	frames := readFrames(ctx, cancel, conn)
	for {
		var req Record
		select {
		case <-ctx.Done():
			return
		case req = <-frames:
		}

		if req.ID == PullID {
			// A hang-up while waiting cancels ctx before anything is checked out.
			rec, err := ch.Pull(ctx)
			if err != nil {
				return
			}
			held[rec.ID] = struct{}{}
			if err := rec.Encode(conn); err != nil {
				logger.Warn("send record failed", logger.Slot(rec.ID), logger.Err(err))
				return
			}
			continue
		}

		ack := Record{ID: req.ID, Flags: FlagAck}
		err := ch.Push(ctx, req)
		switch {
		case err == nil:
		case errors.Is(err, ErrPayloadCopy):
			ack.Status = StatusIOError
		default:
			ack.Status = StatusInvalidArg
		}
		// A completed slot is no longer ours to abort.
		if (err == nil && req.Flags&FlagFetch == 0) || errors.Is(err, ErrPayloadCopy) {
			delete(held, req.ID)
		}
		if err := ack.Encode(conn); err != nil {
			logger.Warn("send ack failed", logger.Slot(req.ID), logger.Err(err))
			return
		}
	}
}

// readFrames decodes frames from conn until it fails, then cancels the
// connection context.
func readFrames(ctx context.Context, cancel context.CancelFunc, conn net.Conn) <-chan Record {
	frames := make(chan Record)
	go func() {
		defer cancel()
		r := bufio.NewReaderSize(conn, RecordSize*16)
		for {
			var req Record
			if err := req.Decode(r); err != nil {
				if ctx.Err() == nil {
					logger.Debug("worker connection ended", logger.Err(err))
				}
				return
			}
			select {
			case frames <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames
}

// Conn is the worker side of a socket transport.
type Conn struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

var _ Endpoint = (*Conn)(nil)

// Dial connects to a transport socket at path.
func Dial(ctx context.Context, path string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return &Conn{conn: c, r: bufio.NewReaderSize(c, RecordSize*16)}, nil
}

// Pull requests the next record and blocks until one arrives.
func (c *Conn) Pull(ctx context.Context) (Record, error) {
	var rec Record
	err := c.roundTrip(ctx, Record{ID: PullID}, &rec)
	return rec, err
}

// Push sends rec and waits for its ack.
func (c *Conn) Push(ctx context.Context, rec Record) error {
	var ack Record
	if err := c.roundTrip(ctx, rec, &ack); err != nil {
		return err
	}
	switch ack.Status {
	case StatusOK:
		return nil
	case StatusIOError:
		return fmt.Errorf("%w: slot %d", ErrPayloadCopy, rec.ID)
	default:
		return fmt.Errorf("%w: slot %d rejected", ErrInvalidArgument, rec.ID)
	}
}

func (c *Conn) roundTrip(ctx context.Context, req Record, resp *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := req.Encode(c.conn); err != nil {
		return c.wrap(ctx, err)
	}
	if err := resp.Decode(c.r); err != nil {
		return c.wrap(ctx, err)
	}
	return nil
}

func (c *Conn) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrClosed, ctx.Err())
	}
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

// Close closes the connection. Records pulled and not completed are failed
// by the server.
func (c *Conn) Close() error {
	return c.conn.Close()
}
