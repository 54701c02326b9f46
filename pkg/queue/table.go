// Package queue implements the bounded slot table that couples block request
// submitters to the worker.
//
// A table owns depth slots. Each slot is in exactly one of four states:
//
//	FREE -> RESERVED -> QUEUED -> CHECKED_OUT -> FREE
//
// Two counting semaphores bound the flow. Admission (depth units) limits how
// many requests are in flight; availability counts slots queued for the
// worker. A mutex guards only the free and processing rings and is never
// held across a wait.
package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultDepth is the number of slots in a table created with depth 0.
const DefaultDepth = 4096

// State is the lifecycle state of a slot.
type State int

const (
	StateFree State = iota
	StateReserved
	StateQueued
	StateCheckedOut
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateReserved:
		return "reserved"
	case StateQueued:
		return "queued"
	case StateCheckedOut:
		return "checked_out"
	default:
		return "unknown"
	}
}

// Slot is one entry of the table. Between Acquire and Submit the submitter
// owns the descriptor; between Checkout and Complete the worker side does.
type Slot struct {
	Descriptor

	// Segments is the requester's buffer. The transport copies between it
	// and the staging region.
	Segments [][]byte

	state     State
	completed bool
	done      chan struct{}
}

// Done is closed when the slot's request has been completed.
func (s *Slot) Done() <-chan struct{} { return s.done }

// Stats is a point-in-time snapshot of slot states.
type Stats struct {
	Depth      int `json:"depth"`
	Free       int `json:"free"`
	Reserved   int `json:"reserved"`
	Queued     int `json:"queued"`
	CheckedOut int `json:"checked_out"`
}

// InFlight is the number of slots not on the free ring.
func (s Stats) InFlight() int { return s.Depth - s.Free }

// Table is the fixed-capacity slot table.
type Table struct {
	depth int
	slots []Slot

	admit *semaphore.Weighted
	avail chan struct{}

	mu         sync.Mutex
	free       ring
	processing ring

	// closing is cancelled by Close.
	closing context.Context
	cancel  context.CancelFunc
}

// New creates a table with depth slots, all free.
func New(depth int) (*Table, error) {
	if depth == 0 {
		depth = DefaultDepth
	}
	if depth < 0 || depth > 1<<30 {
		return nil, fmt.Errorf("queue: invalid depth %d", depth)
	}

	t := &Table{
		depth:      depth,
		slots:      make([]Slot, depth),
		admit:      semaphore.NewWeighted(int64(depth)),
		avail:      make(chan struct{}, depth),
		free:       newRing(depth),
		processing: newRing(depth),
	}
	t.closing, t.cancel = context.WithCancel(context.Background())
	for i := range t.slots {
		t.slots[i].ID = int32(i)
		t.free.push(int32(i))
	}
	return t, nil
}

// Depth returns the number of slots.
func (t *Table) Depth() int { return t.depth }

// Acquire reserves a free slot, blocking while all slots are in flight.
// Waiters are admitted in FIFO order. If ctx is done first, Acquire returns
// an error wrapping ErrInterrupted and the table is unchanged.
func (t *Table) Acquire(ctx context.Context) (*Slot, error) {
	if t.closing.Err() != nil {
		return nil, ErrClosed
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.closing, cancel)
	defer stop()

	if err := t.admit.Acquire(actx, 1); err != nil {
		if t.closing.Err() != nil {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
	if t.closing.Err() != nil {
		t.admit.Release(1)
		return nil, ErrClosed
	}

	t.mu.Lock()
	id, ok := t.free.pop()
	if !ok {
		t.mu.Unlock()
		t.admit.Release(1)
		return nil, fmt.Errorf("%w: admitted with empty free ring", ErrInvalidState)
	}
	s := &t.slots[id]
	s.Descriptor = Descriptor{ID: id}
	s.Segments = nil
	s.state = StateReserved
	s.completed = false
	s.done = make(chan struct{})
	t.mu.Unlock()

	return s, nil
}

// Submit appends a reserved slot to the processing ring and wakes one
// Checkout waiter.
func (t *Table) Submit(s *Slot) error {
	t.mu.Lock()
	if s.state != StateReserved {
		state := s.state
		t.mu.Unlock()
		return fmt.Errorf("%w: submit slot %d in state %s", ErrInvalidState, s.ID, state)
	}
	s.state = StateQueued
	t.processing.push(s.ID)
	t.mu.Unlock()

	// Never blocks: at most depth slots can be queued.
	t.avail <- struct{}{}
	return nil
}

// Checkout takes the oldest queued slot, blocking until one is available.
// Cancellation returns an error wrapping ErrInterrupted and consumes nothing.
func (t *Table) Checkout(ctx context.Context) (*Slot, error) {
	select {
	case <-t.avail:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	case <-t.closing.Done():
		return nil, ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.processing.pop()
	if !ok {
		return nil, fmt.Errorf("%w: available token with empty processing ring", ErrInvalidState)
	}
	s := &t.slots[id]
	s.state = StateCheckedOut
	return s, nil
}

// CheckedOut returns the slot with the given id if it is checked out and
// not yet completed.
func (t *Table) CheckedOut(id int32) (*Slot, error) {
	s, err := t.Lookup(id)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s.state != StateCheckedOut || s.completed {
		return nil, fmt.Errorf("%w: slot %d is %s", ErrInvalidState, id, s.state)
	}
	return s, nil
}

// Complete records status on a checked-out slot and fires its completion
// signal. A slot can be completed once per reservation.
func (t *Table) Complete(id int32, status Status) error {
	s, err := t.Lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if s.state != StateCheckedOut {
		return fmt.Errorf("%w: complete slot %d in state %s", ErrInvalidState, id, s.state)
	}
	if s.completed {
		return fmt.Errorf("%w: slot %d already completed", ErrInvalidState, id)
	}
	s.Status = status
	s.completed = true
	close(s.done)
	return nil
}

// Wait blocks until the slot is completed and returns its status. It is not
// interruptible: the worker owns the slot until it pushes a completion.
func (t *Table) Wait(s *Slot) Status {
	<-s.done
	return s.Status
}

// Release returns a completed slot to the tail of the free ring and admits
// one more request.
func (t *Table) Release(s *Slot) error {
	t.mu.Lock()
	if s.state != StateCheckedOut || !s.completed {
		state := s.state
		t.mu.Unlock()
		return fmt.Errorf("%w: release slot %d in state %s", ErrInvalidState, s.ID, state)
	}
	s.state = StateFree
	s.Segments = nil
	t.free.push(s.ID)
	t.mu.Unlock()

	t.admit.Release(1)
	return nil
}

// Lookup returns the slot with the given id.
func (t *Table) Lookup(id int32) (*Slot, error) {
	if id < 0 || int(id) >= t.depth {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, id)
	}
	return &t.slots[id], nil
}

// State returns the current state of slot id.
func (t *Table) State(id int32) (State, error) {
	s, err := t.Lookup(id)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return s.state, nil
}

// Stats returns a snapshot of slot states.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Stats{Depth: t.depth}
	for i := range t.slots {
		switch t.slots[i].state {
		case StateFree:
			st.Free++
		case StateReserved:
			st.Reserved++
		case StateQueued:
			st.Queued++
		case StateCheckedOut:
			st.CheckedOut++
		}
	}
	return st
}

// Close wakes blocked Acquire and Checkout callers and makes further calls
// fail with ErrClosed. Requests already in flight can still be completed
// and released.
func (t *Table) Close() {
	t.cancel()
}
