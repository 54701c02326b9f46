package queue

import "errors"

var (
	// ErrInterrupted is returned when a wait for a slot or for queued work
	// is cancelled before it succeeds. The table is left untouched.
	ErrInterrupted = errors.New("queue: wait interrupted")

	// ErrInvalidState is returned when a slot is driven through a transition
	// its current state does not allow (submitting a queued slot, completing
	// twice, releasing before completion).
	ErrInvalidState = errors.New("queue: invalid slot state")

	// ErrInvalidSlot is returned for ids outside [0, depth).
	ErrInvalidSlot = errors.New("queue: invalid slot id")

	// ErrClosed is returned by Acquire and Checkout once the table is closed.
	ErrClosed = errors.New("queue: closed")
)
