package blockdev

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittoblk/pkg/queue"
)

// Errors returned by the device. Callers should test with errors.Is.
var (
	// ErrNotSupported is returned for opcodes and control commands the
	// device does not implement. No slot is consumed.
	ErrNotSupported = errors.New("blockdev: operation not supported")

	// ErrIO is returned when the worker completed a request with a failure
	// status.
	ErrIO = errors.New("blockdev: I/O error")

	// ErrInvalidArgument is the parent of every argument validation error.
	ErrInvalidArgument = errors.New("blockdev: invalid argument")

	// ErrInvalidOffset is returned for offsets that are not 4096-aligned.
	ErrInvalidOffset = fmt.Errorf("%w: offset not aligned", ErrInvalidArgument)

	// ErrInvalidSize is returned for lengths that are not 4096-aligned or
	// that disagree with the request buffer.
	ErrInvalidSize = fmt.Errorf("%w: size not aligned", ErrInvalidArgument)

	// ErrOutOfRange is returned for I/O past the device capacity.
	ErrOutOfRange = fmt.Errorf("%w: beyond device capacity", ErrInvalidArgument)

	// ErrInvalidCapacity is returned by SetCapacity for values that round
	// down to zero or exceed the addressable range.
	ErrInvalidCapacity = fmt.Errorf("%w: capacity", ErrInvalidArgument)
)

// IOError describes a request the worker failed.
type IOError struct {
	Op       queue.Op
	Slot     int32
	Position uint32
	Length   uint32
	Status   queue.Status
}

func (e *IOError) Error() string {
	return fmt.Sprintf("blockdev: %s slot %d position %d length %d: %s", e.Op, e.Slot, e.Position, e.Length, e.Status)
}

func (e *IOError) Unwrap() error { return ErrIO }
