package queue

import "fmt"

// GranuleSize is the unit of every position and the alignment of every
// length carried by a descriptor.
const GranuleSize = 4096

// Op is a block request opcode. The numeric values are part of the wire
// format shared with the worker.
type Op uint32

const (
	OpRead        Op = 0
	OpWrite       Op = 1
	OpFlush       Op = 2
	OpDiscard     Op = 3
	OpWriteZeroes Op = 9
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpFlush:
		return "FLUSH"
	case OpDiscard:
		return "DISCARD"
	case OpWriteZeroes:
		return "WRITE_ZEROES"
	default:
		return fmt.Sprintf("UNSUPPORTED(%d)", uint32(o))
	}
}

// Known reports whether o is one of the recognized opcodes.
func (o Op) Known() bool {
	switch o {
	case OpRead, OpWrite, OpFlush, OpDiscard, OpWriteZeroes:
		return true
	}
	return false
}

// Status is the completion status of a request. Zero is success; any other
// value is a failure. Non-zero values follow errno numbering.
type Status uint32

const (
	StatusOK      Status = 0
	StatusIOError Status = 5
)

// OK reports whether s is a success status.
func (s Status) OK() bool { return s == StatusOK }

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusIOError:
		return "io error"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// Descriptor is the per-request record that travels to the worker.
type Descriptor struct {
	ID       int32  // slot id
	Op       Op     // normalized opcode
	Position uint32 // logical position in GranuleSize units
	Length   uint32 // bytes, a multiple of GranuleSize
	Buffer   uint64 // opaque buffer handle, a byte offset into the staging region
	Status   Status // written by the completion push
}

// Offset returns the logical byte offset of the descriptor.
func (d Descriptor) Offset() int64 {
	return int64(d.Position) * GranuleSize
}
