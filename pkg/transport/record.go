package transport

import (
	"bytes"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/dittoblk/pkg/queue"
)

// RecordSize is the exact size of one encoded record.
const RecordSize = 32

// PullID marks a socket frame as a pull request rather than a push.
const PullID int32 = -1

// Record flags.
const (
	// FlagFetch asks the privileged side to copy a Write payload into the
	// staging window without completing the request.
	FlagFetch uint32 = 1 << 0

	// FlagAck marks a socket frame as the answer to a push.
	FlagAck uint32 = 1 << 1
)

// Status codes carried in records. They share the queue's numbering.
const (
	StatusOK         = uint32(queue.StatusOK)
	StatusIOError    = uint32(queue.StatusIOError)
	StatusInvalidArg = uint32(22)
)

// Record is the fixed-size descriptor exchanged with the worker, encoded as
// XDR big-endian words:
//
//	id int32 | op uint32 | buffer uint64 | position uint32 | length uint32 | status uint32 | flags uint32
type Record struct {
	ID       int32
	Op       uint32
	Buffer   uint64
	Position uint32
	Length   uint32
	Status   uint32
	Flags    uint32
}

// RecordFrom builds the record the worker sees for a checked-out slot.
func RecordFrom(d queue.Descriptor) Record {
	return Record{
		ID:       d.ID,
		Op:       uint32(d.Op),
		Buffer:   d.Buffer,
		Position: d.Position,
		Length:   d.Length,
		Status:   uint32(d.Status),
	}
}

// Opcode returns the record opcode as a queue.Op.
func (r Record) Opcode() queue.Op { return queue.Op(r.Op) }

// Offset returns the logical byte offset of the record.
func (r Record) Offset() int64 { return int64(r.Position) * queue.GranuleSize }

// MarshalBinary encodes r into exactly RecordSize bytes.
func (r Record) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(RecordSize)
	if err := r.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes r from exactly RecordSize bytes.
func (r *Record) UnmarshalBinary(p []byte) error {
	if len(p) != RecordSize {
		return fmt.Errorf("%w: record is %d bytes, want %d", ErrInvalidArgument, len(p), RecordSize)
	}
	return r.Decode(bytes.NewReader(p))
}

// Encode writes r to w.
func (r Record) Encode(w io.Writer) error {
	n, err := xdr.Marshal(w, &r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if n != RecordSize {
		return fmt.Errorf("encode record: wrote %d bytes, want %d", n, RecordSize)
	}
	return nil
}

// Decode reads one record from rd.
func (r *Record) Decode(rd io.Reader) error {
	var frame [RecordSize]byte
	if _, err := io.ReadFull(rd, frame[:]); err != nil {
		return err
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(frame[:]), r); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
