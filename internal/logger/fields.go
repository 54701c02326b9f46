package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that the request
// path (dispatcher -> queue -> transport -> worker -> volume) can be followed
// by slot id in aggregated logs.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Request
	// ========================================================================
	KeyDevice   = "device"   // Virtual device name
	KeyOp       = "op"       // READ, WRITE, FLUSH, DISCARD, WRITE_ZEROES
	KeySlot     = "slot"     // Slot id in [0, queue_depth)
	KeyPosition = "position" // Logical position in 4096-byte units
	KeyOffset   = "offset"   // Logical byte offset
	KeyLength   = "length"   // Byte length
	KeyStatus   = "status"   // Completion status code
	KeySegments = "segments" // Number of buffer segments

	// ========================================================================
	// Queue
	// ========================================================================
	KeyQueueDepth = "queue_depth"
	KeyFree       = "free"
	KeyQueued     = "queued"
	KeyCheckedOut = "checked_out"

	// ========================================================================
	// Striping / volumes
	// ========================================================================
	KeyVolume       = "volume"        // Volume index
	KeyVolumePath   = "volume_path"   // Volume location (path, bucket, ...)
	KeyVolumeType   = "volume_type"   // file, memory, badger, s3
	KeyVolumeOffset = "volume_offset" // Byte offset within a volume
	KeyStripeSize   = "stripe_size"
	KeyVolumes      = "volumes"
	KeyGranule      = "granule"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyCapacity   = "capacity"
	KeyTransport  = "transport"
	KeySocket     = "socket"
)

// ----------------------------------------------------------------------------
// Field constructors
// ----------------------------------------------------------------------------

// Slot returns a slog.Attr for a slot id
func Slot(id int32) slog.Attr {
	return slog.Int(KeySlot, int(id))
}

// Op returns a slog.Attr for an opcode name
func Op(name string) slog.Attr {
	return slog.String(KeyOp, name)
}

// Position returns a slog.Attr for a logical position in 4096-byte units
func Position(pos uint32) slog.Attr {
	return slog.Uint64(KeyPosition, uint64(pos))
}

// Offset returns a slog.Attr for a logical byte offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Length returns a slog.Attr for a byte length
func Length(n uint32) slog.Attr {
	return slog.Uint64(KeyLength, uint64(n))
}

// Status returns a slog.Attr for a completion status
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Volume returns a slog.Attr for a volume index
func Volume(idx int) slog.Attr {
	return slog.Int(KeyVolume, idx)
}

// VolumeOffset returns a slog.Attr for an offset within a volume
func VolumeOffset(off int64) slog.Attr {
	return slog.Int64(KeyVolumeOffset, off)
}

// Err returns a slog.Attr for an error; nil errors produce an empty attr
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
