package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for block requests.
const (
	AttrDevice   = "blk.device"
	AttrOp       = "blk.op"
	AttrSlot     = "blk.slot"
	AttrPosition = "blk.position" // 4096-byte units
	AttrOffset   = "blk.offset"   // bytes
	AttrLength   = "blk.length"   // bytes
	AttrStatus   = "blk.status"
	AttrSegments = "blk.segments"

	AttrStripeSize = "stripe.size"
	AttrVolumes    = "stripe.volumes"
	AttrGranules   = "stripe.granules"

	AttrVolume     = "volume.index"
	AttrVolumeType = "volume.type"
	AttrVolumePath = "volume.path"

	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
)

// Span names.
const (
	SpanDispatch   = "blk.dispatch"
	SpanAcquire    = "queue.acquire"
	SpanWorkerExec = "worker.execute"
	SpanVolumeIO   = "volume.io"
)

// Device returns an attribute for the virtual device name
func Device(name string) attribute.KeyValue {
	return attribute.String(AttrDevice, name)
}

// Op returns an attribute for the request opcode name
func Op(name string) attribute.KeyValue {
	return attribute.String(AttrOp, name)
}

// Slot returns an attribute for a slot id
func Slot(id int32) attribute.KeyValue {
	return attribute.Int(AttrSlot, int(id))
}

// Position returns an attribute for a logical position in 4096-byte units
func Position(pos uint32) attribute.KeyValue {
	return attribute.Int64(AttrPosition, int64(pos))
}

// Offset returns an attribute for a byte offset
func Offset(off uint64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, int64(off))
}

// Length returns an attribute for a byte length
func Length(n uint32) attribute.KeyValue {
	return attribute.Int64(AttrLength, int64(n))
}

// Status returns an attribute for a completion status
func Status(code int) attribute.KeyValue {
	return attribute.Int(AttrStatus, code)
}

// Segments returns an attribute for the number of buffer segments
func Segments(n int) attribute.KeyValue {
	return attribute.Int(AttrSegments, n)
}

// Granules returns an attribute for the number of 4096-byte granules
func Granules(n int) attribute.KeyValue {
	return attribute.Int(AttrGranules, n)
}

// StripeSize returns an attribute for the stripe unit in bytes
func StripeSize(s int64) attribute.KeyValue {
	return attribute.Int64(AttrStripeSize, s)
}

// Volumes returns an attribute for the number of backing volumes
func Volumes(n int) attribute.KeyValue {
	return attribute.Int(AttrVolumes, n)
}

// Volume returns an attribute for a volume index
func Volume(idx int) attribute.KeyValue {
	return attribute.Int(AttrVolume, idx)
}

// VolumeType returns an attribute for a volume backend type
func VolumeType(t string) attribute.KeyValue {
	return attribute.String(AttrVolumeType, t)
}

// Bucket returns an attribute for an object storage bucket
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// StartDispatchSpan starts the root span for one block request.
func StartDispatchSpan(ctx context.Context, device, op string, offset uint64, length uint32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := []attribute.KeyValue{Device(device), Op(op), Offset(offset), Length(length)}
	all = append(all, attrs...)
	return StartSpan(ctx, SpanDispatch, trace.WithAttributes(all...), trace.WithSpanKind(trace.SpanKindServer))
}

// StartWorkerSpan starts the span covering one pulled record in the worker.
func StartWorkerSpan(ctx context.Context, op string, slot int32, position uint32, length uint32) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanWorkerExec, trace.WithAttributes(
		Op(op), Slot(slot), Position(position), Length(length),
	))
}

// StartVolumeSpan starts a span for backend I/O on one volume.
func StartVolumeSpan(ctx context.Context, operation, volumeType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := []attribute.KeyValue{VolumeType(volumeType)}
	all = append(all, attrs...)
	return StartSpan(ctx, SpanVolumeIO+"."+operation, trace.WithAttributes(all...), trace.WithSpanKind(trace.SpanKindClient))
}
