package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for block and crypto operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Layer-agnostic keys use "blk." prefix, component-specific use their own prefix.
const (
	// ========================================================================
	// Block I/O attributes (layer-agnostic)
	// ========================================================================
	AttrDevice  = "blk.device"  // Device name
	AttrBackend = "blk.backend" // Backend type: memory, file, s3
	AttrOp      = "blk.op"      // read, write, flush, trim
	AttrSector  = "blk.sector"  // First logical sector
	AttrSectors = "blk.sectors" // Sector count
	AttrBytes   = "blk.bytes"   // Payload bytes

	// ========================================================================
	// Crypt attributes
	// ========================================================================
	AttrCipher   = "crypt.cipher"   // Transform name
	AttrIVMode   = "crypt.iv_mode"  // IV derivation mode
	AttrUnits    = "crypt.units"    // Data units in the request
	AttrDispatch = "crypt.dispatch" // inline, worker, deferred
	AttrLane     = "crypt.lane"     // Executor lane id

	// ========================================================================
	// Tag store attributes
	// ========================================================================
	AttrTagStore = "tags.store" // memory, badger, postgres
	AttrTagUnit  = "tags.unit"  // First unit number
	AttrTagCount = "tags.count" // Units touched

	// ========================================================================
	// User/Auth attributes
	// ========================================================================
	AttrUsername = "user.name"
	AttrAuth     = "auth.method"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// Block device operations
	SpanBlockRead  = "blockdev.read"
	SpanBlockWrite = "blockdev.write"
	SpanBlockFlush = "blockdev.flush"
	SpanBlockTrim  = "blockdev.trim"

	// Crypt layer operations
	SpanCryptConvert = "crypt.convert"
	SpanCryptSubmit  = "crypt.submit"

	// Tag store operations
	SpanTagsLoad  = "tags.load"
	SpanTagsSave  = "tags.save"
	SpanTagsFlush = "tags.flush"

	// Control plane operations
	SpanDeviceAttach = "device.attach"
	SpanDeviceDetach = "device.detach"
)

// Device returns an attribute for device name
func Device(name string) attribute.KeyValue {
	return attribute.String(AttrDevice, name)
}

// Backend returns an attribute for backend type
func Backend(t string) attribute.KeyValue {
	return attribute.String(AttrBackend, t)
}

// Op returns an attribute for block operation name
func Op(op string) attribute.KeyValue {
	return attribute.String(AttrOp, op)
}

// Sector returns an attribute for the first logical sector
func Sector(sector uint64) attribute.KeyValue {
	return attribute.Int64(AttrSector, int64(sector))
}

// Sectors returns an attribute for sector count
func Sectors(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrSectors, int64(n))
}

// Bytes returns an attribute for payload size
func Bytes(n int) attribute.KeyValue {
	return attribute.Int(AttrBytes, n)
}

// Cipher returns an attribute for transform name
func Cipher(name string) attribute.KeyValue {
	return attribute.String(AttrCipher, name)
}

// IVMode returns an attribute for IV derivation mode
func IVMode(mode string) attribute.KeyValue {
	return attribute.String(AttrIVMode, mode)
}

// Units returns an attribute for data unit count
func Units(n int) attribute.KeyValue {
	return attribute.Int(AttrUnits, n)
}

// Dispatch returns an attribute for the chosen execution context
func Dispatch(path string) attribute.KeyValue {
	return attribute.String(AttrDispatch, path)
}

// Lane returns an attribute for the executor lane
func Lane(lane int) attribute.KeyValue {
	return attribute.Int(AttrLane, lane)
}

// TagStore returns an attribute for tag store type
func TagStore(t string) attribute.KeyValue {
	return attribute.String(AttrTagStore, t)
}

// TagUnit returns an attribute for the first tag unit number
func TagUnit(unit uint64) attribute.KeyValue {
	return attribute.Int64(AttrTagUnit, int64(unit))
}

// TagCount returns an attribute for tag unit count
func TagCount(n int) attribute.KeyValue {
	return attribute.Int(AttrTagCount, n)
}

// Username returns an attribute for username
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// AuthMethod returns an attribute for authentication method
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuth, method)
}

// Bucket returns an attribute for S3 bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for S3 object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartBlockSpan starts a span for a block device operation.
// This is a convenience function that sets common attributes.
func StartBlockSpan(ctx context.Context, backend, op string, sector uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Backend(backend),
		Op(op),
		Sector(sector),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "blockdev."+op, trace.WithAttributes(allAttrs...))
}

// StartTagSpan starts a span for a tag store operation.
func StartTagSpan(ctx context.Context, store, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		TagStore(store),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "tags."+operation, trace.WithAttributes(allAttrs...))
}

// StartDeviceSpan starts a span for a control plane device operation.
func StartDeviceSpan(ctx context.Context, operation, device string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Device(device),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "device."+operation, trace.WithAttributes(allAttrs...))
}
