package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for gateway spans, following OpenTelemetry semantic
// convention style (dot-separated, lowercase).
const (
	AttrDeviceID   = "device.id"
	AttrDeviceTag  = "device.tag"
	AttrStationID  = "station.id"
	AttrOrderCode  = "order.code"
	AttrPhase      = "gateway.phase"
	AttrOutcome    = "gateway.outcome"
	AttrBatchSize  = "replication.batch_size"
	AttrMESPath    = "mes.path"
	AttrMESMethod  = "mes.method"
	AttrBufferSize = "buffer.pending"
)

// Span names for the gateway's own operations.
const (
	SpanFrameReceive   = "transport.frame_receive"
	SpanEngineDispatch = "engine.dispatch"
	SpanReplicatePass  = "replicator.pass"
	SpanMESRequest     = "mesclient.request"
)

// DeviceID returns an attribute for a device identifier.
func DeviceID(id string) attribute.KeyValue {
	return attribute.String(AttrDeviceID, id)
}

// DeviceTag returns an attribute for a frame's tag.
func DeviceTag(tag string) attribute.KeyValue {
	return attribute.String(AttrDeviceTag, tag)
}

// StationID returns an attribute for the selected station.
func StationID(id int) attribute.KeyValue {
	return attribute.Int(AttrStationID, id)
}

// OrderCode returns an attribute for the active production order.
func OrderCode(code string) attribute.KeyValue {
	return attribute.String(AttrOrderCode, code)
}

// Phase returns an attribute for the orchestrator's current phase.
func Phase(phase string) attribute.KeyValue {
	return attribute.String(AttrPhase, phase)
}

// Outcome returns an attribute describing how an operation concluded.
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// BatchSize returns an attribute for a replication batch's row count.
func BatchSize(n int) attribute.KeyValue {
	return attribute.Int(AttrBatchSize, n)
}

// MESPath returns an attribute for the MES endpoint path requested.
func MESPath(path string) attribute.KeyValue {
	return attribute.String(AttrMESPath, path)
}

// BufferPending returns an attribute for the buffer's pending row count.
func BufferPending(n int) attribute.KeyValue {
	return attribute.Int(AttrBufferSize, n)
}

// StartFrameSpan starts a span around processing one RS-485 frame.
func StartFrameSpan(ctx context.Context, deviceID, tag string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanFrameReceive, trace.WithAttributes(DeviceID(deviceID), DeviceTag(tag)))
}

// StartReplicationSpan starts a span around one replicator pass.
func StartReplicationSpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanReplicatePass, trace.WithAttributes(BatchSize(batchSize)))
}

// StartMESSpan starts a span around one MES HTTP request.
func StartMESSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanMESRequest, trace.WithAttributes(
		attribute.String(AttrMESMethod, method),
		MESPath(path),
	))
}
