package logger

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently across
// the Transport, Device, Buffer, Replicator, Orchestrator and Control API
// so a single log aggregation query can correlate an increment across the
// whole pipeline by seq, device, or order code.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Orchestrator / command surface
	KeyCommand = "command"
	KeyPhase   = "phase"
	KeyStation = "station"

	// RS-485 transport and device session
	KeyDeviceID = "device_id"
	KeyTag      = "tag"
	KeyFrame    = "frame"
	KeyCounter  = "counter"
	KeyDelta    = "delta"
	KeyTarget   = "target"

	// Orders and increments
	KeyOrderCode   = "order_code"
	KeyUPC         = "upc"
	KeySeq         = "seq"
	KeyQuantity    = "quantity"
	KeyFingerprint = "fingerprint"
	KeySource      = "source"

	// Replication
	KeyBatchSize = "batch_size"
	KeyPending   = "pending"
	KeyAttempt   = "attempt"
	KeyBackoff   = "backoff_ms"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// Command returns a slog.Attr for the orchestrator command name
func Command(name string) slog.Attr { return slog.String(KeyCommand, name) }

// Phase returns a slog.Attr for the session phase
func Phase(phase string) slog.Attr { return slog.String(KeyPhase, phase) }

// Station returns a slog.Attr for the station identifier
func Station(id string) slog.Attr { return slog.String(KeyStation, id) }

// DeviceID returns a slog.Attr for the RS-485 device tag
func DeviceID(id string) slog.Attr { return slog.String(KeyDeviceID, id) }

// Tag returns a slog.Attr for an RS-485 frame tag
func Tag(tag string) slog.Attr { return slog.String(KeyTag, tag) }

// Frame returns a slog.Attr for a raw RS-485 frame
func Frame(raw string) slog.Attr { return slog.String(KeyFrame, raw) }

// Counter returns a slog.Attr for a device's counter value
func Counter(v int32) slog.Attr { return slog.Int(KeyCounter, int(v)) }

// Delta returns a slog.Attr for an emitted count delta
func Delta(v int32) slog.Attr { return slog.Int(KeyDelta, int(v)) }

// Target returns a slog.Attr for a device's production target
func Target(v int32) slog.Attr { return slog.Int(KeyTarget, int(v)) }

// OrderCode returns a slog.Attr for the manufacturing order code
func OrderCode(code string) slog.Attr { return slog.String(KeyOrderCode, code) }

// UPC returns a slog.Attr for a product barcode
func UPC(code string) slog.Attr { return slog.String(KeyUPC, code) }

// Seq returns a slog.Attr for a local increment sequence number
func Seq(seq int64) slog.Attr { return slog.Int64(KeySeq, seq) }

// Quantity returns a slog.Attr for an increment quantity
func Quantity(n int) slog.Attr { return slog.Int(KeyQuantity, n) }

// Fingerprint returns a slog.Attr for an increment's idempotency fingerprint
func Fingerprint(fp string) slog.Attr { return slog.String(KeyFingerprint, fp) }

// Source returns a slog.Attr for an increment's source (DEVICE, INITIAL)
func Source(src string) slog.Attr { return slog.String(KeySource, src) }

// BatchSize returns a slog.Attr for a replication batch size
func BatchSize(n int) slog.Attr { return slog.Int(KeyBatchSize, n) }

// Pending returns a slog.Attr for a pending row count
func Pending(n int) slog.Attr { return slog.Int(KeyPending, n) }

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// Backoff returns a slog.Attr for a backoff duration in milliseconds
func Backoff(ms int64) slog.Attr { return slog.Int64(KeyBackoff, ms) }

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
