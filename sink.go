package partialz

import (
	"context"
	"encoding/base64"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Heartbeat is one encoded snapshot of an open span, ready for a sink.
// Attributes describe the emission and are not part of Payload.
type Heartbeat struct {
	Attributes []Attribute
	Payload    []byte
	TraceID    TraceID
	SpanID     SpanID
	Name       string
}

// Base64 returns Payload in standard base64.
func (h Heartbeat) Base64() string {
	return base64.StdEncoding.EncodeToString(h.Payload)
}

// Attribute returns the value of the emission attribute key.
func (h Heartbeat) Attribute(key Tag) (string, bool) {
	for _, a := range h.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Sink receives heartbeats from the processor. Emit is called from the
// heartbeat loop; ctx is cancelled when the processor shuts down, and any
// per-call timeout is the sink's own business.
type Sink interface {
	Emit(ctx context.Context, hb Heartbeat) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, hb Heartbeat) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, hb Heartbeat) error {
	return f(ctx, hb)
}

// LogSink writes each heartbeat as one info-level log record. The emission
// attributes become record fields and the base64 payload is the message.
type LogSink struct {
	logger log.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger log.Logger) *LogSink {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &LogSink{logger: logger}
}

// Emit writes hb. Errors from the underlying writer are returned as is.
func (s *LogSink) Emit(_ context.Context, hb Heartbeat) error {
	keyvals := make([]interface{}, 0, 2*len(hb.Attributes)+6)
	for _, a := range hb.Attributes {
		keyvals = append(keyvals, a.Key, a.Value)
	}
	keyvals = append(keyvals,
		"trace_id", hb.TraceID.String(),
		"span_id", hb.SpanID.String(),
		"msg", hb.Base64(),
	)
	return level.Info(s.logger).Log(keyvals...)
}
