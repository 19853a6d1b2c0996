package partialz

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "partialz"
)

// TraceID is a 16-byte trace identifier.
type TraceID [16]byte

// IsValid reports whether the id has at least one non-zero byte.
func (t TraceID) IsValid() bool {
	return t != TraceID{}
}

// String returns the lowercase hex form.
func (t TraceID) String() string {
	return hex.EncodeToString(t[:])
}

// SpanID is an 8-byte span identifier.
type SpanID [8]byte

// IsValid reports whether the id has at least one non-zero byte.
func (s SpanID) IsValid() bool {
	return s != SpanID{}
}

// String returns the lowercase hex form.
func (s SpanID) String() string {
	return hex.EncodeToString(s[:])
}

// Attribute is a single string key/value pair recorded on a span.
type Attribute struct {
	Key   Tag    `json:"key"`
	Value string `json:"value"`
}

// Span describes the state of one span at a point in time.
// Spans are NOT thread-safe - do not modify from multiple goroutines.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Attributes []Attribute `json:"attributes,omitempty"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time,omitempty"`
	TraceID    TraceID     `json:"trace_id"`
	SpanID     SpanID      `json:"span_id"`
	ParentID   SpanID      `json:"parent_id,omitempty"`
	Name       string      `json:"name"`
}

// Ended reports whether the span has a captured end time.
// An open span has no end time; it is not the same as ending at StartTime.
func (s Span) Ended() bool {
	return !s.EndTime.IsZero()
}

// IsRoot reports whether the span has no parent.
func (s Span) IsRoot() bool {
	return !s.ParentID.IsValid()
}

// SpanReader is the reference the registry keeps for an open span.
// The span's current state is read on every heartbeat, so implementations
// must be safe to call while the owning SDK is still mutating the span.
type SpanReader interface {
	SpanID() SpanID
	ReadSpan() Span
}

// ActiveSpan wraps a Span with thread-safe attribute operations and lifecycle management.
// Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	span   *Span
	tracer *Tracer
	mu     sync.Mutex // Protects Attributes and EndTime.
}

// SetAttribute appends a key-value pair to the span.
// Duplicate keys are kept; insertion order is preserved.
// No-op if span is already finished.
func (a *ActiveSpan) SetAttribute(key Tag, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Don't modify finished spans.
	if a.span.Ended() {
		return
	}
	a.span.Attributes = append(a.span.Attributes, Attribute{Key: key, Value: value})
}

// Attribute returns the most recently set value for key.
// Thread-safe for concurrent access.
func (a *ActiveSpan) Attribute(key Tag) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.span.Attributes) - 1; i >= 0; i-- {
		if a.span.Attributes[i].Key == key {
			return a.span.Attributes[i].Value, true
		}
	}
	return "", false
}

// Finish completes the span and notifies the tracer's hooks.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *ActiveSpan) Finish() {
	a.mu.Lock()
	// Prevent double-finishing.
	if a.span.Ended() {
		a.mu.Unlock()
		return
	}
	a.span.EndTime = a.tracer.clock.Now()
	a.mu.Unlock()

	// Hooks may read the span, so they run outside the lock.
	a.tracer.endSpan(a)
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() TraceID {
	return a.span.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() SpanID {
	return a.span.SpanID
}

// Duration returns the elapsed time of a finished span, or zero while open.
func (a *ActiveSpan) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.span.Ended() {
		return 0
	}
	return a.span.EndTime.Sub(a.span.StartTime)
}

// ReadSpan returns a copy of the span's current state.
// Thread-safe for concurrent access.
func (a *ActiveSpan) ReadSpan() Span {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := *a.span
	if a.span.Attributes != nil {
		s.Attributes = make([]Attribute, len(a.span.Attributes))
		copy(s.Attributes, a.span.Attributes)
	}
	return s
}

// Context creates a new context with this span embedded.
// The returned context can be used to start child spans.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	return context.WithValue(parent, bundleKey, a)
}

// SpanFromContext extracts the current span from a context.
// Returns nil if no span is present.
func SpanFromContext(ctx context.Context) *ActiveSpan {
	if ctx == nil {
		return nil
	}

	if span, ok := ctx.Value(bundleKey).(*ActiveSpan); ok {
		return span
	}

	return nil
}
