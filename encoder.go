package partialz

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
)

// Fixed identity written into every envelope.
const (
	DefaultServiceName = "PartialSpanService"
	ScopeName          = "PartialSpanScope"
	ScopeVersion       = "1.0.0"

	serviceNameKey = "service.name"
)

var (
	// ErrInvalidSpan is returned when a span has a zero trace or span id.
	ErrInvalidSpan = errors.New("invalid span: zero trace or span id")

	// ErrInvalidEnvelope is returned by DecodeEnvelope for bytes that are not
	// a single resource / single scope / single span structure.
	ErrInvalidEnvelope = errors.New("invalid heartbeat envelope")
)

var defaultEncoder = NewEncoder(DefaultServiceName)

// Encoder converts span state into OTLP ResourceSpans bytes.
// Encoders hold no mutable state and are safe for concurrent use.
type Encoder struct {
	serviceName string
	marshal     proto.MarshalOptions
}

// NewEncoder creates an encoder that stamps serviceName on the resource.
// An empty name falls back to DefaultServiceName.
func NewEncoder(serviceName string) *Encoder {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return &Encoder{
		serviceName: serviceName,
		marshal:     proto.MarshalOptions{Deterministic: true},
	}
}

// ServiceName returns the service.name resource attribute value.
func (e *Encoder) ServiceName() string {
	return e.serviceName
}

// Encode builds the envelope for span and marshals it.
//
// The envelope always has exactly one resource, one scope and one span.
// Timestamps are truncated to whole milliseconds. An open span carries its
// start time as end time, which collectors must not read as a real end.
func (e *Encoder) Encode(span Span) ([]byte, error) {
	rs, err := e.Envelope(span)
	if err != nil {
		return nil, err
	}
	b, err := e.marshal.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// Envelope builds the OTLP message for span without marshaling it.
func (e *Encoder) Envelope(span Span) (*tracepb.ResourceSpans, error) {
	if !span.TraceID.IsValid() || !span.SpanID.IsValid() {
		return nil, ErrInvalidSpan
	}

	start := unixNanoMillis(span.StartTime)
	end := start
	if span.Ended() {
		end = unixNanoMillis(span.EndTime)
	}

	otlpSpan := &tracepb.Span{
		TraceId:           cloneBytes(span.TraceID[:]),
		SpanId:            cloneBytes(span.SpanID[:]),
		Name:              span.Name,
		StartTimeUnixNano: start,
		EndTimeUnixNano:   end,
	}
	if !span.IsRoot() {
		otlpSpan.ParentSpanId = cloneBytes(span.ParentID[:])
	}
	if len(span.Attributes) > 0 {
		otlpSpan.Attributes = make([]*commonpb.KeyValue, 0, len(span.Attributes))
		for _, a := range span.Attributes {
			otlpSpan.Attributes = append(otlpSpan.Attributes, stringKeyValue(a.Key, a.Value))
		}
	}

	return &tracepb.ResourceSpans{
		Resource: &resourcepb.Resource{
			Attributes: []*commonpb.KeyValue{
				stringKeyValue(serviceNameKey, e.serviceName),
			},
		},
		ScopeSpans: []*tracepb.ScopeSpans{
			{
				Scope: &commonpb.InstrumentationScope{
					Name:    ScopeName,
					Version: ScopeVersion,
				},
				Spans: []*tracepb.Span{otlpSpan},
			},
		},
	}, nil
}

// Encode encodes span with the default service name.
func Encode(span Span) ([]byte, error) {
	return defaultEncoder.Encode(span)
}

// EncodeBase64 encodes span and returns the standard base64 form used by
// text-only transports.
func EncodeBase64(span Span) (string, error) {
	b, err := Encode(span)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeEnvelope parses envelope bytes and checks the single-span shape.
func DecodeEnvelope(b []byte) (*tracepb.ResourceSpans, error) {
	var rs tracepb.ResourceSpans
	if err := proto.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(rs.ScopeSpans) != 1 || len(rs.ScopeSpans[0].Spans) != 1 {
		return nil, fmt.Errorf("%w: want 1 scope with 1 span, got %d scopes", ErrInvalidEnvelope, len(rs.ScopeSpans))
	}
	return &rs, nil
}

// DecodeBase64Envelope reverses EncodeBase64.
func DecodeBase64Envelope(s string) (*tracepb.ResourceSpans, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return DecodeEnvelope(b)
}

// unixNanoMillis drops sub-millisecond precision before scaling to ns.
// Times before the epoch encode as zero.
func unixNanoMillis(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms) * uint64(time.Millisecond)
}

func stringKeyValue(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key: key,
		Value: &commonpb.AnyValue{
			Value: &commonpb.AnyValue_StringValue{StringValue: value},
		},
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
