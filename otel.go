package partialz

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanProcessor plugs a Processor into the OpenTelemetry SDK.
//
// Register it with sdktrace.WithSpanProcessor. Shutdown stops the heartbeat
// loop and ForceFlush requests an immediate tick; neither exports ended
// spans, which remain the job of the SDK's regular exporters.
type SpanProcessor struct {
	proc *Processor
}

var _ sdktrace.SpanProcessor = (*SpanProcessor)(nil)

// NewSpanProcessor wraps proc.
func NewSpanProcessor(proc *Processor) *SpanProcessor {
	return &SpanProcessor{proc: proc}
}

// OnStart registers s with the processor.
func (sp *SpanProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	if s == nil {
		return
	}
	sp.proc.OnStart(otelSpan{span: s})
}

// OnEnd queues s for removal.
func (sp *SpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if s == nil {
		return
	}
	sp.proc.OnEnd(otelSpan{span: s})
}

// Shutdown stops the heartbeat loop and waits for it to exit or for ctx.
func (sp *SpanProcessor) Shutdown(ctx context.Context) error {
	sp.proc.Shutdown()
	select {
	case <-sp.proc.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceFlush triggers an immediate heartbeat. It does not wait for the tick.
func (sp *SpanProcessor) ForceFlush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sp.proc.Trigger()
	return nil
}

// otelSpan reads an SDK span as a SpanReader. ReadOnlySpan accessors lock
// internally, so reading while the span is being mutated is safe.
type otelSpan struct {
	span sdktrace.ReadOnlySpan
}

func (o otelSpan) SpanID() SpanID {
	return SpanID(o.span.SpanContext().SpanID())
}

// ReadSpan converts the SDK span. Non-string attribute values are
// stringified with attribute.Value.Emit.
func (o otelSpan) ReadSpan() Span {
	sc := o.span.SpanContext()
	s := Span{
		TraceID:   TraceID(sc.TraceID()),
		SpanID:    SpanID(sc.SpanID()),
		Name:      o.span.Name(),
		StartTime: o.span.StartTime(),
		EndTime:   o.span.EndTime(),
	}
	if parent := o.span.Parent(); parent.HasSpanID() {
		s.ParentID = SpanID(parent.SpanID())
	}
	if kvs := o.span.Attributes(); len(kvs) > 0 {
		s.Attributes = make([]Attribute, 0, len(kvs))
		for _, kv := range kvs {
			s.Attributes = append(s.Attributes, Attribute{Key: string(kv.Key), Value: kv.Value.Emit()})
		}
	}
	return s
}
