// Package partialz emits heartbeats for spans that have not finished yet.
//
// A span is normally invisible to a tracing backend until it ends, so a
// crash or a hang loses everything it recorded. partialz keeps a registry of
// open spans and, on a fixed period, encodes each of them as a standalone
// OTLP envelope and hands it to a Sink. Collectors can then show in-flight
// work before it completes.
//
// Core Components:.
//   - Processor: lifecycle hooks plus the background heartbeat loop.
//   - Registry: open spans and the queue of ended spans awaiting removal.
//   - Encoder: Span to OTLP ResourceSpans bytes.
//   - Sink: destination for encoded heartbeats (LogSink, Collector).
//   - Tracer: a small tracer whose spans feed the processor hooks.
//   - SpanProcessor: bridge for the OpenTelemetry SDK.
//
// Basic Usage:.
//
//	proc, err := partialz.NewProcessor(partialz.DefaultConfig(), partialz.NewLogSink(logger))
//	if err != nil {
//		return err
//	}
//	if err := proc.Start(ctx); err != nil {
//		return err
//	}
//	defer proc.Shutdown()
//
//	tracer := partialz.New()
//	tracer.AddHook(proc)
//	defer tracer.Close()
//
//	ctx, span := tracer.StartSpan(ctx, "long-operation")
//	defer span.Finish()
//
// With the OpenTelemetry SDK:.
//
//	tp := sdktrace.NewTracerProvider(
//		sdktrace.WithSpanProcessor(partialz.NewSpanProcessor(proc)),
//	)
//
// Thread Safety:.
//
// Hooks (OnStart, OnEnd) are safe for concurrent use and never block on the
// heartbeat loop. Registry removal only happens on the loop goroutine.
//
// Delivery:.
//
// Heartbeats are best effort. A failed encode or emit is logged and counted,
// never retried, and does not affect the other spans of the same tick.
package partialz

// Key represents a span operation name.
type Key = string

// Tag represents a span attribute key.
type Tag = string

// Boundary attributes attached to every emitted heartbeat.
const (
	AttrSpanType         Tag = "span.type"
	AttrPartialEvent     Tag = "partial.event"
	AttrPartialFrequency Tag = "partial.frequency"

	SpanTypePartial       = "partial"
	PartialEventHeartbeat = "heartbeat"
)
