package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/partialz"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// HeartbeatRecorder wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type HeartbeatRecorder struct {
	exported []partialz.Heartbeat
	*partialz.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewHeartbeatRecorder creates a collector for testing.
func NewHeartbeatRecorder(t *testing.T, bufferSize int) *HeartbeatRecorder {
	t.Helper()
	collector := partialz.NewCollector(bufferSize)
	collector.SetSyncMode(true) // Enable synchronous collection for testing.
	t.Cleanup(collector.Close)
	return &HeartbeatRecorder{
		Collector: collector,
		t:         t,
		exported:  make([]partialz.Heartbeat, 0),
	}
}

// All returns every heartbeat recorded so far, including ones already exported.
func (r *HeartbeatRecorder) All() []partialz.Heartbeat {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.exported = append(r.exported, r.Collector.Export()...)
	all := make([]partialz.Heartbeat, len(r.exported))
	copy(all, r.exported)
	return all
}

// For returns the recorded heartbeats of one span.
func (r *HeartbeatRecorder) For(id partialz.SpanID) []partialz.Heartbeat {
	var out []partialz.Heartbeat
	for _, hb := range r.All() {
		if hb.SpanID == id {
			out = append(out, hb)
		}
	}
	return out
}

// Decode unmarshals a heartbeat payload and returns its single span.
func (r *HeartbeatRecorder) Decode(hb partialz.Heartbeat) *tracepb.Span {
	r.t.Helper()
	rs, err := partialz.DecodeEnvelope(hb.Payload)
	if err != nil {
		r.t.Fatalf("decode heartbeat: %v", err)
	}
	return rs.ScopeSpans[0].Spans[0]
}

// Harness is a running processor on a fake clock. Ticks happen only through
// Tick, so tests control exactly when heartbeats are emitted.
type Harness struct {
	Processor *partialz.Processor
	Metrics   *partialz.Metrics
	Recorder  *HeartbeatRecorder
	Clock     clockz.Clock
	t         *testing.T
}

// NewHarness starts a processor with cfg and registers cleanup.
func NewHarness(t *testing.T, cfg partialz.Config) *Harness {
	t.Helper()

	clock := clockz.NewFakeClock()
	recorder := NewHeartbeatRecorder(t, 1000)
	metrics := partialz.NewMetrics(prometheus.NewRegistry())

	proc, err := partialz.NewProcessor(cfg, recorder, partialz.WithClock(clock), partialz.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	if err := proc.Start(context.Background()); err != nil {
		t.Fatalf("start processor: %v", err)
	}
	t.Cleanup(func() {
		proc.Shutdown()
		<-proc.Done()
	})

	return &Harness{Processor: proc, Metrics: metrics, Recorder: recorder, Clock: clock, t: t}
}

// Ticks returns the number of completed heartbeat ticks.
func (h *Harness) Ticks() int {
	return int(testutil.ToFloat64(h.Metrics.Ticks))
}

// Tick forces one heartbeat and waits for it to complete.
func (h *Harness) Tick() {
	h.t.Helper()
	before := h.Ticks()
	h.Processor.Trigger()

	deadline := time.Now().Add(time.Second)
	for h.Ticks() <= before {
		if time.Now().After(deadline) {
			h.t.Fatalf("tick did not complete within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}
