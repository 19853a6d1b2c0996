package partialz

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testBeat(n byte) Heartbeat {
	return Heartbeat{
		SpanID:     SpanID{n},
		TraceID:    TraceID{n},
		Name:       "test-operation",
		Payload:    []byte{n},
		Attributes: []Attribute{{Key: AttrSpanType, Value: SpanTypePartial}},
	}
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(100)
	defer collector.Close()

	if collector.Count() != 0 {
		t.Errorf("Expected 0 heartbeats initially, got %d", collector.Count())
	}

	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped heartbeats initially, got %d", collector.DroppedCount())
	}
}

func TestCollectorBasicCollection(t *testing.T) {
	collector := NewCollector(10)
	collector.SetSyncMode(true) // Enable sync for deterministic testing.
	defer collector.Close()

	if err := collector.Emit(context.Background(), testBeat(1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if collector.Count() != 1 {
		t.Errorf("Expected 1 heartbeat, got %d", collector.Count())
	}

	beats := collector.Export()
	if len(beats) != 1 {
		t.Fatalf("Expected 1 exported heartbeat, got %d", len(beats))
	}

	if beats[0].SpanID != (SpanID{1}) {
		t.Errorf("Expected span ID %s, got %s", SpanID{1}, beats[0].SpanID)
	}

	// After export, collector should be empty.
	if collector.Count() != 0 {
		t.Errorf("Expected 0 heartbeats after export, got %d", collector.Count())
	}
}

func TestCollectorAsyncCollection(t *testing.T) {
	collector := NewCollector(10)
	defer collector.Close()

	for i := 0; i < 5; i++ {
		_ = collector.Emit(context.Background(), testBeat(byte(i)))
	}

	deadline := time.Now().Add(time.Second)
	for collector.Count() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if collector.Count() != 5 {
		t.Errorf("Expected 5 heartbeats, got %d", collector.Count())
	}
}

func TestCollectorBackpressure(t *testing.T) {
	// Small buffer to trigger backpressure quickly.
	collector := NewCollector(2)
	defer collector.Close()

	for i := 0; i < 1000; i++ {
		_ = collector.Emit(context.Background(), testBeat(1))
	}

	// Give time for async processing and dropping.
	time.Sleep(50 * time.Millisecond)

	if collector.DroppedCount() == 0 {
		t.Error("Expected some heartbeats to be dropped due to backpressure")
	}
}

func TestCollectorBufferGrowth(t *testing.T) {
	collector := NewCollector(100)
	collector.SetSyncMode(true)
	defer collector.Close()

	num := 50
	for i := 0; i < num; i++ {
		_ = collector.Emit(context.Background(), testBeat(byte(i)))
	}

	if collector.Count() != num {
		t.Errorf("Expected %d heartbeats, got %d", num, collector.Count())
	}

	beats := collector.Export()
	if len(beats) != num {
		t.Errorf("Expected %d exported heartbeats, got %d", num, len(beats))
	}
}

func TestCollectorCopiesOnEmit(t *testing.T) {
	collector := NewCollector(10)
	collector.SetSyncMode(true)
	defer collector.Close()

	hb := testBeat(3)
	_ = collector.Emit(context.Background(), hb)

	// Mutating the caller's heartbeat must not leak into the buffer.
	hb.Payload[0] = 0xFF
	hb.Attributes[0].Value = "changed"

	beats := collector.Export()
	if beats[0].Payload[0] != 3 {
		t.Errorf("Expected payload to be copied, got %x", beats[0].Payload[0])
	}
	if beats[0].Attributes[0].Value != SpanTypePartial {
		t.Errorf("Expected attributes to be copied, got %s", beats[0].Attributes[0].Value)
	}
}

func TestCollectorCountFor(t *testing.T) {
	collector := NewCollector(10)
	collector.SetSyncMode(true)
	defer collector.Close()

	_ = collector.Emit(context.Background(), testBeat(1))
	_ = collector.Emit(context.Background(), testBeat(1))
	_ = collector.Emit(context.Background(), testBeat(2))

	if got := collector.CountFor(SpanID{1}); got != 2 {
		t.Errorf("Expected 2 heartbeats for span 1, got %d", got)
	}
	if got := collector.CountFor(SpanID{9}); got != 0 {
		t.Errorf("Expected 0 heartbeats for unknown span, got %d", got)
	}
}

func TestCollectorReset(t *testing.T) {
	collector := NewCollector(10)
	collector.SetSyncMode(true)
	defer collector.Close()

	_ = collector.Emit(context.Background(), testBeat(1))
	collector.Reset()

	if collector.Count() != 0 {
		t.Errorf("Expected 0 heartbeats after reset, got %d", collector.Count())
	}
}

func TestCollectorClosedDrops(t *testing.T) {
	collector := NewCollector(10)
	collector.Close()
	collector.Close() // Safe to call twice.

	_ = collector.Emit(context.Background(), testBeat(1))

	if collector.DroppedCount() != 1 {
		t.Errorf("Expected 1 dropped heartbeat after close, got %d", collector.DroppedCount())
	}
}

func TestCollectorConcurrentEmit(t *testing.T) {
	collector := NewCollector(10000)
	collector.SetSyncMode(true)
	defer collector.Close()

	var wg sync.WaitGroup
	goroutines := 10
	perGoroutine := 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_ = collector.Emit(context.Background(), testBeat(byte(n)))
			}
		}(i)
	}
	wg.Wait()

	if collector.Count() != goroutines*perGoroutine {
		t.Errorf("Expected %d heartbeats, got %d", goroutines*perGoroutine, collector.Count())
	}
}
