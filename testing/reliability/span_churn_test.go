package reliability

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/zoobzio/partialz"
)

// Span churn tests - verify the processor stays consistent while spans start
// and end concurrently with heartbeat ticks.
// Environment: PARTIALZ_RELIABILITY_LEVEL controls test intensity
//   basic: CI-safe churn validation
//   stress: sustained churn for PARTIALZ_RELIABILITY_DURATION

func TestSpanChurn(t *testing.T) {
	config := getReliabilityConfig()

	switch config.Level {
	case "basic":
		t.Run("churn_converges", func(t *testing.T) { testChurnConverges(t, config, 2*time.Second) })
		t.Run("failing_sink", func(t *testing.T) { testFailingSink(t, config) })
	case "stress":
		t.Run("churn_converges", func(t *testing.T) { testChurnConverges(t, config, config.Duration) })
		t.Run("failing_sink", func(t *testing.T) { testFailingSink(t, config) })
	default:
		t.Skip("PARTIALZ_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
}

// testChurnConverges runs producers against a fast real-clock loop and
// checks that only the spans left open remain registered at the end.
func testChurnConverges(t *testing.T, config ReliabilityConfig, duration time.Duration) {
	var emitted atomic.Int64
	sink := partialz.SinkFunc(func(context.Context, partialz.Heartbeat) error {
		emitted.Add(1)
		return nil
	})

	metrics := partialz.NewMetrics(prometheus.NewRegistry())
	proc, err := partialz.NewProcessor(partialz.Config{ScheduledDelay: time.Millisecond}, sink, partialz.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	if err := proc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	tracer := partialz.New()
	defer tracer.Close()
	tracer.AddHook(proc)

	startGoroutines := runtime.NumGoroutine()
	deadline := time.Now().Add(duration)

	var leftOpen atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < config.MaxGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; time.Now().Before(deadline); i++ {
				_, span := tracer.StartSpan(context.Background(), "churn")
				span.SetAttribute("i", "x")
				// Every producer leaves its first span open.
				if i == 0 {
					leftOpen.Add(1)
					continue
				}
				span.Finish()
			}
		}()
	}
	wg.Wait()

	// Let at least two ticks drain the end queue.
	before := testutil.ToFloat64(metrics.Ticks)
	waitUntil(t, 5*time.Second, func() bool { return testutil.ToFloat64(metrics.Ticks) >= before+2 })

	if got := proc.Registry().Len(); int64(got) != leftOpen.Load() {
		t.Errorf("Expected %d open spans, got %d", leftOpen.Load(), got)
	}
	if emitted.Load() == 0 {
		t.Error("Expected heartbeats to be emitted during churn")
	}

	proc.Shutdown()
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop")
	}

	if after := runtime.NumGoroutine(); after > startGoroutines+config.MaxGoroutines {
		t.Errorf("Possible goroutine leak: %d -> %d", startGoroutines, after)
	}
}

// testFailingSink checks that a sink failing every other call never stalls
// the loop or leaks failures across spans.
func testFailingSink(t *testing.T, config ReliabilityConfig) {
	var calls atomic.Int64
	sink := partialz.SinkFunc(func(context.Context, partialz.Heartbeat) error {
		if calls.Add(1)%2 == 0 {
			panic("sink failure")
		}
		return nil
	})

	metrics := partialz.NewMetrics(prometheus.NewRegistry())
	proc, err := partialz.NewProcessor(partialz.Config{ScheduledDelay: time.Millisecond}, sink, partialz.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	if err := proc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	tracer := partialz.New()
	defer tracer.Close()
	tracer.AddHook(proc)
	for i := 0; i < config.SpansPerTick; i++ {
		tracer.StartSpan(context.Background(), "held")
	}

	waitUntil(t, 5*time.Second, func() bool { return testutil.ToFloat64(metrics.Ticks) >= 5 })
	proc.Shutdown()
	<-proc.Done()

	sent := testutil.ToFloat64(metrics.HeartbeatsSent)
	failed := testutil.ToFloat64(metrics.EmitFailures)
	if sent == 0 || failed == 0 {
		t.Errorf("Expected both successes and failures, got %v sent and %v failed", sent, failed)
	}
	if sent+failed != float64(calls.Load()) {
		t.Errorf("Expected every sink call to be counted, got %v + %v for %d calls", sent, failed, calls.Load())
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}
