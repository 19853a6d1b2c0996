package partialz

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
)

// Hooks receives span lifecycle events. Entities that are not spans must be
// ignored, since the same hook surface may be shared with other data kinds.
type Hooks interface {
	OnStart(entity any)
	OnEnd(entity any)
}

type hookEntry struct {
	hooks Hooks
	id    uint64
}

// Tracer manages span lifecycle and forwards start/end events to hooks.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	hooks       []hookEntry
	panicHook   func(hookID uint64, r interface{})
	traceIDPool *IDPool[TraceID]
	spanIDPool  *IDPool[SpanID]
	clock       clockz.Clock
	hooksLock   sync.RWMutex
	idPoolOnce  sync.Once
	nextID      atomic.Uint64
}

// New creates a new tracer.
// Uses the real clock for production behavior.
func New() *Tracer {
	return &Tracer{
		hooks: make([]hookEntry, 0),
		clock: clockz.RealClock,
	}
}

// WithClock returns a new tracer with the specified clock.
// Enables clock injection for deterministic testing.
func (*Tracer) WithClock(clock clockz.Clock) *Tracer {
	return &Tracer{
		hooks: make([]hookEntry, 0),
		clock: clock,
	}
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100

		t.traceIDPool = NewIDPool(poolSize, func() TraceID {
			var id TraceID
			if _, err := rand.Read(id[:]); err != nil || !id.IsValid() {
				// Fallback to time-based ID if crypto/rand fails.
				binary.BigEndian.PutUint64(id[8:], uint64(t.clock.Now().UnixNano())|1)
			}
			return id
		})

		t.spanIDPool = NewIDPool(poolSize, func() SpanID {
			var id SpanID
			if _, err := rand.Read(id[:]); err != nil || !id.IsValid() {
				binary.BigEndian.PutUint64(id[:], uint64(t.clock.Now().UnixNano())|1)
			}
			return id
		})
	})
}

// AddHook registers hooks called synchronously on span start and end.
// Hooks must not block.
func (t *Tracer) AddHook(hooks Hooks) uint64 {
	if hooks == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.hooksLock.Lock()
	defer t.hooksLock.Unlock()

	t.hooks = append(t.hooks, hookEntry{id: id, hooks: hooks})

	return id
}

// RemoveHook removes hooks by ID.
func (t *Tracer) RemoveHook(id uint64) {
	t.hooksLock.Lock()
	defer t.hooksLock.Unlock()

	// Preserve order
	for i, h := range t.hooks {
		if h.id == id {
			copy(t.hooks[i:], t.hooks[i+1:])
			t.hooks = t.hooks[:len(t.hooks)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a hook panics.
func (t *Tracer) SetPanicHook(hook func(hookID uint64, r interface{})) {
	t.panicHook = hook
}

// StartSpan creates a new span and returns it wrapped in an ActiveSpan.
// If the context contains an existing span, the new span will be its child.
func (t *Tracer) StartSpan(ctx context.Context, operation Key) (context.Context, *ActiveSpan) {
	// Handle nil context by creating a new one.
	if ctx == nil {
		ctx = context.Background()
	}

	span := &Span{
		SpanID:    t.generateSpanID(),
		Name:      operation,
		StartTime: t.clock.Now(),
	}

	// Link to parent span if present.
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID()
		span.ParentID = parent.SpanID()
	} else {
		span.TraceID = t.generateTraceID()
	}

	active := &ActiveSpan{
		span:   span,
		tracer: t,
	}

	t.dispatch(func(h Hooks) { h.OnStart(active) })

	return active.Context(ctx), active
}

// endSpan is called once by ActiveSpan.Finish.
func (t *Tracer) endSpan(span *ActiveSpan) {
	t.dispatch(func(h Hooks) { h.OnEnd(span) })
}

// dispatch calls fn for every registered hook.
func (t *Tracer) dispatch(fn func(Hooks)) {
	t.hooksLock.RLock()
	if len(t.hooks) == 0 {
		t.hooksLock.RUnlock()
		return
	}

	hooks := make([]hookEntry, len(t.hooks))
	copy(hooks, t.hooks)
	t.hooksLock.RUnlock()

	for _, h := range hooks {
		t.safeCall(h, fn)
	}
}

func (t *Tracer) safeCall(entry hookEntry, fn func(Hooks)) {
	defer func() {
		if r := recover(); r != nil {
			if t.panicHook != nil {
				t.panicHook(entry.id, r)
			}
		}
	}()
	fn(entry.hooks)
}

// Close shuts down the tracer gracefully and cleans up resources.
// Spans still open stay registered with whatever hooks saw them start.
func (t *Tracer) Close() {
	t.hooksLock.Lock()
	t.hooks = nil
	t.hooksLock.Unlock()

	if t.traceIDPool != nil {
		t.traceIDPool.Close()
	}
	if t.spanIDPool != nil {
		t.spanIDPool.Close()
	}
}

func (t *Tracer) generateTraceID() TraceID {
	t.ensureIDPools()
	return t.traceIDPool.Get()
}

func (t *Tracer) generateSpanID() SpanID {
	t.ensureIDPools()
	return t.spanIDPool.Get()
}
