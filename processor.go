package partialz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/zoobzio/clockz"
)

var (
	// ErrAlreadyStarted is returned by Start on a running processor.
	ErrAlreadyStarted = errors.New("processor already started")

	// ErrStopped is returned by Start after Shutdown.
	ErrStopped = errors.New("processor stopped")

	// ErrNilSink is returned by NewProcessor without a sink.
	ErrNilSink = errors.New("sink cannot be nil")
)

// Option configures a Processor.
type Option func(*Processor)

// WithClock sets the clock driving the heartbeat period.
func WithClock(clock clockz.Clock) Option {
	return func(p *Processor) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets the logger for lifecycle and failure messages.
func WithLogger(logger log.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics the processor records into.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithRegistry shares reg instead of creating a private registry.
func WithRegistry(reg *Registry) Option {
	return func(p *Processor) {
		if reg != nil {
			p.registry = reg
		}
	}
}

// Processor tracks open spans and emits a heartbeat for each of them on
// every tick. It implements Hooks.
//
// A processor is Running between Start and Shutdown (or cancellation of the
// Start context) and Stopped afterwards; Stopped is terminal.
//
//nolint:govet // Field order optimized for functionality over memory
type Processor struct {
	registry        *Registry
	encoder         *Encoder
	sink            Sink
	clock           clockz.Clock
	logger          log.Logger
	metrics         *Metrics
	attrs           []Attribute
	frequency       string
	delay           time.Duration
	exporterTimeout time.Duration
	trigger         chan struct{}
	shutdown        chan struct{}
	done            chan struct{}
	cancel          context.CancelFunc
	mu              sync.Mutex // Protects cancel.
	shutdownOnce    sync.Once
	started         atomic.Bool
}

// NewProcessor creates a processor emitting to sink. Zero fields in cfg take
// their defaults. The heartbeat loop does not run until Start.
func NewProcessor(cfg Config, sink Sink, opts ...Option) (*Processor, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		registry:        NewRegistry(),
		encoder:         NewEncoder(cfg.ServiceName),
		sink:            sink,
		clock:           clockz.RealClock,
		logger:          log.NewNopLogger(),
		delay:           cfg.ScheduledDelay,
		exporterTimeout: cfg.ExporterTimeout,
		trigger:         make(chan struct{}, 1),
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	p.frequency = cfg.Frequency()
	p.attrs = []Attribute{
		{Key: AttrSpanType, Value: SpanTypePartial},
		{Key: AttrPartialEvent, Value: PartialEventHeartbeat},
		{Key: AttrPartialFrequency, Value: p.frequency},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// OnStart registers entity as an open span. Entities that are not a
// SpanReader are ignored.
func (p *Processor) OnStart(entity any) {
	ref, ok := entity.(SpanReader)
	if !ok {
		return
	}
	id := ref.SpanID()
	p.registry.Register(id, ref)
	level.Debug(p.logger).Log("msg", "span started", "span_id", id.String())
}

// OnEnd queues entity for removal at the next tick. Entities that are not a
// SpanReader are ignored.
func (p *Processor) OnEnd(entity any) {
	ref, ok := entity.(SpanReader)
	if !ok {
		return
	}
	id := ref.SpanID()
	p.registry.MarkEnded(id, ref)
	level.Debug(p.logger).Log("msg", "span ended", "span_id", id.String())
}

// Start launches the heartbeat loop. Cancelling ctx stops the loop the same
// way Shutdown does.
func (p *Processor) Start(ctx context.Context) error {
	if p.isShutdown() {
		return ErrStopped
	}
	if !p.started.CompareAndSwap(false, true) {
		if p.isShutdown() {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(runCtx)
	return nil
}

// Trigger requests an immediate tick. Signals that arrive while a tick is
// running collapse into a single extra tick.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Shutdown stops the heartbeat loop. It does not wait for a tick in
// progress; use Done for that. Safe to call more than once.
func (p *Processor) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)

		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()

		// Never started: nothing will close done.
		if p.started.CompareAndSwap(false, true) {
			close(p.done)
		}
	})
}

// Done is closed once the processor is Stopped.
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// Registry returns the registry backing the processor.
func (p *Processor) Registry() *Registry {
	return p.registry
}

// ScheduledDelay returns the heartbeat period.
func (p *Processor) ScheduledDelay() time.Duration {
	return p.delay
}

// ExporterTimeout returns the configured exporter timeout. It is not applied
// to emissions.
func (p *Processor) ExporterTimeout() time.Duration {
	return p.exporterTimeout
}

func (p *Processor) isShutdown() bool {
	select {
	case <-p.shutdown:
		return true
	default:
		return false
	}
}

// run is the heartbeat loop. It owns removal from the registry.
func (p *Processor) run(ctx context.Context) {
	defer close(p.done)
	// Cancellation of the Start context is a shutdown like any other.
	defer p.Shutdown()

	level.Info(p.logger).Log("msg", "heartbeat loop started", "frequency", p.frequency)
	defer level.Info(p.logger).Log("msg", "heartbeat loop stopped")

	for {
		select {
		case <-p.shutdown:
			return
		case <-ctx.Done():
			return
		case <-p.trigger:
		case <-p.clock.After(p.delay):
		}

		// Shutdown wins over a wake that raced with it.
		select {
		case <-p.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.heartbeat(ctx)
	}
}

// heartbeat runs one tick: reconcile, snapshot, then emit per open span.
func (p *Processor) heartbeat(ctx context.Context) {
	removed := p.registry.Reconcile()
	open := p.registry.SnapshotOpen()

	for _, ref := range open {
		p.emit(ctx, ref)
	}

	p.metrics.observeTick(removed, len(open))
}

// emit encodes and sends one span. Failures, including panics from the
// span reader or the sink, stay local to this span.
func (p *Processor) emit(ctx context.Context, ref SpanReader) {
	var id SpanID
	defer func() {
		if r := recover(); r != nil {
			p.metrics.observeEmitFailure()
			level.Warn(p.logger).Log("msg", "heartbeat panicked", "span_id", id.String(), "err", fmt.Sprint(r))
		}
	}()

	id = ref.SpanID()
	span := ref.ReadSpan()
	payload, err := p.encoder.Encode(span)
	if err != nil {
		p.metrics.observeEncodeFailure()
		level.Warn(p.logger).Log("msg", "failed to encode heartbeat", "span_id", id.String(), "err", err)
		return
	}

	hb := Heartbeat{
		Attributes: append([]Attribute(nil), p.attrs...),
		Payload:    payload,
		TraceID:    span.TraceID,
		SpanID:     span.SpanID,
		Name:       span.Name,
	}
	if err := p.sink.Emit(ctx, hb); err != nil {
		p.metrics.observeEmitFailure()
		level.Warn(p.logger).Log("msg", "failed to emit heartbeat", "span_id", id.String(), "err", err)
		return
	}
	p.metrics.observeSent(len(payload))
}
