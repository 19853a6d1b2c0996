package partialz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instrumentation for a Processor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Ticks           prometheus.Counter
	HeartbeatsSent  prometheus.Counter
	HeartbeatBytes  prometheus.Counter
	EncodeFailures  prometheus.Counter
	EmitFailures    prometheus.Counter
	ReconciledSpans prometheus.Counter
	OpenSpans       prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partialz_ticks_total",
			Help: "Total heartbeat ticks completed",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partialz_heartbeats_emitted_total",
			Help: "Total heartbeats accepted by the sink",
		}),
		HeartbeatBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partialz_heartbeat_bytes_total",
			Help: "Total encoded envelope bytes accepted by the sink",
		}),
		EncodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partialz_encode_failures_total",
			Help: "Total spans that could not be encoded",
		}),
		EmitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partialz_emit_failures_total",
			Help: "Total heartbeats rejected by the sink",
		}),
		ReconciledSpans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partialz_reconciled_spans_total",
			Help: "Total ended spans removed from the open set",
		}),
		OpenSpans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "partialz_open_spans",
			Help: "Open spans seen by the last heartbeat tick",
		}),
	}

	reg.MustRegister(
		m.Ticks,
		m.HeartbeatsSent,
		m.HeartbeatBytes,
		m.EncodeFailures,
		m.EmitFailures,
		m.ReconciledSpans,
		m.OpenSpans,
	)

	return m
}

func (m *Metrics) observeTick(reconciled, open int) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.ReconciledSpans.Add(float64(reconciled))
	m.OpenSpans.Set(float64(open))
}

func (m *Metrics) observeSent(bytes int) {
	if m == nil {
		return
	}
	m.HeartbeatsSent.Inc()
	m.HeartbeatBytes.Add(float64(bytes))
}

func (m *Metrics) observeEncodeFailure() {
	if m == nil {
		return
	}
	m.EncodeFailures.Inc()
}

func (m *Metrics) observeEmitFailure() {
	if m == nil {
		return
	}
	m.EmitFailures.Inc()
}
