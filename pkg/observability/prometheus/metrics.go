package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "blockflow"

// DefaultRegistry is the registry the package-level handlers expose.
var DefaultRegistry = prometheus.NewRegistry()

// Metrics holds the collectors the block host updates.
type Metrics struct {
	SignalsIn          *prometheus.CounterVec
	SignalsOut         *prometheus.CounterVec
	ProcessErrors      *prometheus.CounterVec
	UndeliveredSignals *prometheus.CounterVec
	BlockState         *prometheus.GaugeVec
	DeliveryDuration   *prometheus.HistogramVec
}

// NewMetrics creates the block host collectors and registers them with reg.
// A nil reg registers with DefaultRegistry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = DefaultRegistry
	}

	m := &Metrics{
		SignalsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_in_total",
			Help:      "Signals delivered to a block input.",
		}, []string{"block", "input"}),
		SignalsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_out_total",
			Help:      "Signals emitted on a block output.",
		}, []string{"block", "output"}),
		ProcessErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_errors_total",
			Help:      "ProcessSignals calls that returned an error or panicked.",
		}, []string{"block"}),
		UndeliveredSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undelivered_signals_total",
			Help:      "Signals emitted on an output with no links, or dropped under backpressure.",
		}, []string{"block", "output"}),
		BlockState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_state",
			Help:      "1 for the lifecycle state a block is in, 0 otherwise.",
		}, []string{"block", "state"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in ProcessSignals per delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"block"}),
	}

	for _, c := range []prometheus.Collector{
		m.SignalsIn, m.SignalsOut, m.ProcessErrors, m.UndeliveredSignals, m.BlockState, m.DeliveryDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterRuntimeCollectors adds the Go runtime and process collectors to reg.
func RegisterRuntimeCollectors(reg prometheus.Registerer) error {
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	return reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// SetState marks state as the current state of block.
func (m *Metrics) SetState(block string, state string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.BlockState.WithLabelValues(block, s).Set(0)
	}
	m.BlockState.WithLabelValues(block, state).Set(1)
}

// SignalsDelivered counts n signals delivered to block's input.
func (m *Metrics) SignalsDelivered(block, input string, n int) {
	if m == nil {
		return
	}
	m.SignalsIn.WithLabelValues(block, input).Add(float64(n))
}

// SignalsEmitted counts n signals emitted on block's output.
func (m *Metrics) SignalsEmitted(block, output string, n int) {
	if m == nil {
		return
	}
	m.SignalsOut.WithLabelValues(block, output).Add(float64(n))
}

// Undelivered counts n signals that reached no downstream block.
func (m *Metrics) Undelivered(block, output string, n int) {
	if m == nil {
		return
	}
	m.UndeliveredSignals.WithLabelValues(block, output).Add(float64(n))
}

// ProcessFailed counts a failed ProcessSignals call.
func (m *Metrics) ProcessFailed(block string) {
	if m == nil {
		return
	}
	m.ProcessErrors.WithLabelValues(block).Inc()
}

// ObserveDelivery records how long a ProcessSignals call took.
func (m *Metrics) ObserveDelivery(block string, seconds float64) {
	if m == nil {
		return
	}
	m.DeliveryDuration.WithLabelValues(block).Observe(seconds)
}
