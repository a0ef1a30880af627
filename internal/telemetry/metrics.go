package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector component J (error taxonomy
// & metrics hooks) feeds. It is constructed once at process startup
// and passed by reference to the components that observe it.
type Metrics struct {
	AppendOutcomes    *prometheus.CounterVec
	CommandLatency    *prometheus.HistogramVec
	CommandOutcomes   *prometheus.CounterVec
	ProcessorLag      *prometheus.GaugeVec
	ProcessorEmptyPolls *prometheus.CounterVec
	ProcessorBackoffSeconds *prometheus.GaugeVec
	ProcessorErrors   *prometheus.CounterVec
	ProcessorState    *prometheus.GaugeVec
	LeaderHeld        prometheus.Gauge
}

// NewMetrics registers every collector against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		AppendOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dcbengine_append_outcomes_total",
			Help: "Count of AppendIf outcomes by result kind.",
		}, []string{"result"}),
		CommandLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcbengine_command_latency_seconds",
			Help:    "Latency of ExecuteCommand calls by command type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command_type"}),
		CommandOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dcbengine_command_outcomes_total",
			Help: "Count of ExecuteCommand outcomes by command type and result.",
		}, []string{"command_type", "result"}),
		ProcessorLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dcbengine_processor_lag_events",
			Help: "Events committed after a processor's current progress cursor.",
		}, []string{"processor_id"}),
		ProcessorEmptyPolls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dcbengine_processor_empty_polls_total",
			Help: "Count of processor ticks that fetched zero events.",
		}, []string{"processor_id"}),
		ProcessorBackoffSeconds: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dcbengine_processor_backoff_seconds",
			Help: "Current backoff delay applied before a processor's next tick.",
		}, []string{"processor_id"}),
		ProcessorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dcbengine_processor_errors_total",
			Help: "Count of processor tick failures.",
		}, []string{"processor_id"}),
		ProcessorState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dcbengine_processor_state",
			Help: "Processor state as an enum: 0=active 1=paused 2=failed.",
		}, []string{"processor_id"}),
		LeaderHeld: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dcbengine_leader_held",
			Help: "1 if this process currently holds the leader advisory lock, else 0.",
		}),
	}
}

// ObserveCommand records a command's latency and terminal outcome.
func (m *Metrics) ObserveCommand(commandType, result string, d time.Duration) {
	m.CommandLatency.WithLabelValues(commandType).Observe(d.Seconds())
	m.CommandOutcomes.WithLabelValues(commandType, result).Inc()
}

// ObserveAppend records an AppendIf outcome. result is one of
// "committed", "idempotent", "concurrency_violation",
// "idempotency_violation", "invalid_input", "store_unavailable".
func (m *Metrics) ObserveAppend(result string) {
	m.AppendOutcomes.WithLabelValues(result).Inc()
}

// SetProcessorLag records processor_id's current lag in events.
func (m *Metrics) SetProcessorLag(processorID string, lag int64) {
	m.ProcessorLag.WithLabelValues(processorID).Set(float64(lag))
}

// ObserveEmptyPoll increments processor_id's empty-poll counter.
func (m *Metrics) ObserveEmptyPoll(processorID string) {
	m.ProcessorEmptyPolls.WithLabelValues(processorID).Inc()
}

// SetBackoff records processor_id's current backoff delay.
func (m *Metrics) SetBackoff(processorID string, d time.Duration) {
	m.ProcessorBackoffSeconds.WithLabelValues(processorID).Set(d.Seconds())
}

// ObserveProcessorError increments processor_id's error counter.
func (m *Metrics) ObserveProcessorError(processorID string) {
	m.ProcessorErrors.WithLabelValues(processorID).Inc()
}

// ProcessorState enum values recorded via SetProcessorState.
const (
	ProcessorStateActive = 0
	ProcessorStatePaused = 1
	ProcessorStateFailed = 2
)

// SetProcessorState records processor_id's current lifecycle state.
func (m *Metrics) SetProcessorState(processorID string, state float64) {
	m.ProcessorState.WithLabelValues(processorID).Set(state)
}

// SetLeaderHeld records whether this process holds the leader lock.
func (m *Metrics) SetLeaderHeld(held bool) {
	if held {
		m.LeaderHeld.Set(1)
		return
	}
	m.LeaderHeld.Set(0)
}
