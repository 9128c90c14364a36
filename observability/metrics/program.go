package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ProgramMetrics exposes the ledger program's operational telemetry.
type ProgramMetrics struct {
	actionsTotal      *prometheus.CounterVec
	gateRejections    *prometheus.CounterVec
	counterValue      prometheus.Gauge
	leaderboardSize   prometheus.Gauge
	badgesMinted      prometheus.Counter
	streamSubscribers prometheus.Gauge
	eventsPublished   *prometheus.CounterVec
}

var (
	programOnce     sync.Once
	programRegistry *ProgramMetrics
)

// Program returns the process-wide program metrics, registering them on first
// use.
func Program() *ProgramMetrics {
	programOnce.Do(func() {
		programRegistry = &ProgramMetrics{
			actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "counter_actions_total",
				Help: "Count of accepted mutating calls by operation.",
			}, []string{"op"}),
			gateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "counter_gate_rejections_total",
				Help: "Count of calls rejected by the access gate, by reason.",
			}, []string{"reason"}),
			counterValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "counter_value",
				Help: "Current value of the shared counter.",
			}),
			leaderboardSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "counter_leaderboard_size",
				Help: "Number of occupied leaderboard slots.",
			}),
			badgesMinted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "counter_badges_minted_total",
				Help: "Count of badge tokens minted.",
			}),
			streamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "counter_stream_subscribers",
				Help: "Number of live event stream subscribers.",
			}),
			eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "counter_events_published_total",
				Help: "Count of events published to the stream by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			programRegistry.actionsTotal,
			programRegistry.gateRejections,
			programRegistry.counterValue,
			programRegistry.leaderboardSize,
			programRegistry.badgesMinted,
			programRegistry.streamSubscribers,
			programRegistry.eventsPublished,
		)
	})
	return programRegistry
}

// ObserveAction records one accepted mutating call.
func (m *ProgramMetrics) ObserveAction(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.actionsTotal.WithLabelValues(op).Inc()
}

// ObserveGateRejection records one rejected call by gate reason.
func (m *ProgramMetrics) ObserveGateRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.gateRejections.WithLabelValues(reason).Inc()
}

// SetCounterValue mirrors the authoritative counter value.
func (m *ProgramMetrics) SetCounterValue(v uint64) {
	if m == nil {
		return
	}
	m.counterValue.Set(float64(v))
}

// SetLeaderboardSize mirrors the occupied leaderboard slots.
func (m *ProgramMetrics) SetLeaderboardSize(n int) {
	if m == nil {
		return
	}
	m.leaderboardSize.Set(float64(n))
}

// ObserveBadgeMinted records one badge token mint.
func (m *ProgramMetrics) ObserveBadgeMinted() {
	if m == nil {
		return
	}
	m.badgesMinted.Inc()
}

// SetStreamSubscribers mirrors the live subscriber count.
func (m *ProgramMetrics) SetStreamSubscribers(n int) {
	if m == nil {
		return
	}
	m.streamSubscribers.Set(float64(n))
}

// ObserveEventPublished records one published stream event.
func (m *ProgramMetrics) ObserveEventPublished(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}
