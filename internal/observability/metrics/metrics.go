package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for search and booking flows.
type SchedulingMetrics struct {
	backendRequests   *prometheus.CounterVec
	backendLatency    *prometheus.HistogramVec
	searchTotal       *prometheus.CounterVec
	searchResults     *prometheus.HistogramVec
	searchLatency     *prometheus.HistogramVec
	bookingAttempts   *prometheus.CounterVec
	verificationSteps *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Scheduling backend calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Latency of scheduling backend calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "scheduling",
			Name:      "searches_total",
			Help:      "Smart searches by mode and whether any itinerary was found",
		}, []string{"mode", "found"}),
		searchResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "scheduling",
			Name:      "search_results",
			Help:      "Itineraries returned per smart search",
			Buckets:   []float64{0, 1, 2, 5, 10},
		}, []string{"mode"}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "scheduling",
			Name:      "search_duration_seconds",
			Help:      "End-to-end latency of a smart search, fetch included",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"mode"}),
		bookingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "slot_attempts_total",
			Help:      "Slot confirmations by outcome",
		}, []string{"outcome"}),
		verificationSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "verification_steps_total",
			Help:      "Phone verification steps",
		}, []string{"step"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.backendRequests, m.backendLatency,
		m.searchTotal, m.searchResults, m.searchLatency,
		m.bookingAttempts, m.verificationSteps,
	)
	return m
}

func (m *SchedulingMetrics) ObserveBackendRequest(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(endpoint, outcome).Inc()
	m.backendLatency.WithLabelValues(endpoint).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveSearch(mode string, results int, seconds float64) {
	if m == nil {
		return
	}
	found := "false"
	if results > 0 {
		found = "true"
	}
	m.searchTotal.WithLabelValues(mode, found).Inc()
	m.searchResults.WithLabelValues(mode).Observe(float64(results))
	m.searchLatency.WithLabelValues(mode).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveBookingAttempt(outcome string) {
	if m == nil {
		return
	}
	m.bookingAttempts.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveVerification(step string) {
	if m == nil {
		return
	}
	m.verificationSteps.WithLabelValues(step).Inc()
}
