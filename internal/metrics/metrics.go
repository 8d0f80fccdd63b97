package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxzi/pacer/internal/campaign"
)

// Metrics holds all Prometheus metrics for pacer
type Metrics struct {
	// Campaign counters
	LogEntriesTotal  *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec

	// Campaign gauges
	CampaignPosition   prometheus.Gauge
	CampaignRecipients prometheus.Gauge
	CampaignState      *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		LogEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_log_entries_total",
				Help: "Total number of campaign log entries recorded",
			},
			[]string{"tag"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_transitions_total",
				Help: "Total number of controller state transitions by target state",
			},
			[]string{"to"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_runs_total",
				Help: "Total number of ended campaign runs",
			},
			[]string{"result"},
		),

		CampaignPosition: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_campaign_position",
				Help: "Index of the recipient currently being processed",
			},
		),
		CampaignRecipients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_campaign_recipients",
				Help: "Number of recipients in the current campaign",
			},
		),
		CampaignState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pacer_campaign_state",
				Help: "Current controller state (1 for the active state, 0 otherwise)",
			},
			[]string{"state"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pacer_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_storage_used_bytes",
				Help: "Run archive file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.LogEntriesTotal,
		m.TransitionsTotal,
		m.RunsTotal,
		m.CampaignPosition,
		m.CampaignRecipients,
		m.CampaignState,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	m.SetState(campaign.StateStopped)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetState marks s as the current controller state
func (m *Metrics) SetState(s campaign.State) {
	for _, st := range campaign.AllStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.CampaignState.WithLabelValues(st.String()).Set(v)
	}
}

// SetProgress updates the campaign gauges
func (m *Metrics) SetProgress(p campaign.Progress) {
	m.SetState(p.State)
	m.CampaignPosition.Set(float64(p.Position))
	m.CampaignRecipients.Set(float64(p.Total))
}
