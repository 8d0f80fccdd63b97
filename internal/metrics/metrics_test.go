package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/foxzi/pacer/internal/campaign"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("failed to write counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Registry() == nil {
		t.Fatal("Registry() returned nil")
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	// Vectors without observations are not gathered, except the state gauge
	// which New initializes.
	for _, want := range []string{
		"pacer_campaign_position",
		"pacer_campaign_recipients",
		"pacer_campaign_state",
		"pacer_uptime_seconds",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestSetState(t *testing.T) {
	m := New()

	if v := gaugeValue(t, m.CampaignState.WithLabelValues("stopped")); v != 1 {
		t.Errorf("initial stopped = %v, want 1", v)
	}

	m.SetState(campaign.StatePausedSend)

	for _, s := range campaign.AllStates {
		want := 0.0
		if s == campaign.StatePausedSend {
			want = 1
		}
		if v := gaugeValue(t, m.CampaignState.WithLabelValues(s.String())); v != want {
			t.Errorf("state %s = %v, want %v", s, v, want)
		}
	}
}

func TestSetProgress(t *testing.T) {
	m := New()

	m.SetProgress(campaign.Progress{
		State:    campaign.StateRunningSend,
		Position: 3,
		Total:    10,
	})

	if v := gaugeValue(t, m.CampaignPosition); v != 3 {
		t.Errorf("position = %v, want 3", v)
	}
	if v := gaugeValue(t, m.CampaignRecipients); v != 10 {
		t.Errorf("recipients = %v, want 10", v)
	}
	if v := gaugeValue(t, m.CampaignState.WithLabelValues(campaign.StateRunningSend.String())); v != 1 {
		t.Errorf("running send state = %v, want 1", v)
	}
}
