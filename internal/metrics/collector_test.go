package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/pacer/internal/campaign"
)

func openTestDB(t *testing.T, path string) *bolt.DB {
	t.Helper()

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func TestNewCollectorWithoutDB(t *testing.T) {
	c, err := NewCollector(nil, New(), "", 0)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.Start(context.Background())
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestCollectorPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacer.db")
	db := openTestDB(t, path)

	c, err := NewCollector(db, New(), path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	c.OnEntry(campaign.Entry{Tag: campaign.TagSuccess})
	c.OnEntry(campaign.Entry{Tag: campaign.TagSuccess})
	c.OnEntry(campaign.Entry{Tag: campaign.TagInfo})
	c.OnRunEnd(campaign.RunSummary{Status: campaign.StatusFinished})
	c.TrackAPIRequest("POST", "/api/v1/campaign/start", "202")

	if err := c.Stop(); err != nil {
		t.Errorf("Failed to stop collector: %v", err)
	}
	db.Close()

	db2 := openTestDB(t, path)
	defer db2.Close()

	m2 := New()
	c2, err := NewCollector(db2, m2, path, 10*time.Second)
	if err != nil {
		t.Fatalf("Failed to recreate collector: %v", err)
	}
	defer c2.Stop()

	if c2.shadow.LogEntries["SUCCESS"] != 2 {
		t.Errorf("LogEntries[SUCCESS] = %v, want 2", c2.shadow.LogEntries["SUCCESS"])
	}
	if v := counterValue(t, m2.RunsTotal.WithLabelValues("finished")); v != 1 {
		t.Errorf("runs_total{finished} = %v, want 1", v)
	}
	if v := counterValue(t, m2.APIRequestsTotal.WithLabelValues("POST", "/api/v1/campaign/start", "202")); v != 1 {
		t.Errorf("api_requests_total = %v, want 1", v)
	}
}

type frozenClock struct{}

type frozenTimer struct{}

func (frozenTimer) Stop() bool { return true }

func (frozenClock) Now() time.Time { return time.Unix(0, 0) }

func (frozenClock) AfterFunc(time.Duration, func()) campaign.Timer { return frozenTimer{} }

func TestCollectorObservesController(t *testing.T) {
	m := New()
	c, err := NewCollector(nil, m, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	ctrl := campaign.NewController(campaign.Options{Clock: frozenClock{}, Observers: []campaign.Observer{c}})
	err = ctrl.Start(campaign.Config{
		Template1:       campaign.Template{Body: "hello"},
		Recipients:      []string{"+15550000000", "+15550000001", "+15550000002"},
		DelayBetween:    60,
		SendActionDelay: 60,
	})
	if err != nil {
		t.Fatal(err)
	}

	if v := gaugeValue(t, m.CampaignRecipients); v != 3 {
		t.Errorf("recipients = %v, want 3", v)
	}
	if v := gaugeValue(t, m.CampaignState.WithLabelValues("running_next")); v != 1 {
		t.Errorf("running_next state = %v, want 1", v)
	}

	ctrl.Pause()
	if v := gaugeValue(t, m.CampaignState.WithLabelValues("paused_next")); v != 1 {
		t.Errorf("paused_next state = %v, want 1", v)
	}

	ctrl.Stop()

	if v := gaugeValue(t, m.CampaignState.WithLabelValues("stopped")); v != 1 {
		t.Errorf("stopped state = %v, want 1", v)
	}
	if v := counterValue(t, m.RunsTotal.WithLabelValues("stopped")); v != 1 {
		t.Errorf("runs_total{stopped} = %v, want 1", v)
	}
	// started, paused, stopped
	if v := counterValue(t, m.LogEntriesTotal.WithLabelValues("INFO")); v != 3 {
		t.Errorf("log_entries_total{INFO} = %v, want 3", v)
	}
	if v := counterValue(t, m.TransitionsTotal.WithLabelValues("paused_next")); v != 1 {
		t.Errorf("transitions_total{paused_next} = %v, want 1", v)
	}
}

func TestSplitTripleLabelKey(t *testing.T) {
	tests := []struct {
		key   string
		wantA string
		wantB string
		wantC string
	}{
		{makeTripleLabelKey("GET", "/api", "200"), "GET", "/api", "200"},
		{makeTripleLabelKey("GET", "/a|b", "404"), "GET", "/a|b", "404"},
		{"GET|/api", "GET", "/api", ""},
		{"GET", "GET", "", ""},
	}

	for _, tt := range tests {
		a, b, c := splitTripleLabelKey(tt.key)
		if a != tt.wantA || b != tt.wantB || c != tt.wantC {
			t.Errorf("splitTripleLabelKey(%q) = (%q, %q, %q)", tt.key, a, b, c)
		}
	}
}
