package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/pacer/internal/api"
	"github.com/foxzi/pacer/internal/app"
	"github.com/foxzi/pacer/internal/archive"
	"github.com/foxzi/pacer/internal/campaign"
	"github.com/foxzi/pacer/internal/config"
)

type frozenClock struct{}

type frozenTimer struct{}

func (frozenTimer) Stop() bool { return true }

func (frozenClock) Now() time.Time { return time.Unix(1700000000, 0) }

func (frozenClock) AfterFunc(time.Duration, func()) campaign.Timer { return frozenTimer{} }

func TestServerURLFromListenAddr(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "http://localhost:8080"},
		{"0.0.0.0:8080", "http://localhost:8080"},
		{"127.0.0.1:9000", "http://127.0.0.1:9000"},
		{"[::]:8080", "http://localhost:8080"},
		{"[::1]:8080", "http://[::1]:8080"},
		{"http://pacer.internal:8080/", "http://pacer.internal:8080"},
		{"pacer.internal", "http://pacer.internal"},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := serverURLFromListenAddr(tt.addr); got != tt.want {
				t.Errorf("serverURLFromListenAddr(%q) = %q, want %q", tt.addr, got, tt.want)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"sure\n", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tt.input), &out, "Start?")
		if err != nil {
			t.Fatalf("confirm(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Start? [y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestEntryPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newEntryPrinter(&buf)

	p.OnEntry(campaign.Entry{
		Timestamp: time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC),
		Message:   "Message sent to +15550000001",
		Tag:       campaign.TagSuccess,
	})
	if !strings.Contains(buf.String(), "09:30:15  SUCCESS  Message sent to +15550000001") {
		t.Errorf("output = %q", buf.String())
	}

	p.OnRunEnd(campaign.RunSummary{})
	p.OnRunEnd(campaign.RunSummary{})

	select {
	case <-p.done:
	default:
		t.Error("done not closed after OnRunEnd")
	}
}

func TestGenerateConfig(t *testing.T) {
	dir := t.TempDir()

	initAPIKey = "testapikey"
	initDataDir = filepath.Join(dir, "data")
	initMetrics = true

	campaignPath := filepath.Join(dir, "campaign.yaml")
	if err := os.WriteFile(campaignPath, []byte(generateCampaign()), 0644); err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "pacer.yaml")
	if err := os.WriteFile(cfgPath, []byte(generateConfig(campaignPath)), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.API.APIKey != "testapikey" {
		t.Errorf("api_key = %q", cfg.API.APIKey)
	}
	if !cfg.Metrics.Enabled || len(cfg.Metrics.AllowedIPs) != 2 {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	if cfg.Storage.Path != filepath.Join(dir, "data", "pacer.db") {
		t.Errorf("storage.path = %q", cfg.Storage.Path)
	}

	camp, err := app.LoadCampaign(cfg.Campaign.File, "", 0)
	if err != nil {
		t.Fatalf("generated campaign does not load: %v", err)
	}
	if err := camp.Validate(); err != nil {
		t.Errorf("generated campaign is invalid: %v", err)
	}
}

func TestGenerateRandomString(t *testing.T) {
	for _, length := range []int{8, 16, 32} {
		if got := generateRandomString(length); len(got) != length {
			t.Errorf("generateRandomString(%d) length = %d", length, len(got))
		}
	}
	if generateRandomString(32) == generateRandomString(32) {
		t.Error("generateRandomString should generate unique strings")
	}
}

func TestPrintLog(t *testing.T) {
	delivered := campaign.DeliveryDelivered
	resp := &api.LogResponse{
		Total: 5,
		Entries: []campaign.Entry{
			{Message: "Campaign stopped by user", Tag: campaign.TagInfo},
			{
				Message: "Message sent to +15550000001",
				Tag:     campaign.TagSuccess,
				Details: &campaign.Details{Recipient: "+15550000001", DeliveryStatus: &delivered},
			},
		},
	}

	var buf bytes.Buffer
	printLog(&buf, resp)
	out := buf.String()

	for _, want := range []string{"INDEX", "Delivered", "Campaign stopped by user", "2 of 5 entries shown"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printLog(&buf, &api.LogResponse{})
	if !strings.Contains(buf.String(), "Log is empty") {
		t.Errorf("empty output = %q", buf.String())
	}
}

func TestPrintRuns(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	run := &archive.Run{
		ID:        "run-1",
		StartedAt: started,
		EndedAt:   started.Add(90 * time.Second),
		Status:    campaign.StatusFinished,
		Position:  2,
		Total:     2,
		Entries: []campaign.Entry{
			{Message: "Campaign finished", Tag: campaign.TagInfo},
			{Message: "Message sent to +15550000002", Tag: campaign.TagSuccess},
			{Message: "Skipped +15550000001", Tag: campaign.TagSkipped},
		},
	}

	var buf bytes.Buffer
	printRuns(&buf, []*archive.Run{run})
	out := buf.String()
	for _, want := range []string{"run-1", "finished", "2/2", "1m30s", "Total: 1 runs"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printRun(&buf, run)
	out = buf.String()
	for _, want := range []string{"Run: run-1", "SKIPPED", "Campaign finished"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestCampaignCommands(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := campaign.NewController(campaign.Options{Clock: frozenClock{}})
	server := api.NewServer(ctrl, &config.APIConfig{APIKey: "k"}, logger, api.Options{Version: "test"})

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	dir := t.TempDir()
	campaignPath := filepath.Join(dir, "campaign.yaml")
	if err := os.WriteFile(campaignPath, []byte(generateCampaign()), 0644); err != nil {
		t.Fatal(err)
	}

	execute := func(args ...string) (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append(args, "--server", ts.URL, "--api-key", "k"))
		err := rootCmd.Execute()
		return out.String(), err
	}
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	out, err := execute("campaign", "start", campaignPath)
	if err != nil {
		t.Fatalf("campaign start: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Progress:  0/3") {
		t.Errorf("start output = %q", out)
	}

	if out, err = execute("campaign", "pause"); err != nil || !strings.Contains(out, "Status:    paused") {
		t.Errorf("campaign pause = %q, %v", out, err)
	}

	if _, err = execute("campaign", "skip"); err == nil {
		t.Error("campaign skip while paused returned nil error")
	}

	if out, err = execute("campaign", "stop"); err != nil || !strings.Contains(out, "Status:    stopped") {
		t.Errorf("campaign stop = %q, %v", out, err)
	}

	out, err = execute("campaign", "log", "--limit", "0")
	if err != nil {
		t.Fatalf("campaign log: %v", err)
	}
	if !strings.Contains(out, "Campaign stopped by user") {
		t.Errorf("log output = %q", out)
	}

	if ctrl.Progress().State != campaign.StateStopped {
		t.Errorf("controller state = %v", ctrl.Progress().State)
	}
}
