package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/pacer/internal/api"
	"github.com/foxzi/pacer/internal/archive"
	"github.com/foxzi/pacer/internal/campaign"
	"github.com/foxzi/pacer/internal/config"
)

type frozenClock struct{}

type frozenTimer struct{}

func (frozenTimer) Stop() bool { return true }

func (frozenClock) Now() time.Time { return time.Unix(1700000000, 0) }

func (frozenClock) AfterFunc(time.Duration, func()) campaign.Timer { return frozenTimer{} }

func setupTestAPI(t *testing.T, apiKey string) (*Client, *campaign.Controller) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := archive.Open(filepath.Join(t.TempDir(), "runs.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctrl := campaign.NewController(campaign.Options{
		Clock:     frozenClock{},
		Observers: []campaign.Observer{archive.NewObserver(store, logger)},
	})

	server := api.NewServer(ctrl, &config.APIConfig{APIKey: apiKey}, logger, api.Options{
		Runs:    store,
		Version: "test",
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return NewClient(ts.URL+"/", apiKey), ctrl
}

func testCampaign() campaign.Config {
	return campaign.Config{
		Template1:       campaign.Template{Body: "Hello"},
		Recipients:      []string{"+15550000001", "+15550000002"},
		DelayBetween:    30,
		SendActionDelay: 5,
	}
}

func TestClientHealth(t *testing.T) {
	c, _ := setupTestAPI(t, "k")

	resp, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if resp.Status != "ok" || !resp.Archive {
		t.Errorf("Health() = %+v", resp)
	}
}

func TestClientCampaignLifecycle(t *testing.T) {
	c, _ := setupTestAPI(t, "k")
	ctx := context.Background()

	p, err := c.Start(ctx, &api.StartRequest{Config: testCampaign()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if p.State != campaign.StateRunningNext || p.Total != 2 {
		t.Errorf("Start() = %+v", p)
	}

	if p, err = c.Pause(ctx); err != nil || p.State != campaign.StatePausedNext {
		t.Fatalf("Pause() = %+v, %v", p, err)
	}
	if p, err = c.Resume(ctx); err != nil || p.State != campaign.StateRunningNext {
		t.Fatalf("Resume() = %+v, %v", p, err)
	}

	_, err = c.Skip(ctx)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Errorf("Skip() error = %v, want 409", err)
	}

	if p, err = c.Progress(ctx); err != nil || p.LogEntries != 3 {
		t.Fatalf("Progress() = %+v, %v", p, err)
	}

	runID := p.RunID
	if _, err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	log, err := c.Log(ctx, 2)
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if log.Total != 4 || len(log.Entries) != 2 || log.Entries[0].Message != "Campaign stopped by user" {
		t.Errorf("Log() = %+v", log)
	}

	runs, err := c.ListRuns(ctx, campaign.StatusStopped, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs.Runs) != 1 || runs.Runs[0].ID != runID {
		t.Fatalf("ListRuns() = %+v", runs)
	}

	run, err := c.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if len(run.Entries) != 4 {
		t.Errorf("GetRun() entries = %d, want 4", len(run.Entries))
	}

	if err := c.DeleteRun(ctx, runID); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := c.GetRun(ctx, runID); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("GetRun() after delete error = %v, want 404", err)
	}
}

func TestClientValidationError(t *testing.T) {
	c, _ := setupTestAPI(t, "")

	cfg := testCampaign()
	cfg.Recipients = nil

	_, err := c.Start(context.Background(), &api.StartRequest{Config: cfg})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Start() error = %v, want *Error", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Fields["recipients"] == "" {
		t.Errorf("error = %+v", apiErr)
	}
}

func TestClientMarkDelivery(t *testing.T) {
	c, ctrl := setupTestAPI(t, "")

	pending := campaign.DeliveryPending
	ctrl.Recorder().Append(campaign.Entry{
		Message: "Message sent to +15550000001",
		Tag:     campaign.TagSuccess,
		Details: &campaign.Details{Recipient: "+15550000001", DeliveryStatus: &pending},
	})

	if err := c.MarkDelivery(context.Background(), 0, campaign.DeliveryDelivered); err != nil {
		t.Fatalf("MarkDelivery() error = %v", err)
	}

	e, _ := ctrl.Recorder().Get(0)
	if *e.Details.DeliveryStatus != campaign.DeliveryDelivered {
		t.Errorf("delivery status = %v", *e.Details.DeliveryStatus)
	}

	if err := c.MarkDelivery(context.Background(), 5, campaign.DeliveryRead); err == nil {
		t.Error("MarkDelivery() out of range returned nil error")
	}
}

func TestClientUnauthorized(t *testing.T) {
	c, _ := setupTestAPI(t, "secret")
	c.apiKey = "wrong"

	_, err := c.Progress(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Progress() error = %v, want 401", err)
	}
}
