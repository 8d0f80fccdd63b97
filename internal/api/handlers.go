package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/pacer/internal/archive"
	"github.com/foxzi/pacer/internal/campaign"
	"github.com/foxzi/pacer/internal/recipients"
)

// StartRequest is the request body for POST /campaign/start. An empty body
// starts the server's default campaign.
type StartRequest struct {
	campaign.Config

	// RecipientsCSV replaces Recipients when set (CSV with a phone column
	// or one recipient per line)
	RecipientsCSV string `json:"recipients_csv,omitempty"`
}

// ProgressResponse is the response for campaign control endpoints
type ProgressResponse struct {
	campaign.Progress
	LogEntries int `json:"log_entries"`
}

// LogResponse is the response for GET /campaign/log
type LogResponse struct {
	Total   int              `json:"total"`
	Entries []campaign.Entry `json:"entries"`
}

// MarkRequest is the request body for PATCH /campaign/log/{index}
type MarkRequest struct {
	DeliveryStatus string `json:"delivery_status"`
}

// RunSummary is a run as listed by GET /runs
type RunSummary struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Status    campaign.Status `json:"status"`
	Position  int             `json:"position"`
	Total     int             `json:"total"`
}

// RunsResponse is the response for GET /runs
type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Uptime   string          `json:"uptime"`
	Campaign campaign.Status `json:"campaign"`
	Archive  bool            `json:"archive"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
	State  string            `json:"state,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  s.opts.Version,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Campaign: s.controller.Progress().Status,
		Archive:  s.opts.Runs != nil,
	})
}

// handleStart handles POST /api/v1/campaign/start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	err := s.decodeBody(w, r, &req)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
		return
	case errors.Is(err, io.EOF):
		if s.opts.DefaultCampaign == nil {
			s.sendError(w, http.StatusBadRequest, "Request body is required (no default campaign configured)")
			return
		}
		cfg, err := s.opts.DefaultCampaign()
		if err != nil {
			s.logger.Error("failed to load default campaign", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to load default campaign")
			return
		}
		req.Config = cfg
	case err != nil:
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.RecipientsCSV) != "" {
		list, err := recipients.Parse(strings.NewReader(req.RecipientsCSV), s.opts.MaxRecipients)
		if err != nil {
			s.sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:  "Invalid recipients",
				Fields: map[string]string{"recipients": err.Error()},
			})
			return
		}
		req.Recipients = list
	}

	if err := s.controller.Start(req.Config); err != nil {
		var verr *campaign.ValidationError
		if errors.As(err, &verr) {
			s.sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:  "Invalid campaign configuration",
				Fields: verr.Fields,
			})
			return
		}
		s.logger.Error("failed to start campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to start campaign")
		return
	}

	p := s.controller.Progress()
	s.logger.Info("campaign started via API", "run_id", p.RunID, "recipients", p.Total)
	s.sendJSON(w, http.StatusAccepted, s.progressResponse(p))
}

// handleAction wraps a controller operation that reports whether it applied
func (s *Server) handleAction(name string, op func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !op() {
			state := s.controller.Progress().State
			s.sendJSON(w, http.StatusConflict, ErrorResponse{
				Error: fmt.Sprintf("Cannot %s campaign in state %s", name, state),
				State: state.String(),
			})
			return
		}

		p := s.controller.Progress()
		s.logger.Info("campaign "+name+" via API", "run_id", p.RunID, "state", p.State.String())
		s.sendJSON(w, http.StatusOK, s.progressResponse(p))
	}
}

// handleProgress handles GET /api/v1/campaign
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.progressResponse(s.controller.Progress()))
}

// handleCampaignConfig handles GET /api/v1/campaign/config
func (s *Server) handleCampaignConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.controller.Config()
	if !ok {
		s.sendError(w, http.StatusNotFound, "No campaign has been started")
		return
	}
	s.sendJSON(w, http.StatusOK, cfg)
}

// handleLog handles GET /api/v1/campaign/log
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	entries := s.controller.Log()
	total := len(entries)
	if limit > 0 && limit < total {
		entries = entries[:limit]
	}

	s.sendJSON(w, http.StatusOK, LogResponse{
		Total:   total,
		Entries: entries,
	})
}

// handleMarkDelivery handles PATCH /api/v1/campaign/log/{index}
func (s *Server) handleMarkDelivery(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		s.sendError(w, http.StatusBadRequest, "Invalid index")
		return
	}

	var req MarkRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status, err := campaign.ParseDeliveryStatus(req.DeliveryStatus)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.controller.UpdateDeliveryStatus(index, status) {
		s.sendError(w, http.StatusNotFound, "No message entry at index")
		return
	}

	s.logger.Info("delivery status updated", "index", index, "delivery_status", string(status))
	w.WriteHeader(http.StatusNoContent)
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid offset")
		return
	}
	if limit == 0 {
		limit = 100
	}

	runs, err := s.opts.Runs.List(r.Context(), archive.ListFilter{
		Status: campaign.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	summaries := make([]RunSummary, len(runs))
	for i, run := range runs {
		summaries[i] = RunSummary{
			ID:        run.ID,
			StartedAt: run.StartedAt,
			EndedAt:   run.EndedAt,
			Status:    run.Status,
			Position:  run.Position,
			Total:     run.Total,
		}
	}

	s.sendJSON(w, http.StatusOK, RunsResponse{Runs: summaries})
}

// handleGetRun handles GET /api/v1/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.opts.Runs.Get(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get run", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	s.sendJSON(w, http.StatusOK, run)
}

// handleDeleteRun handles DELETE /api/v1/runs/{id}
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.opts.Runs.Delete(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete run", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	s.logger.Info("run deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) progressResponse(p campaign.Progress) ProgressResponse {
	return ProgressResponse{
		Progress:   p,
		LogEntries: s.controller.Recorder().Len(),
	}
}

// queryInt parses a non-negative integer query parameter; absent means 0
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

// defaultMaxBodyBytes applies when the config leaves max_body_bytes unset
const defaultMaxBodyBytes = 4 << 20

// decodeBody decodes a JSON body capped at the configured size; an
// oversized body yields *http.MaxBytesError.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	limit := s.config.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
