package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/relaywing/relaywing/internal/metrics"
	"github.com/relaywing/relaywing/internal/version"
)

// HandleHealth serves GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Info(),
	})
}

// sinceParam reads the hours query parameter, defaulting to 24.
func sinceParam(r *http.Request) time.Time {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			hours = parsed
		}
	}
	return time.Now().Add(-time.Duration(hours) * time.Hour)
}

// HandleUsage serves GET /api/v1/usage.
func (s *Server) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusNotFound, "not_found_error", "ledger is not configured")
		return
	}
	summary, err := s.ledger.Summary(r.Context(), sinceParam(r))
	if err != nil {
		s.logger.Printf("[ERROR] usage summary failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "api_error", "usage summary unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// HandleUsageByModel serves GET /api/v1/usage/models.
func (s *Server) HandleUsageByModel(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusNotFound, "not_found_error", "ledger is not configured")
		return
	}
	byModel, err := s.ledger.SummaryByModel(r.Context(), sinceParam(r))
	if err != nil {
		s.logger.Printf("[ERROR] usage by model failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "api_error", "usage summary unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(byModel)
}

// HandleUsageRecent serves GET /api/v1/usage/recent.
func (s *Server) HandleUsageRecent(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusNotFound, "not_found_error", "ledger is not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.ledger.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Printf("[ERROR] recent usage failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "api_error", "usage listing unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// HandleMetrics serves GET /api/v1/metrics as JSON.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeError(w, http.StatusNotFound, "not_found_error", "metrics are not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.metrics.GetSnapshot())
}

// HandleMetricsPrometheus serves GET /api/v1/metrics/prometheus in text
// exposition format.
func (s *Server) HandleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.metrics.GetSnapshot())))
}
