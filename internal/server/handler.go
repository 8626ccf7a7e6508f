// internal/server/handler.go
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/forensiq/forensiq/internal/analysis"
	"github.com/forensiq/forensiq/internal/monitor"
	"github.com/forensiq/forensiq/internal/pattern"
	"github.com/forensiq/forensiq/internal/store"
)

// AnalyzeRequest is the POST /api/v1/analyze payload
type AnalyzeRequest struct {
	Logs          string `json:"logs"`
	EnhanceWithAI bool   `json:"enhance_with_ai"`
	MaxResults    int    `json:"max_results"`
}

// AnalyzeHandler runs ad-hoc analyses over submitted log text
type AnalyzeHandler struct {
	analyzer        monitor.Analyzer
	learner         *pattern.Learner
	db              ReportStore
	apiKey          string
	maxPayloadBytes int64
}

// ReportStore is the persistence surface the handlers need
type ReportStore interface {
	InsertReport(r *analysis.Report, sessionID, severityLevel string) error
}

// NewAnalyzeHandler creates the analyze handler
func NewAnalyzeHandler(analyzer monitor.Analyzer, learner *pattern.Learner, db ReportStore, apiKey string, maxPayloadBytes int64) *AnalyzeHandler {
	return &AnalyzeHandler{
		analyzer:        analyzer,
		learner:         learner,
		db:              db,
		apiKey:          apiKey,
		maxPayloadBytes: maxPayloadBytes,
	}
}

func (h *AnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorized(r, h.apiKey) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if r.ContentLength > h.maxPayloadBytes {
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxPayloadBytes+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.maxPayloadBytes {
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	var req AnalyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Logs) == "" {
		http.Error(w, "No log content provided", http.StatusBadRequest)
		return
	}

	report, err := h.analyzer.Analyze(r.Context(), req.Logs, analysis.Options{
		MaxResults: req.MaxResults,
		Enhance:    req.EnhanceWithAI,
	})
	if err != nil {
		// A failed summary means no meaningful partial result exists.
		// Surface the failure instead of a silent empty report.
		if errors.Is(err, analysis.ErrEmptySummary) {
			http.Error(w, "Analysis failed: no summary generated", http.StatusBadGateway)
		} else {
			log.Printf("Analysis error: %v", err)
			http.Error(w, "Analysis failed", http.StatusBadGateway)
		}
		return
	}

	tc := h.learner.Analyze(req.Logs)
	if err := h.db.InsertReport(report, "", tc.SeverityLevel); err != nil {
		log.Printf("DB error: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		*analysis.Report
		SeverityLevel string  `json:"severity_level"`
		SeverityScore float64 `json:"severity_score"`
	}{report, tc.SeverityLevel, tc.SeverityScore})
}

// ReportsHandler serves recent stored reports
type ReportsHandler struct {
	db     ReportLister
	apiKey string
}

// ReportLister queries stored reports
type ReportLister interface {
	RecentReports(limit int) ([]store.StoredReport, error)
}

// NewReportsHandler creates the reports listing handler
func NewReportsHandler(db ReportLister, apiKey string) *ReportsHandler {
	return &ReportsHandler{db: db, apiKey: apiKey}
}

func (h *ReportsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !authorized(r, h.apiKey) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	reports, err := h.db.RecentReports(limit)
	if err != nil {
		log.Printf("DB error: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reports)
}

func authorized(r *http.Request, apiKey string) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == apiKey
}
