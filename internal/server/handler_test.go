// internal/server/handler_test.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/forensiq/forensiq/internal/analysis"
	"github.com/forensiq/forensiq/internal/pattern"
	"github.com/forensiq/forensiq/internal/search"
	"github.com/forensiq/forensiq/internal/store"
)

type fakeAnalyzer struct {
	report *analysis.Report
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, rawLogs string, opts analysis.Options) (*analysis.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fakeReportStore struct {
	inserted  []string
	insertErr error
}

func (f *fakeReportStore) InsertReport(r *analysis.Report, sessionID, severityLevel string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, severityLevel)
	return nil
}

func testReport() *analysis.Report {
	return &analysis.Report{
		ReportID: "r-1",
		Summary:  "suspicious PowerShell activity",
		MatchedTechniques: []search.Match{
			{TechniqueID: "T1059", Name: "Command and Scripting Interpreter", RelevanceScore: 0.82},
		},
		ConfidenceScore: 0.84,
		Timestamp:       time.Now().UTC(),
	}
}

func analyzeRequest(t *testing.T, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	h := NewAnalyzeHandler(&fakeAnalyzer{report: testReport()}, pattern.NewLearner(0), &fakeReportStore{}, "secret", 1<<20)
	h.ServeHTTP(w, req)
	return w
}

func TestAnalyzeUnauthorized(t *testing.T) {
	if w := analyzeRequest(t, `{"logs": "x"}`, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d, want 401", w.Code)
	}
	if w := analyzeRequest(t, `{"logs": "x"}`, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	db := &fakeReportStore{}
	h := NewAnalyzeHandler(&fakeAnalyzer{report: testReport()}, pattern.NewLearner(0), db, "secret", 1<<20)

	body := `{"logs": "CRITICAL Suspicious process execution: powershell -enc payload", "enhance_with_ai": false}`
	req := httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		analysis.Report
		SeverityLevel string  `json:"severity_level"`
		SeverityScore float64 `json:"severity_score"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ReportID != "r-1" {
		t.Errorf("ReportID = %q", resp.ReportID)
	}
	if resp.SeverityLevel != pattern.SeverityCritical {
		t.Errorf("SeverityLevel = %q, want critical", resp.SeverityLevel)
	}
	if len(db.inserted) != 1 || db.inserted[0] != pattern.SeverityCritical {
		t.Errorf("stored severities = %v", db.inserted)
	}
}

func TestAnalyzeEmptyLogs(t *testing.T) {
	if w := analyzeRequest(t, `{"logs": "   "}`, "secret"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAnalyzeInvalidJSON(t *testing.T) {
	if w := analyzeRequest(t, `{broken`, "secret"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAnalyzePayloadTooLarge(t *testing.T) {
	h := NewAnalyzeHandler(&fakeAnalyzer{report: testReport()}, pattern.NewLearner(0), &fakeReportStore{}, "secret", 64)

	body := `{"logs": "` + strings.Repeat("x", 200) + `"}`
	req := httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestAnalyzeEmptySummaryUpstream(t *testing.T) {
	h := NewAnalyzeHandler(&fakeAnalyzer{err: analysis.ErrEmptySummary}, pattern.NewLearner(0), &fakeReportStore{}, "secret", 1<<20)

	req := httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(`{"logs": "content"}`))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no summary generated") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestAnalyzeStorageError(t *testing.T) {
	db := &fakeReportStore{insertErr: errors.New("disk full")}
	h := NewAnalyzeHandler(&fakeAnalyzer{report: testReport()}, pattern.NewLearner(0), db, "secret", 1<<20)

	req := httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(`{"logs": "content"}`))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

type fakeLister struct {
	reports  []store.StoredReport
	gotLimit int
}

func (f *fakeLister) RecentReports(limit int) ([]store.StoredReport, error) {
	f.gotLimit = limit
	return f.reports, nil
}

func TestReportsHandler(t *testing.T) {
	lister := &fakeLister{reports: []store.StoredReport{
		{Report: *testReport(), SeverityLevel: "high"},
	}}
	h := NewReportsHandler(lister, "secret")

	req := httptest.NewRequest("GET", "/api/v1/reports?limit=5", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if lister.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", lister.gotLimit)
	}

	var reports []store.StoredReport
	if err := json.Unmarshal(w.Body.Bytes(), &reports); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reports) != 1 || reports[0].SeverityLevel != "high" {
		t.Errorf("reports = %v", reports)
	}
}

func TestReportsHandlerLimitBounds(t *testing.T) {
	lister := &fakeLister{}
	h := NewReportsHandler(lister, "secret")

	for _, q := range []string{"limit=0", "limit=500", "limit=abc", ""} {
		req := httptest.NewRequest("GET", "/api/v1/reports?"+q, nil)
		req.Header.Set("Authorization", "Bearer secret")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if lister.gotLimit != 20 {
			t.Errorf("query %q: limit = %d, want default 20", q, lister.gotLimit)
		}
	}
}

func TestReportsHandlerUnauthorized(t *testing.T) {
	h := NewReportsHandler(&fakeLister{}, "secret")
	req := httptest.NewRequest("GET", "/api/v1/reports", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
