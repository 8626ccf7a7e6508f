// internal/store/db.go
package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forensiq/forensiq/internal/analysis"
	"github.com/forensiq/forensiq/internal/search"
)

// Session states
const (
	StatusActive  = "active"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// Session tracks one continuous-monitoring run
type Session struct {
	SessionID       string    `json:"session_id"`
	Sources         []string  `json:"sources"`
	IntervalSeconds int       `json:"interval_seconds"`
	Status          string    `json:"status"`
	TotalAnalyses   int       `json:"total_analyses"`
	StartedAt       time.Time `json:"started_at"`
	LastAnalysis    time.Time `json:"last_analysis,omitempty"`
}

// StoredReport is a persisted analysis report with its storage context
type StoredReport struct {
	analysis.Report
	SessionID     string    `json:"session_id,omitempty"`
	SeverityLevel string    `json:"severity_level,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DB wraps the SQLite connection
type DB struct {
	db *sql.DB
}

// NewDB opens or creates the SQLite database
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id TEXT NOT NULL UNIQUE,
		session_id TEXT,
		timestamp TEXT NOT NULL,
		summary TEXT NOT NULL,
		matched_techniques TEXT,
		enhanced_analysis TEXT,
		extracted_iocs TEXT,
		confidence_score REAL,
		severity_level TEXT,
		processing_time_ms INTEGER,
		created_at TEXT DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_reports_session ON reports(session_id);
	CREATE INDEX IF NOT EXISTS idx_reports_severity ON reports(severity_level);
	CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		sources TEXT NOT NULL,
		interval_seconds INTEGER NOT NULL,
		status TEXT NOT NULL,
		total_analyses INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		last_analysis TEXT
	);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertReport persists an analysis report. sessionID and severityLevel
// may be empty for ad-hoc analyses.
func (d *DB) InsertReport(r *analysis.Report, sessionID, severityLevel string) error {
	techniquesJSON, err := json.Marshal(r.MatchedTechniques)
	if err != nil {
		return err
	}
	iocsJSON, err := json.Marshal(r.ExtractedIOCs)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		INSERT INTO reports (report_id, session_id, timestamp, summary, matched_techniques,
			enhanced_analysis, extracted_iocs, confidence_score, severity_level, processing_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ReportID, sessionID, r.Timestamp.Format(time.RFC3339), r.Summary, string(techniquesJSON),
		r.EnhancedAnalysis, string(iocsJSON), r.ConfidenceScore, severityLevel, r.ProcessingTimeMs)

	return err
}

// RecentReports returns the most recent reports
func (d *DB) RecentReports(limit int) ([]StoredReport, error) {
	rows, err := d.db.Query(`
		SELECT report_id, session_id, timestamp, summary, matched_techniques,
			enhanced_analysis, extracted_iocs, confidence_score, severity_level,
			processing_time_ms, created_at
		FROM reports
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReports(rows)
}

// ReportsBySession returns reports for one monitoring session
func (d *DB) ReportsBySession(sessionID string, limit int) ([]StoredReport, error) {
	rows, err := d.db.Query(`
		SELECT report_id, session_id, timestamp, summary, matched_techniques,
			enhanced_analysis, extracted_iocs, confidence_score, severity_level,
			processing_time_ms, created_at
		FROM reports
		WHERE session_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReports(rows)
}

// SeverityCounts returns report counts grouped by severity level
func (d *DB) SeverityCounts() (map[string]int, error) {
	rows, err := d.db.Query(`
		SELECT severity_level, COUNT(*) FROM reports GROUP BY severity_level
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var level sql.NullString
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		key := level.String
		if key == "" {
			key = "unscored"
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// CreateSession inserts a new monitoring session
func (d *DB) CreateSession(s *Session) error {
	_, err := d.db.Exec(`
		INSERT INTO sessions (session_id, sources, interval_seconds, status, total_analyses, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.SessionID, strings.Join(s.Sources, ","), s.IntervalSeconds, s.Status,
		s.TotalAnalyses, s.StartedAt.Format(time.RFC3339))
	return err
}

// UpdateSession records one completed cycle
func (d *DB) UpdateSession(sessionID string, totalAnalyses, intervalSeconds int, lastAnalysis time.Time) error {
	_, err := d.db.Exec(`
		UPDATE sessions SET total_analyses = ?, interval_seconds = ?, last_analysis = ?
		WHERE session_id = ?
	`, totalAnalyses, intervalSeconds, lastAnalysis.Format(time.RFC3339), sessionID)
	return err
}

// CloseSession marks a session terminal. Status is stopped or error.
func (d *DB) CloseSession(sessionID, status string) error {
	_, err := d.db.Exec(`
		UPDATE sessions SET status = ? WHERE session_id = ? AND status = ?
	`, status, sessionID, StatusActive)
	return err
}

// Sessions returns recent sessions, newest first
func (d *DB) Sessions(limit int) ([]Session, error) {
	rows, err := d.db.Query(`
		SELECT session_id, sources, interval_seconds, status, total_analyses, started_at, last_analysis
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var sources, startedStr string
		var lastStr sql.NullString
		if err := rows.Scan(&s.SessionID, &sources, &s.IntervalSeconds, &s.Status,
			&s.TotalAnalyses, &startedStr, &lastStr); err != nil {
			return nil, err
		}
		if sources != "" {
			s.Sources = strings.Split(sources, ",")
		}
		s.StartedAt, _ = time.Parse(time.RFC3339, startedStr)
		if lastStr.Valid {
			s.LastAnalysis, _ = time.Parse(time.RFC3339, lastStr.String)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanReports(rows *sql.Rows) ([]StoredReport, error) {
	var reports []StoredReport
	for rows.Next() {
		var r StoredReport
		var tsStr, createdStr string
		var sessionID, enhanced, severity sql.NullString
		var techniquesJSON, iocsJSON sql.NullString
		var confidence sql.NullFloat64
		var processing sql.NullInt64

		err := rows.Scan(&r.ReportID, &sessionID, &tsStr, &r.Summary, &techniquesJSON,
			&enhanced, &iocsJSON, &confidence, &severity, &processing, &createdStr)
		if err != nil {
			return nil, err
		}

		r.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		r.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdStr)
		r.SessionID = sessionID.String
		r.EnhancedAnalysis = enhanced.String
		r.SeverityLevel = severity.String
		if techniquesJSON.Valid && techniquesJSON.String != "" {
			var matches []search.Match
			json.Unmarshal([]byte(techniquesJSON.String), &matches)
			r.MatchedTechniques = matches
		}
		if iocsJSON.Valid && iocsJSON.String != "" {
			var iocs []analysis.IOC
			json.Unmarshal([]byte(iocsJSON.String), &iocs)
			r.ExtractedIOCs = iocs
		}
		if confidence.Valid {
			r.ConfidenceScore = confidence.Float64
		}
		if processing.Valid {
			r.ProcessingTimeMs = processing.Int64
		}

		reports = append(reports, r)
	}
	return reports, rows.Err()
}
