// internal/monitor/loop.go
package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forensiq/forensiq/internal/analysis"
	"github.com/forensiq/forensiq/internal/pattern"
	"github.com/forensiq/forensiq/internal/schedule"
	"github.com/forensiq/forensiq/internal/store"
)

const (
	// MinSleep is a hard floor between cycles so a fast cycle at
	// critical severity cannot tight-loop against external services
	MinSleep = 10 * time.Second
	// DefaultMaxBackoff caps error backoff sleeps
	DefaultMaxBackoff = 5 * time.Minute
	// DefaultMaxConsecutiveErrors stops the loop permanently
	DefaultMaxConsecutiveErrors = 5
	// idleSleep bounds the wait when no new content arrived
	idleSleep = time.Minute
)

// Analyzer runs one analysis over raw log text
type Analyzer interface {
	Analyze(ctx context.Context, rawLogs string, opts analysis.Options) (*analysis.Report, error)
}

// Store persists reports and session state
type Store interface {
	InsertReport(r *analysis.Report, sessionID, severityLevel string) error
	CreateSession(s *store.Session) error
	UpdateSession(sessionID string, totalAnalyses, intervalSeconds int, lastAnalysis time.Time) error
	CloseSession(sessionID, status string) error
}

// Config controls one monitoring loop
type Config struct {
	Sources              []Source
	StateFile            string
	Bounds               schedule.Bounds
	MaxBackoff           time.Duration
	MaxConsecutiveErrors int
	MaxResults           int
	Enhance              bool
}

// Loop drives the monitoring cycle: extract new log content, analyze
// it, score the threat context, persist, then sleep for the adaptive
// interval. Checkpoints advance only after analysis and storage
// succeed, so a canceled cycle never loses data.
type Loop struct {
	cfg      Config
	analyzer Analyzer
	learner  *pattern.Learner
	db       Store
}

// NewLoop creates a monitoring loop. Zero-valued limits take defaults.
func NewLoop(cfg Config, analyzer Analyzer, learner *pattern.Learner, db Store) *Loop {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	return &Loop{cfg: cfg, analyzer: analyzer, learner: learner, db: db}
}

// Run executes the loop until ctx is canceled (returns nil) or the
// consecutive-error budget is exhausted (returns the fatal error).
func (l *Loop) Run(ctx context.Context) error {
	offsets, err := ReadCheckpoints(l.cfg.StateFile)
	if err != nil {
		return fmt.Errorf("read checkpoints: %w", err)
	}

	ids := make([]string, len(l.cfg.Sources))
	for i, s := range l.cfg.Sources {
		ids[i] = s.ID
	}

	sess := &store.Session{
		SessionID:       uuid.NewString(),
		Sources:         ids,
		IntervalSeconds: int(l.cfg.Bounds.Base.Seconds()),
		Status:          store.StatusActive,
		StartedAt:       time.Now().UTC(),
	}
	if err := l.db.CreateSession(sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	log.Printf("Monitoring session %s started: sources=%s interval=%s",
		sess.SessionID, strings.Join(ids, ","), l.cfg.Bounds.Base)

	interval := l.cfg.Bounds.Base
	consecutiveErrors := 0

	for {
		if ctx.Err() != nil {
			return l.stop(sess.SessionID)
		}

		analyzed, level, err := l.cycle(ctx, sess.SessionID, offsets)
		if err != nil {
			if ctx.Err() != nil {
				return l.stop(sess.SessionID)
			}
			consecutiveErrors++
			log.Printf("Monitoring cycle error (%d/%d): %v",
				consecutiveErrors, l.cfg.MaxConsecutiveErrors, err)

			if consecutiveErrors >= l.cfg.MaxConsecutiveErrors {
				l.db.CloseSession(sess.SessionID, store.StatusError)
				return fmt.Errorf("monitoring stopped after %d consecutive errors: %w",
					consecutiveErrors, err)
			}

			if sleepCtx(ctx, Backoff(l.cfg.Bounds.Base, consecutiveErrors, l.cfg.MaxBackoff)) != nil {
				return l.stop(sess.SessionID)
			}
			continue
		}
		consecutiveErrors = 0

		sleep := interval
		if analyzed {
			sess.TotalAnalyses++
			sess.LastAnalysis = time.Now().UTC()
			interval = schedule.NextInterval(level, l.cfg.Bounds)
			if int(interval.Seconds()) != sess.IntervalSeconds {
				log.Printf("Threat level %s: adjusted interval to %s", level, interval)
				sess.IntervalSeconds = int(interval.Seconds())
			}
			if err := l.db.UpdateSession(sess.SessionID, sess.TotalAnalyses,
				sess.IntervalSeconds, sess.LastAnalysis); err != nil {
				log.Printf("Session update failed: %v", err)
			}
			sleep = interval
		} else if sleep > idleSleep {
			// No new content - check back sooner than a full interval
			sleep = idleSleep
		}
		if sleep < MinSleep {
			sleep = MinSleep
		}

		if sleepCtx(ctx, sleep) != nil {
			return l.stop(sess.SessionID)
		}
	}
}

// cycle extracts new content from all sources and runs one analysis.
// Reports whether anything was analyzed and the resulting severity
// level. Offsets advance only after the report is stored.
func (l *Loop) cycle(ctx context.Context, sessionID string, offsets map[string]int64) (bool, string, error) {
	var texts []string
	pending := make(map[string]int64)

	for _, src := range l.cfg.Sources {
		text, next, err := Extract(src, offsets[src.ID])
		if err != nil {
			return false, "", err
		}
		if strings.TrimSpace(text) != "" {
			texts = append(texts, text)
		}
		if next != offsets[src.ID] {
			pending[src.ID] = next
		}
	}

	if len(texts) == 0 {
		return false, "", nil
	}
	raw := strings.Join(texts, "\n")
	log.Printf("Processing %d new characters from %d sources", len(raw), len(texts))

	report, err := l.analyzer.Analyze(ctx, raw, analysis.Options{
		MaxResults: l.cfg.MaxResults,
		Enhance:    l.cfg.Enhance,
	})
	if err != nil {
		return false, "", fmt.Errorf("analyze: %w", err)
	}

	tc := l.learner.Analyze(raw)

	if err := l.db.InsertReport(report, sessionID, tc.SeverityLevel); err != nil {
		return false, "", fmt.Errorf("store report: %w", err)
	}

	// Storage succeeded - now it is safe to advance the checkpoints
	for id, next := range pending {
		offsets[id] = next
	}
	if err := WriteCheckpoints(l.cfg.StateFile, offsets); err != nil {
		return false, "", fmt.Errorf("write checkpoints: %w", err)
	}

	log.Printf("Report %s stored: %d techniques, %d IOCs, severity=%s score=%.2f",
		report.ReportID, len(report.MatchedTechniques), len(report.ExtractedIOCs),
		tc.SeverityLevel, tc.SeverityScore)

	return true, tc.SeverityLevel, nil
}

func (l *Loop) stop(sessionID string) error {
	log.Printf("Monitoring session %s stopping", sessionID)
	l.db.CloseSession(sessionID, store.StatusStopped)
	return nil
}

// Backoff returns min(base * 2^(attempt-1), max) for attempt >= 1
func Backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// sleepCtx waits for d or until ctx is canceled, whichever comes first
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
