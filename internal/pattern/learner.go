// internal/pattern/learner.go
package pattern

import (
	"strings"
	"sync"
	"time"
)

// Severity levels derived from the severity score
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// DefaultMaxPatterns bounds the learned-pattern store so a long-running
// monitor cannot grow without limit. When full, the least recently seen
// signature is evicted.
const DefaultMaxPatterns = 1024

// keywordWeights maps severity keywords to their contribution to the
// score. Matching is case-insensitive substring per line.
var keywordWeights = []struct {
	keyword string
	weight  float64
}{
	{"critical", 1.0},
	{"malicious", 1.0},
	{"privilege escalation", 0.9},
	{"suspicious process", 0.8},
	{"unauthorized", 0.7},
	{"failed login", 0.6},
	{"brute force", 0.8},
	{"exploit", 0.8},
	{"backdoor", 0.9},
	{"denied", 0.4},
	{"error", 0.3},
	{"warning", 0.2},
}

// ThreatContext is the severity signal for one log batch, recomputed
// every analysis cycle. It is independent of (and far cheaper than) the
// LLM pipeline so scheduling never waits on an AI call.
type ThreatContext struct {
	SeverityScore        float64 `json:"severity_score"`
	SeverityLevel        string  `json:"severity_level"`
	DetectedPatternCount int     `json:"detected_patterns"`
	ConfidenceScore      float64 `json:"confidence_score"`
}

// LearnedPattern tracks how often one keyword signature has been seen
type LearnedPattern struct {
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Learner extracts severity signals from log batches and accumulates
// keyword signature frequencies across calls. Safe for concurrent use
// by multiple monitoring loops.
type Learner struct {
	mu          sync.Mutex
	patterns    map[string]LearnedPattern
	analyses    int
	maxPatterns int
}

// NewLearner creates a learner. maxPatterns <= 0 selects the default bound.
func NewLearner(maxPatterns int) *Learner {
	if maxPatterns <= 0 {
		maxPatterns = DefaultMaxPatterns
	}
	return &Learner{
		patterns:    make(map[string]LearnedPattern),
		maxPatterns: maxPatterns,
	}
}

// Analyze scores one log batch and records matched signatures.
// severityScore is the keyword-weighted sum normalized by line count,
// clamped to [0,1].
func (l *Learner) Analyze(logText string) ThreatContext {
	lines := strings.Split(logText, "\n")
	lineCount := 0
	var weightedSum float64
	matched := make(map[string]bool)

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lineCount++
		lower := strings.ToLower(line)
		for _, kw := range keywordWeights {
			if strings.Contains(lower, kw.keyword) {
				weightedSum += kw.weight
				matched[kw.keyword] = true
			}
		}
	}

	score := 0.0
	if lineCount > 0 {
		score = weightedSum / float64(lineCount)
		if score > 1 {
			score = 1
		}
	}

	l.mu.Lock()
	now := time.Now().UTC()
	for sig := range matched {
		p, ok := l.patterns[sig]
		if !ok {
			l.evictIfFullLocked()
			p = LearnedPattern{FirstSeen: now}
		}
		p.Count++
		p.LastSeen = now
		l.patterns[sig] = p
	}
	l.analyses++
	confidence := float64(l.analyses) / float64(l.analyses+10)
	l.mu.Unlock()

	return ThreatContext{
		SeverityScore:        score,
		SeverityLevel:        Level(score),
		DetectedPatternCount: len(matched),
		ConfidenceScore:      confidence,
	}
}

// Level maps a severity score to its level by fixed thresholds
func Level(score float64) string {
	switch {
	case score >= 0.75:
		return SeverityCritical
	case score >= 0.5:
		return SeverityHigh
	case score >= 0.25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Patterns returns a copy of the learned-pattern store. Callers query
// the store; they never mutate it.
func (l *Learner) Patterns() map[string]LearnedPattern {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]LearnedPattern, len(l.patterns))
	for sig, p := range l.patterns {
		out[sig] = p
	}
	return out
}

// AnalysisCount reports how many batches have been scored
func (l *Learner) AnalysisCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.analyses
}

// Reset clears the learned patterns and the analysis counter. The store
// otherwise only grows: historical frequency is the point of learning.
func (l *Learner) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patterns = make(map[string]LearnedPattern)
	l.analyses = 0
}

// evictIfFullLocked drops the least recently seen signature when the
// store is at capacity. Caller holds l.mu.
func (l *Learner) evictIfFullLocked() {
	if len(l.patterns) < l.maxPatterns {
		return
	}
	var oldest string
	var oldestSeen time.Time
	for sig, p := range l.patterns {
		if oldest == "" || p.LastSeen.Before(oldestSeen) {
			oldest = sig
			oldestSeen = p.LastSeen
		}
	}
	delete(l.patterns, oldest)
}
