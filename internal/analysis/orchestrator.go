// internal/analysis/orchestrator.go
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/forensiq/forensiq/internal/search"
)

// DefaultMaxLogLength caps how many characters of raw log text go to
// the summarizer. IOC extraction always sees the full text.
const DefaultMaxLogLength = 10000

// ErrEmptySummary indicates summarization produced no usable text.
// The summary anchors all downstream retrieval, so this fails the
// whole analysis.
var ErrEmptySummary = errors.New("summarization produced no text")

// Summarizer generates a structured summary of raw log text
type Summarizer interface {
	Summarize(ctx context.Context, logs string) (string, error)
}

// Enhancer produces an enhanced threat analysis, best-effort
type Enhancer interface {
	Enhance(ctx context.Context, summary string, matches []search.Match) (string, error)
}

// TechniqueSearcher retrieves ranked technique matches for a query
type TechniqueSearcher interface {
	Search(ctx context.Context, query string, maxResults int) []search.Match
}

// Report is the immutable unit of analysis output
type Report struct {
	ReportID          string         `json:"report_id"`
	Summary           string         `json:"summary"`
	MatchedTechniques []search.Match `json:"matched_techniques"`
	EnhancedAnalysis  string         `json:"enhanced_analysis,omitempty"`
	ExtractedIOCs     []IOC          `json:"extracted_iocs"`
	ConfidenceScore   float64        `json:"confidence_score"`
	ProcessingTimeMs  int64          `json:"processing_time_ms"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Options control one analysis invocation
type Options struct {
	MaxResults int  // bounded 1-20, default 5
	Enhance    bool // run the enhancement step when matches exist
}

// Orchestrator runs the single-pass analysis pipeline:
// summarize -> extract IOCs -> search techniques -> enhance (optional).
// It performs no persistence; storing the report is the caller's job,
// which keeps the pipeline testable without a database.
type Orchestrator struct {
	summarizer   Summarizer
	searcher     TechniqueSearcher
	enhancer     Enhancer
	maxLogLength int
}

// NewOrchestrator wires the injected capabilities. maxLogLength <= 0
// selects the default truncation limit.
func NewOrchestrator(summarizer Summarizer, searcher TechniqueSearcher, enhancer Enhancer, maxLogLength int) *Orchestrator {
	if maxLogLength <= 0 {
		maxLogLength = DefaultMaxLogLength
	}
	return &Orchestrator{
		summarizer:   summarizer,
		searcher:     searcher,
		enhancer:     enhancer,
		maxLogLength: maxLogLength,
	}
}

// Analyze runs the pipeline over raw log text. A failed or empty
// summary aborts with an error; search and enhancement failures degrade
// the report instead of failing it.
func (o *Orchestrator) Analyze(ctx context.Context, rawLogs string, opts Options) (*Report, error) {
	start := time.Now()

	truncated := rawLogs
	// The limit counts characters, and slicing bytes could split a rune
	if utf8.RuneCountInString(truncated) > o.maxLogLength {
		runes := []rune(truncated)
		truncated = string(runes[:o.maxLogLength]) + "... (truncated)"
		log.Printf("Log input truncated to %d characters for summarization", o.maxLogLength)
	}

	summary, err := o.summarizer.Summarize(ctx, truncated)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	if summary == "" {
		return nil, ErrEmptySummary
	}

	// IOCs come from the original text, not the summary: truncation
	// must never cause indicator loss.
	iocs := ExtractIOCs(rawLogs)

	// The summary normalizes noisy logs into attack-relevant language,
	// which retrieves better than the raw lines.
	matches := o.searcher.Search(ctx, summary, opts.MaxResults)

	enhanced := ""
	if opts.Enhance && len(matches) > 0 && o.enhancer != nil {
		enhanced, err = o.enhancer.Enhance(ctx, summary, matches)
		if err != nil {
			// Enhancement is additive value, not a correctness
			// requirement: absorb and continue.
			log.Printf("Enhancement failed, continuing without it: %v", err)
			enhanced = ""
		}
	}

	return &Report{
		ReportID:          uuid.NewString(),
		Summary:           summary,
		MatchedTechniques: matches,
		EnhancedAnalysis:  enhanced,
		ExtractedIOCs:     iocs,
		ConfidenceScore:   search.Confidence(matches),
		ProcessingTimeMs:  time.Since(start).Milliseconds(),
		Timestamp:         time.Now().UTC(),
	}, nil
}
