// internal/search/engine.go
package search

import (
	"context"
	"log"
	"math"
	"sort"

	"github.com/forensiq/forensiq/internal/mitre"
)

const (
	// DefaultMaxResults is used when the caller does not bound the query
	DefaultMaxResults = 5
	// MaxResultsCap prevents excessive retrieval regardless of caller input
	MaxResultsCap = 20
	// DefaultMinRelevance drops matches too weak to be meaningful
	DefaultMinRelevance = 0.3
)

// Match is one scored technique result. RelevanceScore is in [0,1],
// 1.0 = identical.
type Match struct {
	TechniqueID    string   `json:"technique_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Tactics        []string `json:"kill_chain_phases"`
	Platforms      []string `json:"platforms"`
	RelevanceScore float64  `json:"relevance_score"`
	Document       string   `json:"document,omitempty"`
}

// Backend answers nearest-neighbor queries with raw cosine distances.
type Backend interface {
	Query(ctx context.Context, text string, k int) []mitre.Hit
}

// Engine turns raw distances into normalized, deduplicated, ranked
// matches. Stateless; safe for concurrent use.
type Engine struct {
	backend      Backend
	minRelevance float64
}

// NewEngine wraps a backend with the scoring policy. minRelevance <= 0
// selects the default threshold.
func NewEngine(backend Backend, minRelevance float64) *Engine {
	if minRelevance <= 0 {
		minRelevance = DefaultMinRelevance
	}
	return &Engine{backend: backend, minRelevance: minRelevance}
}

// Normalize maps a cosine distance in [0,2] to a relevance score in
// [0,1] where 1.0 = identical. Callers threshold on the result, so this
// formula is load-bearing: relevance = 1 - clamp(d,0,2)/2.
func Normalize(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	if distance > 2 {
		distance = 2
	}
	return 1 - distance/2
}

// Search runs a semantic query and returns up to maxResults matches
// sorted descending by relevance, at most one per technique id.
// A missing or failing backend degrades to an empty result, never an
// error: retrieval failure must not abort the caller's analysis.
func (e *Engine) Search(ctx context.Context, query string, maxResults int) []Match {
	if e.backend == nil {
		log.Printf("Search backend unavailable, returning no matches")
		return nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > MaxResultsCap {
		maxResults = MaxResultsCap
	}

	hits := e.backend.Query(ctx, query, maxResults)

	// Keep only the highest-scoring hit per technique id, preserving
	// first-seen order among ties.
	seen := make(map[string]int, len(hits))
	var matches []Match
	for _, h := range hits {
		relevance := Normalize(h.Distance)
		if relevance < e.minRelevance {
			continue
		}
		if i, ok := seen[h.TechniqueID]; ok {
			if relevance > matches[i].RelevanceScore {
				matches[i].RelevanceScore = relevance
				matches[i].Document = h.Document
			}
			continue
		}
		seen[h.TechniqueID] = len(matches)
		matches = append(matches, Match{
			TechniqueID:    h.TechniqueID,
			Name:           h.Technique.Name,
			Description:    h.Technique.Description,
			Tactics:        h.Technique.Tactics,
			Platforms:      h.Technique.Platforms,
			RelevanceScore: relevance,
			Document:       h.Document,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].RelevanceScore > matches[j].RelevanceScore
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches
}

// Confidence derives an overall confidence from the returned matches:
// the mean relevance boosted by 1.2 and clamped to 1.0. Zero when there
// are no matches.
func Confidence(matches []Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range matches {
		sum += m.RelevanceScore
	}
	return math.Min(sum/float64(len(matches))*1.2, 1.0)
}
