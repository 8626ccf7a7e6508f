// internal/mitre/index.go
package mitre

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Embedder turns text into a fixed-length vector. Optional: when absent
// or failing, the index falls back to term-frequency scoring.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Hit is a raw nearest-neighbor result. Distance is cosine distance:
// 0 = identical, 2 = opposite.
type Hit struct {
	TechniqueID string
	Distance    float64
	Document    string
	Technique   Technique
}

// Index holds the technique corpus for nearest-neighbor queries.
// Read-only after construction, safe for concurrent queries.
type Index struct {
	techniques []Technique
	termVecs   []map[string]float64
	embedder   Embedder
}

// NewIndex builds an index over the corpus. The index is rebuilt from
// scratch each call, so loading the same corpus twice yields identical
// query results.
func NewIndex(techniques []Technique, embedder Embedder) *Index {
	ix := &Index{
		techniques: techniques,
		termVecs:   make([]map[string]float64, len(techniques)),
		embedder:   embedder,
	}
	for i, t := range techniques {
		ix.termVecs[i] = termVector(t.SearchableText)
	}
	return ix
}

// Len reports how many techniques are indexed.
func (ix *Index) Len() int {
	return len(ix.techniques)
}

// EmbedCorpus fills in missing technique embeddings via the embedder.
// Failures leave the term-frequency fallback in place.
func (ix *Index) EmbedCorpus(ctx context.Context) {
	if ix.embedder == nil {
		return
	}
	embedded := 0
	for i := range ix.techniques {
		if ix.techniques[i].Embedding != nil {
			continue
		}
		vec, err := ix.embedder.Embed(ctx, ix.techniques[i].SearchableText)
		if err != nil {
			log.Printf("Corpus embedding failed after %d techniques: %v (term scoring fallback)", embedded, err)
			return
		}
		ix.techniques[i].Embedding = vec
		embedded++
	}
	if embedded > 0 {
		log.Printf("Embedded %d corpus techniques", embedded)
	}
}

// Query returns up to k hits for a text query, ordered by ascending
// distance, at most one per technique id. Uses the embedder when it is
// available and the corpus carries embeddings; otherwise scores by term
// overlap so an offline deployment still gets deterministic results.
func (ix *Index) Query(ctx context.Context, text string, k int) []Hit {
	if len(ix.techniques) == 0 || k <= 0 {
		return nil
	}

	if ix.embedder != nil && ix.fullyEmbedded() {
		vec, err := ix.embedder.Embed(ctx, text)
		if err == nil {
			return ix.QueryVector(vec, k)
		}
		log.Printf("Query embedding failed: %v (term scoring fallback)", err)
	}

	query := termVector(text)
	hits := make([]Hit, 0, len(ix.techniques))
	for i, t := range ix.techniques {
		sim := termCosine(query, ix.termVecs[i])
		hits = append(hits, Hit{
			TechniqueID: t.ID,
			Distance:    1 - sim,
			Document:    t.SearchableText,
			Technique:   t,
		})
	}
	return topK(hits, k)
}

// QueryVector returns up to k hits for a precomputed query vector,
// for pipelines that embed upstream. Techniques without embeddings are
// skipped.
func (ix *Index) QueryVector(vec []float64, k int) []Hit {
	if len(ix.techniques) == 0 || k <= 0 {
		return nil
	}

	var hits []Hit
	for _, t := range ix.techniques {
		if t.Embedding == nil {
			continue
		}
		sim := cosine(vec, t.Embedding)
		hits = append(hits, Hit{
			TechniqueID: t.ID,
			Distance:    1 - sim,
			Document:    t.SearchableText,
			Technique:   t,
		})
	}
	return topK(hits, k)
}

// fullyEmbedded reports whether every technique carries an embedding.
// The vector path skips unembedded techniques, so a partially embedded
// corpus (an embed pass that died midway) must keep using term scoring
// or part of the corpus becomes unretrievable.
func (ix *Index) fullyEmbedded() bool {
	for _, t := range ix.techniques {
		if t.Embedding == nil {
			return false
		}
	}
	return len(ix.techniques) > 0
}

// topK sorts ascending by distance, keeps the best hit per technique id,
// and truncates to k. Sort is stable so ties keep corpus order.
func topK(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})

	seen := make(map[string]bool, k)
	out := make([]Hit, 0, k)
	for _, h := range hits {
		if seen[h.TechniqueID] {
			continue
		}
		seen[h.TechniqueID] = true
		out = append(out, h)
		if len(out) == k {
			break
		}
	}
	return out
}

// termVector builds a lowercase term-frequency map
func termVector(text string) map[string]float64 {
	vec := make(map[string]float64)
	for _, term := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(term) < 2 {
			continue
		}
		vec[term]++
	}
	return vec
}

func termCosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for term, av := range a {
		normA += av * av
		if bv, ok := b[term]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Guard against float drift outside [-1,1]
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}
