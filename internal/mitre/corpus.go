// internal/mitre/corpus.go
package mitre

import (
	"encoding/json"
	"log"
	"os"
	"strings"
)

// Technique is one MITRE ATT&CK entry, immutable once loaded.
type Technique struct {
	ID             string    `json:"technique_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Tactics        []string  `json:"tactics"`
	Platforms      []string  `json:"platforms"`
	SearchableText string    `json:"-"`
	Embedding      []float64 `json:"-"`
}

// stixBundle is the subset of a STIX 2.x bundle we care about
type stixBundle struct {
	Objects []stixObject `json:"objects"`
}

type stixObject struct {
	Type               string `json:"type"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	ExternalReferences []struct {
		SourceName string `json:"source_name"`
		ExternalID string `json:"external_id"`
	} `json:"external_references"`
	KillChainPhases []struct {
		PhaseName string `json:"phase_name"`
	} `json:"kill_chain_phases"`
	Platforms []string `json:"x_mitre_platforms"`
}

// LoadCorpus reads attack-pattern objects from a STIX bundle JSON file.
// A missing or unreadable corpus returns an empty slice rather than an
// error so the rest of the service can still boot; malformed records are
// skipped, not fatal.
func LoadCorpus(path string) []Technique {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Corpus unavailable at %s: %v (search will return no matches)", path, err)
		return nil
	}

	var bundle stixBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		log.Printf("Corpus parse error: %v (search will return no matches)", err)
		return nil
	}

	var techniques []Technique
	skipped := 0
	for _, obj := range bundle.Objects {
		if obj.Type != "attack-pattern" {
			continue
		}

		t := Technique{
			Name:        obj.Name,
			Description: obj.Description,
			Platforms:   obj.Platforms,
		}
		for _, ref := range obj.ExternalReferences {
			if ref.ExternalID != "" {
				t.ID = ref.ExternalID
				break
			}
		}
		for _, phase := range obj.KillChainPhases {
			if phase.PhaseName != "" {
				t.Tactics = append(t.Tactics, phase.PhaseName)
			}
		}

		// Incomplete records would poison search results downstream
		if t.ID == "" || t.Name == "" {
			skipped++
			continue
		}

		t.SearchableText = buildSearchableText(t)
		techniques = append(techniques, t)
	}

	if skipped > 0 {
		log.Printf("Skipped %d incomplete corpus records", skipped)
	}
	log.Printf("Loaded %d attack techniques from %s", len(techniques), path)
	return techniques
}

// buildSearchableText concatenates the fields used for retrieval.
// Order is stable so repeated loads index identical text.
func buildSearchableText(t Technique) string {
	parts := []string{t.Name, t.Description}
	parts = append(parts, t.Tactics...)
	parts = append(parts, t.Platforms...)
	return strings.Join(parts, " ")
}
