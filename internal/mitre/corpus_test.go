// internal/mitre/corpus_test.go
package mitre

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testBundle = `{
	"objects": [
		{
			"type": "attack-pattern",
			"name": "Command and Scripting Interpreter",
			"description": "Adversaries may abuse command and script interpreters to execute commands. PowerShell is a common example of suspicious process execution.",
			"external_references": [{"source_name": "mitre-attack", "external_id": "T1059"}],
			"kill_chain_phases": [{"phase_name": "execution"}],
			"x_mitre_platforms": ["Windows", "Linux", "macOS"]
		},
		{
			"type": "attack-pattern",
			"name": "Brute Force",
			"description": "Adversaries may attempt to gain access via repeated failed login attempts against accounts.",
			"external_references": [{"source_name": "mitre-attack", "external_id": "T1110"}],
			"kill_chain_phases": [{"phase_name": "credential-access"}],
			"x_mitre_platforms": ["Windows", "Linux"]
		},
		{
			"type": "attack-pattern",
			"name": "",
			"description": "malformed record without name or id"
		},
		{
			"type": "intrusion-set",
			"name": "Not a technique"
		}
	]
}`

func writeTestCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enterprise_attack.json")
	if err := os.WriteFile(path, []byte(testBundle), 0644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

func TestLoadCorpus(t *testing.T) {
	techniques := LoadCorpus(writeTestCorpus(t))

	if len(techniques) != 2 {
		t.Fatalf("loaded %d techniques, want 2 (malformed and non-pattern objects skipped)", len(techniques))
	}

	first := techniques[0]
	if first.ID != "T1059" {
		t.Errorf("ID = %q, want T1059", first.ID)
	}
	if first.Name != "Command and Scripting Interpreter" {
		t.Errorf("Name = %q", first.Name)
	}
	if len(first.Tactics) != 1 || first.Tactics[0] != "execution" {
		t.Errorf("Tactics = %v, want [execution]", first.Tactics)
	}
	if len(first.Platforms) != 3 {
		t.Errorf("Platforms = %v, want 3 entries", first.Platforms)
	}
}

func TestSearchableTextOrder(t *testing.T) {
	techniques := LoadCorpus(writeTestCorpus(t))

	want := "Command and Scripting Interpreter " + techniques[0].Description + " execution Windows Linux macOS"
	if techniques[0].SearchableText != want {
		t.Errorf("SearchableText = %q, want %q", techniques[0].SearchableText, want)
	}
}

func TestLoadCorpusMissingFile(t *testing.T) {
	techniques := LoadCorpus(filepath.Join(t.TempDir(), "nope.json"))
	if techniques != nil {
		t.Errorf("expected nil for missing corpus, got %d techniques", len(techniques))
	}
}

func TestLoadCorpusInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0644)

	if techniques := LoadCorpus(path); techniques != nil {
		t.Errorf("expected nil for corrupt corpus, got %d techniques", len(techniques))
	}
}

func TestLoadCorpusIdempotent(t *testing.T) {
	path := writeTestCorpus(t)

	a := NewIndex(LoadCorpus(path), nil)
	b := NewIndex(LoadCorpus(path), nil)

	hitsA := a.Query(context.Background(), "powershell suspicious process execution", 5)
	hitsB := b.Query(context.Background(), "powershell suspicious process execution", 5)

	if len(hitsA) != len(hitsB) {
		t.Fatalf("result counts differ: %d vs %d", len(hitsA), len(hitsB))
	}
	for i := range hitsA {
		if hitsA[i].TechniqueID != hitsB[i].TechniqueID || hitsA[i].Distance != hitsB[i].Distance {
			t.Errorf("result %d differs: %+v vs %+v", i, hitsA[i], hitsB[i])
		}
	}
}
