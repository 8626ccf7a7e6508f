// internal/monitor/checkpoint.go
package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ReadCheckpoints reads per-source byte offsets from the state file.
// Returns an empty map if the file doesn't exist or is corrupt.
func ReadCheckpoints(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, err
	}

	var offsets map[string]int64
	if err := json.Unmarshal(data, &offsets); err != nil {
		// Corrupt file - fresh start
		return map[string]int64{}, nil
	}
	if offsets == nil {
		offsets = map[string]int64{}
	}
	return offsets, nil
}

// WriteCheckpoints writes the offsets to the state file.
// Creates parent directories if needed.
func WriteCheckpoints(path string, offsets map[string]int64) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.Marshal(offsets)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
