// internal/monitor/sources.go
package monitor

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Source is one file-backed log source
type Source struct {
	ID          string `yaml:"id" json:"id"`
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description" json:"description"`
}

// Batch is a chunk of raw log text read from one source, consumed once
// by the analysis pipeline.
type Batch struct {
	SourceID string
	Text     string
	Start    time.Time
	End      time.Time
}

// Extract reads content appended to the source since offset and returns
// the new text plus the updated offset. A file that shrank (rotation or
// truncation) resets the cursor to zero and re-reads from the start
// rather than erroring.
func Extract(src Source, offset int64) (string, int64, error) {
	info, err := os.Stat(src.Path)
	if err != nil {
		return "", offset, fmt.Errorf("stat %s: %w", src.ID, err)
	}

	size := info.Size()
	if size < offset {
		// Rotated or truncated
		offset = 0
	}
	if size == offset {
		return "", offset, nil
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return "", offset, fmt.Errorf("open %s: %w", src.ID, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", offset, fmt.Errorf("seek %s: %w", src.ID, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", offset, fmt.Errorf("read %s: %w", src.ID, err)
	}

	return string(data), offset + int64(len(data)), nil
}
