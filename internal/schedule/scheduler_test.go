// internal/schedule/scheduler_test.go
package schedule

import (
	"testing"
	"time"

	"github.com/forensiq/forensiq/internal/pattern"
)

func TestNextIntervalPolicy(t *testing.T) {
	b := Bounds{Base: 4 * time.Minute, Min: 30 * time.Second, Max: 30 * time.Minute}

	tests := []struct {
		level string
		want  time.Duration
	}{
		{pattern.SeverityCritical, time.Minute},
		{pattern.SeverityHigh, 2 * time.Minute},
		{pattern.SeverityMedium, 4 * time.Minute},
		{pattern.SeverityLow, 6 * time.Minute},
		{"", 6 * time.Minute}, // unknown level treated as low
	}
	for _, tt := range tests {
		if got := NextInterval(tt.level, b); got != tt.want {
			t.Errorf("NextInterval(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNextIntervalClamping(t *testing.T) {
	b := Bounds{Base: 2 * time.Minute, Min: time.Minute, Max: 150 * time.Second}

	// critical: base/4 = 30s, below Min
	if got := NextInterval(pattern.SeverityCritical, b); got != time.Minute {
		t.Errorf("critical = %v, want clamped to Min %v", got, time.Minute)
	}
	// low: base*1.5 = 3m, above Max
	if got := NextInterval(pattern.SeverityLow, b); got != 150*time.Second {
		t.Errorf("low = %v, want clamped to Max %v", got, 150*time.Second)
	}
}

func TestNextIntervalMonotonic(t *testing.T) {
	b := Bounds{Base: 8 * time.Minute, Min: time.Second, Max: time.Hour}

	critical := NextInterval(pattern.SeverityCritical, b)
	high := NextInterval(pattern.SeverityHigh, b)
	medium := NextInterval(pattern.SeverityMedium, b)
	low := NextInterval(pattern.SeverityLow, b)

	if !(critical < high && high < medium && medium < low) {
		t.Errorf("intervals not ordered: critical=%v high=%v medium=%v low=%v",
			critical, high, medium, low)
	}
}

func TestNextIntervalPure(t *testing.T) {
	b := Bounds{Base: 5 * time.Minute, Min: time.Minute, Max: 30 * time.Minute}
	first := NextInterval(pattern.SeverityHigh, b)
	for i := 0; i < 5; i++ {
		if got := NextInterval(pattern.SeverityHigh, b); got != first {
			t.Fatalf("NextInterval not deterministic: %v then %v", first, got)
		}
	}
}
