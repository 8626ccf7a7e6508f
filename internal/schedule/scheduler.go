// internal/schedule/scheduler.go
package schedule

import (
	"time"

	"github.com/forensiq/forensiq/internal/pattern"
)

// Bounds configure the adaptive interval policy
type Bounds struct {
	Base time.Duration
	Min  time.Duration
	Max  time.Duration
}

// NextInterval maps a severity level to the next polling interval:
// critical polls at base/4, high at base/2, medium keeps base, and low
// backs off to base*1.5. The result is always clamped to [Min, Max].
// Pure function: identical inputs always give the identical interval.
func NextInterval(level string, b Bounds) time.Duration {
	var next time.Duration
	switch level {
	case pattern.SeverityCritical:
		next = b.Base / 4
	case pattern.SeverityHigh:
		next = b.Base / 2
	case pattern.SeverityMedium:
		next = b.Base
	default:
		next = b.Base + b.Base/2
		if next > b.Max {
			next = b.Max
		}
	}

	if next < b.Min {
		next = b.Min
	}
	if next > b.Max {
		next = b.Max
	}
	return next
}
