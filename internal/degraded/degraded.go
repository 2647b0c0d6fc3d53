// Package degraded derives a degraded signal from the refresh pipeline error rate.
package degraded

import (
	"time"

	"github.com/kjstillabower/weather-refresher/internal/traffic"
)

// RecordSuccess records a refresh that reached the persisted state.
func RecordSuccess() {
	traffic.Record(traffic.Success)
}

// RecordError records a refresh that ended in the reported state.
func RecordError() {
	traffic.Record(traffic.Failure)
}

// ErrorRate returns (errorCount, totalCount) within the window. Denials are excluded.
func ErrorRate(window time.Duration) (errors, total int) {
	errors = traffic.Count(window, traffic.Failure)
	return errors, errors + traffic.Count(window, traffic.Success)
}

// IsDegraded reports whether the error percentage in window reaches thresholdPct.
// No traffic in window is never degraded.
func IsDegraded(window time.Duration, thresholdPct int) bool {
	if window <= 0 || thresholdPct <= 0 {
		return false
	}
	errs, total := ErrorRate(window)
	if total == 0 {
		return false
	}
	return float64(errs)*100/float64(total) >= float64(thresholdPct)
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}
