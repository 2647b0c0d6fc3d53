package overload

import (
	"time"

	"github.com/kjstillabower/weather-refresher/internal/traffic"
)

// RecordDenial records a rate-limit denial (429). Call from middleware when returning 429.
func RecordDenial() {
	traffic.Record(traffic.Denied)
}

// RecordAccepted records a request that passed the rate limiter.
func RecordAccepted() {
	traffic.Record(traffic.Accepted)
}

// RequestCount returns the number of rate-limited-path requests (accepted + denied) in window.
func RequestCount(window time.Duration) int {
	return traffic.Count(window, traffic.Accepted, traffic.Denied)
}

// DenialCount returns the number of denials within the given window.
func DenialCount(window time.Duration) int {
	return traffic.Count(window, traffic.Denied)
}

// IsOverloaded reports whether traffic in window exceeds thresholdPct of what the
// limiter admits (rps * window). A zero rps disables the check.
func IsOverloaded(window time.Duration, rps, thresholdPct int) bool {
	if rps <= 0 || window <= 0 || thresholdPct <= 0 {
		return false
	}
	capacity := float64(rps) * window.Seconds() * float64(thresholdPct) / 100
	return float64(RequestCount(window)) > capacity
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}
