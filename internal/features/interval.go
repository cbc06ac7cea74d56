package features

import "time"

// defaultIntervalMinutes is the fallback sampling interval when a station's
// cadence cannot be determined (fewer than two readings, or no repeated
// delta).
const defaultIntervalMinutes = 30.0

// modalIntervalMinutes returns the most common gap between consecutive
// timestamps, in minutes. A single irregular gap (an outage, a late reading)
// does not disturb the result as long as the regular cadence repeats. Ties
// resolve to the smaller interval so the answer is deterministic.
func modalIntervalMinutes(times []time.Time) float64 {
	if len(times) < 2 {
		return defaultIntervalMinutes
	}

	counts := make(map[float64]int)
	for i := 1; i < len(times); i++ {
		delta := times[i].Sub(times[i-1]).Minutes()
		counts[delta]++
	}

	var mode float64
	best := 0
	for delta, n := range counts {
		if n > best || (n == best && delta < mode) {
			mode = delta
			best = n
		}
	}

	// No repeated delta means no mode; fall back rather than trusting a
	// single arbitrary gap.
	if best < 2 || mode <= 0 {
		return defaultIntervalMinutes
	}
	return mode
}

// periodsPerHour converts a station's detected sampling interval into the
// number of rows that span one hour, e.g. 15-minute data gives 4 and
// 30-minute data gives 2. Hour-denominated lags and windows are multiplied
// by this to get row counts for shift/rolling operations.
func periodsPerHour(times []time.Time) float64 {
	return 60.0 / modalIntervalMinutes(times)
}
