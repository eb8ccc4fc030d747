package frontier

import (
	"math"
	"time"
)

// PredictGrowth estimates how many IDs were assigned since the previous
// session ended, from the historical mean rate (IDs per minute).
//
// The result only seeds Locate's exponential phase. It is 0 for a fresh
// installation (no sessions) and never negative, even when the clock went
// backwards.
func PredictGrowth(lastTimestamp, averagesSum float64, sessions int, now time.Time) int64 {
	if sessions <= 0 || averagesSum <= 0 {
		return 0
	}
	mean := averagesSum / float64(sessions)

	elapsedSeconds := float64(now.UnixNano())/1e9 - lastTimestamp
	if elapsedSeconds <= 0 {
		return 0
	}
	elapsedMinutes := elapsedSeconds / 60.0

	return int64(math.Floor(elapsedMinutes * mean))
}
