package epidemic

import (
	"math"

	"github.com/guregu/null/v6"
)

// EstimateDoublingRates returns a per-point doubling time in days computed from
// the single-step growth ratio of a cumulative series.
//
// Index 0 is always Undefined. A plateau (prev == curr) is Undefined, and so is
// any step where one side is zero. A decline yields a negative value: the
// halving time at that step's rate.
func EstimateDoublingRates(cumulative []int64) []null.Float {
	rates := make([]null.Float, len(cumulative))
	for i := 1; i < len(cumulative); i++ {
		prev, curr := cumulative[i-1], cumulative[i]
		switch {
		case prev == curr:
			// no growth, doubling time is infinite
		case prev > 0 && curr > 0:
			rate := float64(curr) / float64(prev)
			rates[i] = null.FloatFrom(1 / math.Log2(rate))
		}
	}
	return rates
}

// LatestDoublingRate returns the most recent defined estimate.
func LatestDoublingRate(rates []null.Float) (float64, bool) {
	for i := len(rates) - 1; i >= 0; i-- {
		if rates[i].Valid {
			return rates[i].Float64, true
		}
	}
	return 0, false
}

// DefaultDoublingRate is the doubling rate used for the exponential projection
// when the caller does not pick one: the latest estimate rounded to one
// decimal. ok is false when no positive estimate is available.
func DefaultDoublingRate(rates []null.Float) (rate float64, ok bool) {
	latest, found := LatestDoublingRate(rates)
	if !found {
		return 0, false
	}
	rate = math.Round(10*latest) / 10
	return rate, rate > 0
}
