package epidemic

import (
	"math"
	"time"

	"github.com/guregu/null/v6"
)

// ForecastExponential extrapolates the last active value forward assuming it
// doubles every doublingRate days.
//
// The result spans len(active)+horizon days. The last historical index holds
// the last active value itself so the projection joins the observed line.
func ForecastExponential(active []int64, dates []time.Time, horizon int, doublingRate float64) (*ForecastResult, error) {
	if len(active) == 0 {
		return nil, NewShapeMismatchf("empty active series")
	}
	if len(dates) != len(active) {
		return nil, NewShapeMismatchf("dates=%d active=%d", len(dates), len(active))
	}
	if horizon < 0 {
		return nil, NewInvalidParameterf("horizon must be >= 0, got %d", horizon)
	}
	if math.IsNaN(doublingRate) || math.IsInf(doublingRate, 0) || doublingRate <= 0 {
		return nil, NewInvalidParameterf("doubling rate must be a positive finite number, got %v", doublingRate)
	}

	splice := len(active) - 1
	curr := active[splice]

	values := make([]null.Int, len(active)+horizon)
	values[splice] = null.IntFrom(curr)
	for d := 1; d <= horizon; d++ {
		projected := math.Round(float64(curr) * math.Pow(2, float64(d)/doublingRate))
		values[splice+d] = null.IntFrom(saturateInt64(projected))
	}

	return &ForecastResult{
		Dates:  ExtendDates(dates, horizon),
		Values: values,
		Splice: splice,
	}, nil
}

// saturateInt64 converts v, clamping values outside the int64 range.
func saturateInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}
