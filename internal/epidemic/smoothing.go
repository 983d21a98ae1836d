package epidemic

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/guregu/null/v6"
)

// SmoothDelta returns the trailing simple moving average of a delta series
// over period days. Slots before the first full window are Null. Null slots
// after the first defined value count as zero.
func SmoothDelta(delta []null.Int, period int) []null.Float {
	out := make([]null.Float, len(delta))

	start := -1
	for i, d := range delta {
		if d.Valid {
			start = i
			break
		}
	}
	if start < 0 {
		return out
	}

	values := make([]float64, 0, len(delta)-start)
	for _, d := range delta[start:] {
		values = append(values, float64(d.ValueOrZero()))
	}

	if period <= 1 {
		for j, v := range values {
			out[start+j] = null.FloatFrom(v)
		}
		return out
	}
	if len(values) < period {
		return out
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	averages := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
	// the average of a window lands on the window's last day
	offset := len(out) - len(averages)
	for j, v := range averages {
		out[offset+j] = null.FloatFrom(v)
	}
	return out
}
