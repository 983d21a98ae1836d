// Package epidemic turns raw COVID-19 case tables into the derived series the
// dashboard displays: active cases, daily deltas, doubling rates and the
// exponential and SIR projections.
//
// Every function here is pure. Inputs are never mutated and every result is
// freshly allocated, so a caller may recompute on each parameter change.
package epidemic

import (
	"time"

	"github.com/guregu/null/v6"
)

// EntitySeries holds the aligned cumulative series of one country or region.
// Each index is one reporting day: Dates[i] pairs with every count at i.
type EntitySeries struct {
	Entity    string      `json:"entity"`
	Dates     []time.Time `json:"dates"`
	Confirmed []int64     `json:"confirmed"`
	Deaths    []int64     `json:"deaths"`
	Recovered []int64     `json:"recovered"`
}

// Len returns the number of reporting days.
func (s *EntitySeries) Len() int {
	return len(s.Dates)
}

// Validate checks that all four sequences share the date index.
func (s *EntitySeries) Validate() error {
	n := len(s.Dates)
	if len(s.Confirmed) != n || len(s.Deaths) != n || len(s.Recovered) != n {
		return NewShapeMismatchf("series %q: dates=%d confirmed=%d deaths=%d recovered=%d",
			s.Entity, n, len(s.Confirmed), len(s.Deaths), len(s.Recovered))
	}
	return nil
}

// Active derives confirmed - deaths - recovered for every day.
func (s *EntitySeries) Active() ([]int64, error) {
	return ComputeActive(s.Confirmed, s.Deaths, s.Recovered)
}

// ForecastResult is a projection spliced onto a historical series. Values
// before the splice index are Null, the splice index holds the last observed
// value and later indices hold projected values.
type ForecastResult struct {
	Dates  []time.Time `json:"dates"`
	Values []null.Int  `json:"values"`
	// Splice is the index of the last observed value.
	Splice int `json:"splice"`
}

// Horizon returns the number of projected days.
func (r *ForecastResult) Horizon() int {
	return len(r.Values) - r.Splice - 1
}

// Last returns the final projected value.
func (r *ForecastResult) Last() null.Int {
	if len(r.Values) == 0 {
		return null.Int{}
	}
	return r.Values[len(r.Values)-1]
}

// ExtendDates appends horizon consecutive calendar days after the last date.
func ExtendDates(dates []time.Time, horizon int) []time.Time {
	out := make([]time.Time, len(dates), len(dates)+horizon)
	copy(out, dates)
	if len(dates) == 0 {
		return out
	}
	last := dates[len(dates)-1]
	for d := 1; d <= horizon; d++ {
		out = append(out, last.AddDate(0, 0, d))
	}
	return out
}

// PadInts converts values to nullable ints and appends Null up to length.
func PadInts(values []int64, length int) []null.Int {
	if length < len(values) {
		length = len(values)
	}
	out := make([]null.Int, length)
	for i, v := range values {
		out[i] = null.IntFrom(v)
	}
	return out
}

// PadFloats appends Null to a nullable float series up to length.
func PadFloats(values []null.Float, length int) []null.Float {
	if length < len(values) {
		length = len(values)
	}
	out := make([]null.Float, length)
	copy(out, values)
	return out
}

// PadNullInts appends Null to a nullable int series up to length.
func PadNullInts(values []null.Int, length int) []null.Int {
	if length < len(values) {
		length = len(values)
	}
	out := make([]null.Int, length)
	copy(out, values)
	return out
}
