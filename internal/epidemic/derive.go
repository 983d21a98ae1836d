package epidemic

import "github.com/guregu/null/v6"

// ComputeActive returns confirmed[i] - deaths[i] - recovered[i].
func ComputeActive(confirmed, deaths, recovered []int64) ([]int64, error) {
	if len(confirmed) != len(deaths) || len(confirmed) != len(recovered) {
		return nil, NewShapeMismatchf("confirmed=%d deaths=%d recovered=%d",
			len(confirmed), len(deaths), len(recovered))
	}
	active := make([]int64, len(confirmed))
	for i := range confirmed {
		active[i] = confirmed[i] - deaths[i] - recovered[i]
	}
	return active, nil
}

// ComputeDelta returns the day-over-day difference; the first slot is Null.
func ComputeDelta(series []int64) []null.Int {
	delta := make([]null.Int, len(series))
	for i := 1; i < len(series); i++ {
		delta[i] = null.IntFrom(series[i] - series[i-1])
	}
	return delta
}
