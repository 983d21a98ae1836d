package epidemic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Initial guess for the optimiser, in rate space.
const (
	fitInitialBeta  = 0.2
	fitInitialGamma = 0.05
	fitPenalty      = 1e300
)

// FitWindow holds the observed compartment fractions the fit runs against.
type FitWindow struct {
	S []float64
	I []float64
	R []float64
}

// NewFitWindow takes the last retrospectDays+1 observations of series and
// expresses them as fractions of population. Infected is the active count and
// removed is recovered plus deaths.
func NewFitWindow(series *EntitySeries, population int64, retrospectDays int) (*FitWindow, error) {
	if population <= 0 {
		return nil, NewInvalidParameterf("population must be > 0, got %d", population)
	}
	if retrospectDays < 1 {
		return nil, NewInvalidParameterf("retrospect days must be >= 1, got %d", retrospectDays)
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}
	active, err := series.Active()
	if err != nil {
		return nil, err
	}
	if len(active) < retrospectDays+1 {
		return nil, NewShapeMismatchf("need %d observations, have %d", retrospectDays+1, len(active))
	}

	start := len(active) - retrospectDays - 1
	pop := float64(population)
	w := &FitWindow{}
	for i := start; i < len(active); i++ {
		infected := float64(active[i]) / pop
		removed := float64(series.Recovered[i]+series.Deaths[i]) / pop
		w.S = append(w.S, 1-infected-removed)
		w.I = append(w.I, infected)
		w.R = append(w.R, removed)
	}
	return w, nil
}

// Initial returns the first observation as the simulation start.
func (w *FitWindow) Initial() SIRState {
	return SIRState{S: w.S[0], I: w.I[0], R: w.R[0]}
}

// FitSIR fits an independent (β, γ) pair for each compartment of the window.
func FitSIR(w *FitWindow) (*SIRParameters, error) {
	s, err := fitCompartment(w, w.S, func(st SIRState) float64 { return st.S })
	if err != nil {
		return nil, fmt.Errorf("fit S: %w", err)
	}
	i, err := fitCompartment(w, w.I, func(st SIRState) float64 { return st.I })
	if err != nil {
		return nil, fmt.Errorf("fit I: %w", err)
	}
	r, err := fitCompartment(w, w.R, func(st SIRState) float64 { return st.R })
	if err != nil {
		return nil, fmt.Errorf("fit R: %w", err)
	}
	return &SIRParameters{S: s, I: i, R: r}, nil
}

// fitCompartment minimises the relative squared error between one simulated
// compartment and its observations. Rates are optimised in log space.
func fitCompartment(w *FitWindow, observed []float64, pick func(SIRState) float64) (SIRRates, error) {
	initial := w.Initial()
	steps := len(observed) - 1

	scale := 0.0
	for _, v := range observed {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		scale = 1
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			rates := SIRRates{Beta: math.Exp(x[0]), Gamma: math.Exp(x[1])}
			states, err := SimulateSIR(initial, rates, steps)
			if err != nil {
				return fitPenalty
			}
			var loss float64
			for k, obs := range observed {
				diff := (pick(states[k]) - obs) / scale
				loss += diff * diff
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return fitPenalty
			}
			return loss
		},
	}

	x0 := []float64{math.Log(fitInitialBeta), math.Log(fitInitialGamma)}
	settings := &optimize.Settings{
		MajorIterations: 2000,
		FuncEvaluations: 10000,
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return SIRRates{}, err
	}

	rates := SIRRates{Beta: math.Exp(result.X[0]), Gamma: math.Exp(result.X[1])}
	if err := rates.Validate(); err != nil {
		return SIRRates{}, err
	}
	return rates, nil
}
