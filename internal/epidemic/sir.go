package epidemic

import (
	"math"

	"github.com/guregu/null/v6"
)

// SIRState is a point of the compartment model, as fractions of the population.
type SIRState struct {
	S float64 `json:"s"`
	I float64 `json:"i"`
	R float64 `json:"r"`
}

// Sum returns S + I + R, which the model keeps at 1.
func (s SIRState) Sum() float64 {
	return s.S + s.I + s.R
}

// SIRRates is a contact rate β and recovery rate γ.
type SIRRates struct {
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// Validate rejects non-positive or non-finite rates.
func (r SIRRates) Validate() error {
	if !isPositiveFinite(r.Beta) {
		return NewInvalidParameterf("beta must be a positive finite number, got %v", r.Beta)
	}
	if !isPositiveFinite(r.Gamma) {
		return NewInvalidParameterf("gamma must be a positive finite number, got %v", r.Gamma)
	}
	return nil
}

// SIRParameters holds one (β, γ) pair per reported compartment. Each pair was
// tuned against the observations of its own compartment.
type SIRParameters struct {
	S SIRRates `json:"S"`
	I SIRRates `json:"I"`
	R SIRRates `json:"R"`
}

// Validate checks all three pairs.
func (p SIRParameters) Validate() error {
	for _, r := range []SIRRates{p.S, p.I, p.R} {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SIRForecast is the population-scaled projection of each compartment plus
// the infected+recovered total, aligned with the historical series.
type SIRForecast struct {
	S      []null.Int `json:"S"`
	I      []null.Int `json:"I"`
	R      []null.Int `json:"R"`
	Total  []null.Int `json:"total"`
	Splice int        `json:"splice"`
}

func (r SIRRates) derivative(y SIRState) SIRState {
	infection := r.Beta * y.S * y.I
	recovery := r.Gamma * y.I
	return SIRState{
		S: -infection,
		I: infection - recovery,
		R: recovery,
	}
}

func (y SIRState) add(k SIRState, h float64) SIRState {
	return SIRState{S: y.S + h*k.S, I: y.I + h*k.I, R: y.R + h*k.R}
}

// rk4Step advances y by one classical Runge-Kutta step of size h.
func rk4Step(r SIRRates, y SIRState, h float64) SIRState {
	k1 := r.derivative(y)
	k2 := r.derivative(y.add(k1, h/2))
	k3 := r.derivative(y.add(k2, h/2))
	k4 := r.derivative(y.add(k3, h))
	return SIRState{
		S: y.S + h/6*(k1.S+2*k2.S+2*k3.S+k4.S),
		I: y.I + h/6*(k1.I+2*k2.I+2*k3.I+k4.I),
		R: y.R + h/6*(k1.R+2*k2.R+2*k3.R+k4.R),
	}
}

// SimulateSIR integrates the normalized SIR system from t=0 with a fixed step
// of one day. The result holds steps+1 states, the first being initial.
func SimulateSIR(initial SIRState, rates SIRRates, steps int) ([]SIRState, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	if steps < 0 {
		return nil, NewInvalidParameterf("steps must be >= 0, got %d", steps)
	}
	states := make([]SIRState, steps+1)
	states[0] = initial
	for t := 1; t <= steps; t++ {
		states[t] = rk4Step(rates, states[t-1], 1)
	}
	return states, nil
}

// InitialState derives the t=0 fractions from the last observed values.
// S0 is the remaining mass 1 - I0 - R0.
func InitialState(active, recovered, population int64) SIRState {
	pop := float64(population)
	i0 := float64(active) / pop
	r0 := float64(recovered) / pop
	return SIRState{S: 1 - i0 - r0, I: i0, R: r0}
}

// ForecastSIR projects the compartments horizon days past the last observation.
//
// Three independent simulations run from the same initial state: S is read
// from the S-tuned run, I from the I-tuned run and R from the R-tuned run. The
// total is I from the I-tuned run plus R from the R-tuned run. Every reported
// count is rounded and clamped to [0, population].
func ForecastSIR(active, recovered []int64, population int64, params SIRParameters, horizon int) (*SIRForecast, error) {
	if population <= 0 {
		return nil, NewInvalidParameterf("population must be > 0, got %d", population)
	}
	if horizon < 0 {
		return nil, NewInvalidParameterf("horizon must be >= 0, got %d", horizon)
	}
	if len(active) == 0 {
		return nil, NewShapeMismatchf("empty active series")
	}
	if len(active) != len(recovered) {
		return nil, NewShapeMismatchf("active=%d recovered=%d", len(active), len(recovered))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	splice := len(active) - 1
	initial := InitialState(active[splice], recovered[splice], population)

	runS, err := SimulateSIR(initial, params.S, horizon)
	if err != nil {
		return nil, err
	}
	runI, err := SimulateSIR(initial, params.I, horizon)
	if err != nil {
		return nil, err
	}
	runR, err := SimulateSIR(initial, params.R, horizon)
	if err != nil {
		return nil, err
	}

	length := len(active) + horizon
	out := &SIRForecast{
		S:      make([]null.Int, length),
		I:      make([]null.Int, length),
		R:      make([]null.Int, length),
		Total:  make([]null.Int, length),
		Splice: splice,
	}
	for k := 0; k <= horizon; k++ {
		idx := splice + k
		out.S[idx] = null.IntFrom(scaleFraction(runS[k].S, population))
		out.I[idx] = null.IntFrom(scaleFraction(runI[k].I, population))
		out.R[idx] = null.IntFrom(scaleFraction(runR[k].R, population))
		out.Total[idx] = null.IntFrom(scaleFraction(runI[k].I+runR[k].R, population))
	}
	return out, nil
}

// scaleFraction converts a fraction to a head count within [0, population].
func scaleFraction(fraction float64, population int64) int64 {
	if math.IsNaN(fraction) {
		return 0
	}
	count := math.Round(fraction * float64(population))
	if count < 0 {
		return 0
	}
	if count > float64(population) {
		return population
	}
	return int64(count)
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
