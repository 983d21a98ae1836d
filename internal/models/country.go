package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// CountryDocument is the per-country JSON document produced by the ingest
// pipeline and served to the dashboard.
type CountryDocument struct {
	Country       string          `json:"country" db:"country"`
	Population    null.Int        `json:"population" db:"population"`
	Flag          string          `json:"flag,omitempty" db:"flag"`
	FirstDate     string          `json:"first_date" db:"first_date"`
	Dates         []string        `json:"dates,omitempty"`
	Latest        *LatestSnapshot `json:"latest,omitempty"`
	Total         []int64         `json:"total,omitempty"`
	Active        []int64         `json:"active"`
	Deaths        []int64         `json:"deaths"`
	Recovered     []int64         `json:"recovered"`
	DoublingRates []null.Float    `json:"doubling_rates"`
	Predicted     *Prediction     `json:"predicted,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at,omitempty" db:"updated_at"`
}

// HasSIR reports whether the document carries fitted SIR parameters.
func (d *CountryDocument) HasSIR() bool {
	return d.Predicted != nil && d.Predicted.SIR != nil
}

// LatestSnapshot holds the most recent counts reported for a country.
type LatestSnapshot struct {
	LastUpdate string   `json:"last_update"`
	Where      Location `json:"where"`
	Total      null.Int `json:"total"`
	Deaths     null.Int `json:"deaths"`
	Recovered  null.Int `json:"recovered"`
	Active     null.Int `json:"active"`
}

// Location is a reporting coordinate rounded to five decimals.
type Location struct {
	Lat null.Float `json:"lat"`
	Lon null.Float `json:"lon"`
}

// Prediction holds the precomputed projections of a document.
type Prediction struct {
	FromDate     string         `json:"from_date,omitempty"`
	DoublingRate null.Float     `json:"doubling_rate"`
	Active       []null.Int     `json:"active,omitempty"`
	SIR          *SIRPrediction `json:"SIR,omitempty"`
}

// SIRPrediction holds the fitted rates per compartment.
type SIRPrediction struct {
	FromDate string     `json:"from_date"`
	S        RateParams `json:"S"`
	I        RateParams `json:"I"`
	R        RateParams `json:"R"`
}

// RateParams is a fitted contact rate and recovery rate.
type RateParams struct {
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// CountryInfo is the display metadata of a selectable country.
type CountryInfo struct {
	Flag       string `json:"flag"`
	Population int64  `json:"population"`
}

// CountryList maps country name to its display metadata.
type CountryList map[string]CountryInfo

// Contains reports whether country is selectable.
func (l CountryList) Contains(country string) bool {
	_, ok := l[country]
	return ok
}

// WorldData is one row of the population table.
type WorldData struct {
	Country    string `json:"country"`
	Population int64  `json:"population"`
	Flag       string `json:"flag"`
}
