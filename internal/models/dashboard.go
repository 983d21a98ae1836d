package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
)

// DashboardView is the index-aligned series set rendered for one country.
// Every slice has one entry per date in Dates.
type DashboardView struct {
	Country       string          `json:"country"`
	Flag          string          `json:"flag,omitempty"`
	Population    null.Int        `json:"population"`
	Horizon       int             `json:"horizon"`
	DoublingRate  null.Float      `json:"doubling_rate"`
	Dates         []string        `json:"dates"`
	Active        []null.Int      `json:"active"`
	Recovered     []null.Int      `json:"recovered"`
	Deaths        []null.Int      `json:"deaths"`
	DoublingRates []null.Float    `json:"doubling_rates"`
	Delta         []null.Int      `json:"delta"`
	ActiveDelta   []null.Int      `json:"active_delta"`
	DeltaSmoothed []null.Float    `json:"delta_smoothed"`
	Predicted     []null.Int      `json:"predicted,omitempty"`
	SIR           *SIRView        `json:"sir"`
	Summary       Summary         `json:"summary"`
	Latest        *LatestSnapshot `json:"latest,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// SIRView is the population-scaled SIR projection of a dashboard view.
type SIRView struct {
	FromDate string     `json:"from_date"`
	S        []null.Int `json:"S"`
	I        []null.Int `json:"I"`
	R        []null.Int `json:"R"`
	Total    []null.Int `json:"total"`
}

// Trend is the direction of the latest day-over-day change.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// Summary is the headline of a dashboard view.
type Summary struct {
	CurrentDate     string   `json:"current_date"`
	CurrentActive   int64    `json:"current_active"`
	ActiveTrend     Trend    `json:"active_trend"`
	PredictedDate   string   `json:"predicted_date,omitempty"`
	PredictedActive null.Int `json:"predicted_active"`
	Text            string   `json:"text"`
}

// IngestStatus is the outcome of an ingest run.
type IngestStatus string

const (
	IngestRunning   IngestStatus = "running"
	IngestSucceeded IngestStatus = "succeeded"
	IngestFailed    IngestStatus = "failed"
)

// IngestRun records one refresh of the upstream data.
type IngestRun struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	StartedAt  time.Time    `json:"started_at" db:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
	Status     IngestStatus `json:"status" db:"status"`
	Countries  int          `json:"countries" db:"countries"`
	Skipped    int          `json:"skipped" db:"skipped"`
	Error      string       `json:"error,omitempty" db:"error"`
}
