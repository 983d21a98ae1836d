package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/models"
)

// DatabasePool defines the pool operations the repositories need. Both
// *pgxpool.Pool and pgxmock pools satisfy it.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SeriesRepository stores country documents, the selectable country list and
// the ingest run log.
type SeriesRepository struct {
	pool DatabasePool
}

// NewSeriesRepository creates a new series repository.
func NewSeriesRepository(pool DatabasePool) *SeriesRepository {
	return &SeriesRepository{pool: pool}
}

// SaveCountryDocument inserts or replaces the document of doc.Country.
func (r *SeriesRepository) SaveCountryDocument(ctx context.Context, doc *models.CountryDocument) error {
	firstDate, err := epidemic.ParseISODate(doc.FirstDate)
	if err != nil {
		return fmt.Errorf("invalid first_date for %s: %w", doc.Country, err)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document for %s: %w", doc.Country, err)
	}

	query := `
		INSERT INTO country_documents (country, first_date, document, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (country)
		DO UPDATE SET
			first_date = EXCLUDED.first_date,
			document = EXCLUDED.document,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.pool.Exec(ctx, query, doc.Country, firstDate, payload); err != nil {
		return fmt.Errorf("failed to save document for %s: %w", doc.Country, err)
	}
	return nil
}

// GetCountryDocument loads and strictly parses the stored document of
// country. A missing row is reported as epidemic.ErrNoDataForEntity.
func (r *SeriesRepository) GetCountryDocument(ctx context.Context, country string) (*models.CountryDocument, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT document FROM country_documents WHERE country = $1`, country,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, epidemic.NewNoDataForEntity(country)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document for %s: %w", country, err)
	}
	return epidemic.ParseCountryDocument(payload)
}

// SaveCountryList replaces the selectable country list in one transaction.
func (r *SeriesRepository) SaveCountryList(ctx context.Context, list models.CountryList) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM countries`); err != nil {
		return fmt.Errorf("failed to clear country list: %w", err)
	}
	for name, info := range list {
		if _, err = tx.Exec(ctx,
			`INSERT INTO countries (name, flag, population) VALUES ($1, $2, $3)`,
			name, info.Flag, info.Population,
		); err != nil {
			return fmt.Errorf("failed to insert country %s: %w", name, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit country list: %w", err)
	}
	return nil
}

// ListCountries returns the selectable country list.
func (r *SeriesRepository) ListCountries(ctx context.Context) (models.CountryList, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, flag, population FROM countries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}
	defer rows.Close()

	list := models.CountryList{}
	for rows.Next() {
		var name string
		var info models.CountryInfo
		if err := rows.Scan(&name, &info.Flag, &info.Population); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		list[name] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating countries: %w", err)
	}
	return list, nil
}

// CreateIngestRun records the start of run.
func (r *SeriesRepository) CreateIngestRun(ctx context.Context, run *models.IngestRun) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, started_at, status) VALUES ($1, $2, $3)`,
		run.ID, run.StartedAt, string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to create ingest run: %w", err)
	}
	return nil
}

// FinishIngestRun stores the outcome of run.
func (r *SeriesRepository) FinishIngestRun(ctx context.Context, run *models.IngestRun) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ingest_runs
		SET finished_at = $2, status = $3, countries = $4, skipped = $5, error = $6
		WHERE id = $1
	`, run.ID, run.FinishedAt, string(run.Status), run.Countries, run.Skipped, run.Error)
	if err != nil {
		return fmt.Errorf("failed to finish ingest run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ingest run %s not found", run.ID)
	}
	return nil
}

// LatestIngestRun returns the most recently started run, or nil when none
// has been recorded.
func (r *SeriesRepository) LatestIngestRun(ctx context.Context) (*models.IngestRun, error) {
	var run models.IngestRun
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, started_at, finished_at, status, countries, skipped, error
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.Countries, &run.Skipped, &run.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest ingest run: %w", err)
	}
	run.Status = models.IngestStatus(status)
	return &run, nil
}
