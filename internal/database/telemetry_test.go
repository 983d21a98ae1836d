package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/irfndi/covid-pulse-go/internal/logging"
	"github.com/irfndi/covid-pulse-go/internal/models"
)

func newTracedRepository(t *testing.T) (*SeriesRepository, pgxmock.PgxPoolIface, *tracetest.SpanRecorder) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	pool := NewTracedPoolWith(mock, tp.Tracer("test"))
	return NewSeriesRepository(pool), mock, recorder
}

func spanNames(recorder *tracetest.SpanRecorder) []string {
	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func TestTracedPool_Exec(t *testing.T) {
	repo, mock, recorder := newTracedRepository(t)
	mock.ExpectExec("INSERT INTO country_documents").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveCountryDocument(context.Background(), sampleDocument()))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "db.exec", ended[0].Name())
	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "postgresql", attrs["db.system"])
	assert.Contains(t, attrs["db.statement"], "INSERT INTO country_documents (country, first_date, document, updated_at)")
	assert.Equal(t, "1", attrs["db.rows_affected"])
}

func TestTracedPool_QueryRowEndsOnScan(t *testing.T) {
	repo, mock, recorder := newTracedRepository(t)
	mock.ExpectQuery("SELECT document").WillReturnError(errors.New("timeout"))

	_, err := repo.GetCountryDocument(context.Background(), "Germany")
	require.Error(t, err)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "db.query_row", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestTracedPool_Transaction(t *testing.T) {
	repo, mock, recorder := newTracedRepository(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM countries").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO countries").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.SaveCountryList(context.Background(), models.CountryList{"Chile": {Flag: "cl.png"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"db.begin", "db.tx.exec", "db.tx.exec", "db.tx.commit"}, spanNames(recorder))
}

func TestTracedPool_QueryError(t *testing.T) {
	repo, mock, recorder := newTracedRepository(t)
	mock.ExpectQuery("SELECT name").WillReturnError(errors.New("relation does not exist"))

	_, err := repo.ListCountries(context.Background())
	require.Error(t, err)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestTracedPool_ExecLogsOperation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	var buf bytes.Buffer
	tp := sdktrace.NewTracerProvider()
	pool := NewTracedPoolWith(mock, tp.Tracer("test")).
		WithLogger(logging.NewStandardLoggerWithWriter(&buf, "debug", ""))
	repo := NewSeriesRepository(pool)

	mock.ExpectExec("INSERT INTO country_documents").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.SaveCountryDocument(context.Background(), sampleDocument()))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "database", entry["event"])
	assert.Equal(t, "insert", entry["operation"])
	assert.Equal(t, "country_documents", entry["table"])
	assert.Equal(t, float64(1), entry["rows_affected"])
}

func TestStatementTarget(t *testing.T) {
	tests := []struct {
		sql   string
		verb  string
		table string
	}{
		{"INSERT INTO ingest_runs (id) VALUES ($1)", "insert", "ingest_runs"},
		{"UPDATE ingest_runs SET status = $2", "update", "ingest_runs"},
		{"DELETE FROM countries", "delete", "countries"},
		{"SELECT 1", "select", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.verb+tt.table, func(t *testing.T) {
			verb, table := statementTarget(tt.sql)
			assert.Equal(t, tt.verb, verb)
			assert.Equal(t, tt.table, table)
		})
	}
}
