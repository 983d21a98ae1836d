package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/covid-pulse-go/internal/logging"
	"github.com/irfndi/covid-pulse-go/internal/telemetry"
)

// TracedPool wraps a DatabasePool and opens a client span per statement.
type TracedPool struct {
	pool   DatabasePool
	tracer trace.Tracer
	logger *logging.StandardLogger
}

// NewTracedPool wraps pool with the global database tracer.
func NewTracedPool(pool DatabasePool) *TracedPool {
	return NewTracedPoolWith(pool, telemetry.GetTracer("covid-pulse-go/database"))
}

// NewTracedPoolWith wraps pool with an explicit tracer.
func NewTracedPoolWith(pool DatabasePool, tracer trace.Tracer) *TracedPool {
	return &TracedPool{pool: pool, tracer: tracer}
}

// WithLogger logs every successful Exec at debug level.
func (p *TracedPool) WithLogger(logger *logging.StandardLogger) *TracedPool {
	p.logger = logger
	return p
}

func (p *TracedPool) startSpan(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	return startStatementSpan(ctx, p.tracer, operation, sql)
}

func startStatementSpan(ctx context.Context, tracer trace.Tracer, operation, sql string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
	}
	if sql != "" {
		attrs = append(attrs, attribute.String("db.statement", strings.Join(strings.Fields(sql), " ")))
	}
	return tracer.Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// Query executes a query inside a span. The span ends when the call returns,
// not when rows are drained.
func (p *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := p.startSpan(ctx, "query", sql)
	defer span.End()

	rows, err := p.pool.Query(ctx, sql, args...)
	RecordDatabaseError(span, err)
	return rows, err
}

func (p *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := p.startSpan(ctx, "query_row", sql)
	return &tracedRow{row: p.pool.QueryRow(ctx, sql, args...), span: span}
}

func (p *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := p.startSpan(ctx, "exec", sql)
	defer span.End()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, sql, args...)
	RecordDatabaseError(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
		if p.logger != nil {
			verb, table := statementTarget(sql)
			p.logger.LogDatabaseOperation(verb, table,
				time.Since(start).Milliseconds(), tag.RowsAffected())
		}
	}
	return tag, err
}

func (p *TracedPool) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := p.startSpan(ctx, "begin", "")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	RecordDatabaseError(span, err)
	if err != nil {
		return nil, err
	}
	return &TracedTx{Tx: tx, tracer: p.tracer}, nil
}

// tracedRow ends its span once the row is scanned.
type tracedRow struct {
	row  pgx.Row
	span trace.Span
}

func (r *tracedRow) Scan(dest ...interface{}) error {
	defer r.span.End()
	err := r.row.Scan(dest...)
	if !errors.Is(err, pgx.ErrNoRows) {
		RecordDatabaseError(r.span, err)
	}
	return err
}

// TracedTx traces the statements and completion of a transaction. Methods
// it does not override go straight to the wrapped pgx.Tx.
type TracedTx struct {
	pgx.Tx
	tracer trace.Tracer
}

func (tx *TracedTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := startStatementSpan(ctx, tx.tracer, "tx.exec", sql)
	defer span.End()

	tag, err := tx.Tx.Exec(ctx, sql, args...)
	RecordDatabaseError(span, err)
	return tag, err
}

func (tx *TracedTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := startStatementSpan(ctx, tx.tracer, "tx.query", sql)
	defer span.End()

	rows, err := tx.Tx.Query(ctx, sql, args...)
	RecordDatabaseError(span, err)
	return rows, err
}

func (tx *TracedTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := startStatementSpan(ctx, tx.tracer, "tx.query_row", sql)
	return &tracedRow{row: tx.Tx.QueryRow(ctx, sql, args...), span: span}
}

func (tx *TracedTx) Commit(ctx context.Context) error {
	ctx, span := startStatementSpan(ctx, tx.tracer, "tx.commit", "")
	defer span.End()

	err := tx.Tx.Commit(ctx)
	RecordDatabaseError(span, err)
	return err
}

func (tx *TracedTx) Rollback(ctx context.Context) error {
	ctx, span := startStatementSpan(ctx, tx.tracer, "tx.rollback", "")
	defer span.End()

	err := tx.Tx.Rollback(ctx)
	if !errors.Is(err, pgx.ErrTxClosed) {
		RecordDatabaseError(span, err)
	}
	return err
}

// statementTarget returns the lower-cased verb of a statement and the table
// it writes to, if one can be found.
func statementTarget(sql string) (verb, table string) {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "", ""
	}
	verb = strings.ToLower(fields[0])
	for i := 0; i < len(fields)-1; i++ {
		switch strings.ToUpper(fields[i]) {
		case "INTO", "UPDATE", "FROM":
			return verb, strings.Trim(fields[i+1], "(;")
		}
	}
	return verb, ""
}

// RecordDatabaseError marks span failed when err is set.
func RecordDatabaseError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
