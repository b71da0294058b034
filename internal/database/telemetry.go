package database

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/irfndi/distance-pairs/internal/database"

var tablePattern = regexp.MustCompile(`(?i)\b(?:from|into|update|table(?: if not exists)?)\s+([a-z_][a-z0-9_]*)`)

// TracedPool wraps a DatabasePool with a span and a debug log line per statement.
type TracedPool struct {
	pool   DatabasePool
	tracer trace.Tracer
	logger *logging.StandardLogger
}

// NewTracedPool wraps pool. A nil provider uses the global tracer provider; a nil logger uses the logrus standard logger.
func NewTracedPool(pool DatabasePool, provider trace.TracerProvider, logger *logging.StandardLogger) *TracedPool {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if logger == nil {
		logger = logging.NewStandardLoggerFrom(nil)
	}
	return &TracedPool{pool: pool, tracer: provider.Tracer(tracerName), logger: logger}
}

type observer struct {
	tracer trace.Tracer
	logger *logging.StandardLogger
}

func (o observer) start(ctx context.Context, operation, sql, table string) (context.Context, trace.Span) {
	if table == "" {
		table = statementTable(sql)
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
	}
	if table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", table))
	}
	if sql != "" {
		attrs = append(attrs, attribute.String("db.statement", compactSQL(sql)))
	}
	return o.tracer.Start(ctx, "db."+strings.ToLower(operation), trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func (o observer) finish(span trace.Span, operation, table string, start time.Time, rows int64, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if rows >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", rows))
	}
	span.End()
	o.logger.LogDatabaseOperation(operation, table, time.Since(start).Milliseconds(), rows)
}

func (p *TracedPool) observer() observer {
	return observer{tracer: p.tracer, logger: p.logger}
}

func (p *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return observedQuery(ctx, p.observer(), p.pool.Query, sql, args...)
}

func (p *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return observedQueryRow(ctx, p.observer(), p.pool.QueryRow, sql, args...)
}

func (p *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return observedExec(ctx, p.observer(), p.pool.Exec, sql, args...)
}

func (p *TracedPool) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return observedCopy(ctx, p.observer(), p.pool.CopyFrom, tableName, columnNames, rowSrc)
}

func (p *TracedPool) Begin(ctx context.Context) (pgx.Tx, error) {
	o := p.observer()
	start := time.Now()
	_, span := o.start(ctx, "BEGIN", "", "")
	tx, err := p.pool.Begin(ctx)
	o.finish(span, "BEGIN", "", start, -1, err)
	if err != nil {
		return nil, err
	}
	return &TracedTx{Tx: tx, obs: o}, nil
}

// TracedTx wraps a transaction with the same observation as TracedPool.
type TracedTx struct {
	pgx.Tx
	obs observer
}

func (tx *TracedTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return observedQuery(ctx, tx.obs, tx.Tx.Query, sql, args...)
}

func (tx *TracedTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return observedQueryRow(ctx, tx.obs, tx.Tx.QueryRow, sql, args...)
}

func (tx *TracedTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return observedExec(ctx, tx.obs, tx.Tx.Exec, sql, args...)
}

func (tx *TracedTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return observedCopy(ctx, tx.obs, tx.Tx.CopyFrom, tableName, columnNames, rowSrc)
}

func (tx *TracedTx) Commit(ctx context.Context) error {
	start := time.Now()
	_, span := tx.obs.start(ctx, "COMMIT", "", "")
	err := tx.Tx.Commit(ctx)
	tx.obs.finish(span, "COMMIT", "", start, -1, err)
	return err
}

func (tx *TracedTx) Rollback(ctx context.Context) error {
	start := time.Now()
	_, span := tx.obs.start(ctx, "ROLLBACK", "", "")
	err := tx.Tx.Rollback(ctx)
	tx.obs.finish(span, "ROLLBACK", "", start, -1, err)
	return err
}

func observedQuery(ctx context.Context, o observer, fn func(context.Context, string, ...interface{}) (pgx.Rows, error), sql string, args ...interface{}) (pgx.Rows, error) {
	op := sqlOperation(sql)
	start := time.Now()
	ctx, span := o.start(ctx, op, sql, "")
	rows, err := fn(ctx, sql, args...)
	o.finish(span, op, statementTable(sql), start, -1, err)
	return rows, err
}

func observedQueryRow(ctx context.Context, o observer, fn func(context.Context, string, ...interface{}) pgx.Row, sql string, args ...interface{}) pgx.Row {
	op := sqlOperation(sql)
	start := time.Now()
	ctx, span := o.start(ctx, op, sql, "")
	row := fn(ctx, sql, args...)
	o.finish(span, op, statementTable(sql), start, -1, nil)
	return row
}

func observedExec(ctx context.Context, o observer, fn func(context.Context, string, ...interface{}) (pgconn.CommandTag, error), sql string, args ...interface{}) (pgconn.CommandTag, error) {
	op := sqlOperation(sql)
	start := time.Now()
	ctx, span := o.start(ctx, op, sql, "")
	tag, err := fn(ctx, sql, args...)
	o.finish(span, op, statementTable(sql), start, tag.RowsAffected(), err)
	return tag, err
}

func observedCopy(ctx context.Context, o observer, fn func(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error), tableName pgx.Identifier, columns []string, rowSrc pgx.CopyFromSource) (int64, error) {
	table := strings.Join(tableName, ".")
	start := time.Now()
	ctx, span := o.start(ctx, "COPY", "", table)
	n, err := fn(ctx, tableName, columns, rowSrc)
	o.finish(span, "COPY", table, start, n, err)
	return n, err
}

// sqlOperation returns the leading keyword of a statement, e.g. SELECT.
func sqlOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(fields[0])
}

func statementTable(sql string) string {
	if m := tablePattern.FindStringSubmatch(sql); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
