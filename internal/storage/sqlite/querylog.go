package sqlite

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Dashboard polls and ingest bursts go through the same handle, so any
// statement loitering past this threshold is worth a log line.
const slowQueryThreshold = 100 * time.Millisecond

// dbHandle is what the store methods run against; both *sql.DB and
// *queryLogger satisfy it.
type dbHandle interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Begin() (*sql.Tx, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// queryLogger wraps the raw handle and reports slow statements.
type queryLogger struct {
	inner *sql.DB
}

func (q *queryLogger) logSlow(start time.Time, query string) {
	if d := time.Since(start); d >= slowQueryThreshold {
		log.Printf("sqlite: slow query (%s): %s", d.Round(time.Millisecond), trimQuery(query))
	}
}

func (q *queryLogger) Exec(query string, args ...any) (sql.Result, error) {
	defer q.logSlow(time.Now(), query)
	return q.inner.Exec(query, args...)
}

func (q *queryLogger) Query(query string, args ...any) (*sql.Rows, error) {
	defer q.logSlow(time.Now(), query)
	return q.inner.Query(query, args...)
}

func (q *queryLogger) QueryRow(query string, args ...any) *sql.Row {
	defer q.logSlow(time.Now(), query)
	return q.inner.QueryRow(query, args...)
}

func (q *queryLogger) Begin() (*sql.Tx, error) {
	return q.inner.Begin()
}

func (q *queryLogger) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return q.inner.BeginTx(ctx, opts)
}

func (q *queryLogger) Close() error {
	return q.inner.Close()
}

func trimQuery(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
