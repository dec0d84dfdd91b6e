// Package extract issues the bounded range query that pulls the delta of
// source transactions newer than the watermark.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/streetbite/lakepipe/pkg/models"
)

// ErrSourceUnavailable marks connection, auth, and timeout failures against
// the source store. Retryable: the orchestrator wraps Extract in the run's
// retry policy, and the next scheduled trigger retries the window anyway.
var ErrSourceUnavailable = errors.New("source store unavailable")

// SchemaMismatchError means the expected columns or table are absent from
// the source. Not retryable; the run aborts before anything is written.
type SchemaMismatchError struct {
	Table  string
	Detail string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("source schema mismatch on %s: %s", e.Table, e.Detail)
}

// querier is the slice of pgxpool.Pool the extractor uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Extractor reads one time window of transactions from the source table.
type Extractor struct {
	db      querier
	table   string
	timeout time.Duration
}

func New(db querier, table string, queryTimeout time.Duration) *Extractor {
	return &Extractor{db: db, table: table, timeout: queryTimeout}
}

// Extract returns every row with sinceExclusive < occurred_at <= upperInclusive,
// ordered by (occurred_at, id) so batches are stable and gap-free. The upper
// bound is fixed by the caller at run start, never evaluated at query time,
// which keeps retried batches reproducible. An empty result is a valid,
// successful outcome.
//
// Amount and payment method are cast to text in the query so that malformed
// values reach the validator as raw strings instead of failing the scan.
func (e *Extractor) Extract(ctx context.Context, sinceExclusive, upperInclusive time.Time) ([]models.RawRecord, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	query := fmt.Sprintf(`
		SELECT id, unit_id, occurred_at, amount::text, payment_method::text
		FROM %s
		WHERE occurred_at > $1 AND occurred_at <= $2
		ORDER BY occurred_at, id`, e.table)

	rows, err := e.db.Query(ctx, query, sinceExclusive.UTC(), upperInclusive.UTC())
	if err != nil {
		return nil, e.classify(err)
	}
	defer rows.Close()

	var out []models.RawRecord
	for rows.Next() {
		var r models.RawRecord
		if err := rows.Scan(&r.ID, &r.UnitID, &r.OccurredAt, &r.Amount, &r.PaymentMethod); err != nil {
			return nil, e.classify(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, e.classify(err)
	}
	return out, nil
}

// classify maps driver errors onto the pipeline's taxonomy. Undefined
// column/table SQLSTATEs are schema drift and must reach an operator;
// everything else is treated as a transient source outage.
func (e *Extractor) classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42703", "42P01": // undefined_column, undefined_table
			return &SchemaMismatchError{Table: e.table, Detail: pgErr.Message}
		}
	}
	return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}
