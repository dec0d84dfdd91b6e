package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgConn is the slice of pgxpool.Pool the store uses. Narrowed to an
// interface so tests can drive the conditional-write paths without a server.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the watermark in a one-row-per-pipeline table and
// advances it with a conditional UPDATE, which is what makes overlapping
// runs safe: exactly one of them wins the advance.
type PostgresStore struct {
	db   pgConn
	name string
}

func NewPostgresStore(db pgConn, name string) *PostgresStore {
	return &PostgresStore{db: db, name: name}
}

// EnsureSchema creates the watermark table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_watermarks (
			name       text PRIMARY KEY,
			mark       timestamptz NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context) (time.Time, error) {
	var mark time.Time
	err := s.db.QueryRow(ctx,
		`SELECT mark FROM pipeline_watermarks WHERE name = $1`, s.name).Scan(&mark)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		// undefined_table: nothing has ever advanced, same as no row.
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return mark.UTC(), nil
}

func (s *PostgresStore) Advance(ctx context.Context, prev, next time.Time) error {
	if err := checkMonotonic(prev, next); err != nil {
		return err
	}

	if prev.IsZero() {
		// First ever advance: the row must still be absent.
		tag, err := s.db.Exec(ctx, `
			INSERT INTO pipeline_watermarks (name, mark, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (name) DO NOTHING`, s.name, next.UTC())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if tag.RowsAffected() == 0 {
			return s.conflict(ctx)
		}
		return nil
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE pipeline_watermarks
		SET mark = $2, updated_at = now()
		WHERE name = $1 AND mark = $3`, s.name, next.UTC(), prev.UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflict(ctx)
	}
	return nil
}

// conflict names the stored value that beat this run's advance, when it can
// still be read.
func (s *PostgresStore) conflict(ctx context.Context) error {
	current, err := s.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: watermark row vanished", ErrConflict)
	}
	if err != nil {
		return ErrConflict
	}
	return fmt.Errorf("%w: stored mark is %s", ErrConflict, Format(current))
}
