package watermark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeFormat is the wire format for persisted watermark values (UTC).
const TimeFormat = "2006-01-02 15:04:05"

var (
	// ErrNotFound means no watermark has ever been written under the
	// pipeline's name; the caller falls back to the historical cutoff.
	ErrNotFound = errors.New("watermark not found")

	// ErrConflict means the stored value no longer matches what the run
	// read at its start. Another invocation advanced it first.
	ErrConflict = errors.New("watermark changed concurrently")

	// ErrUnavailable means the store could not be reached or read. Data
	// already written stays written; the run fails safe.
	ErrUnavailable = errors.New("watermark store unavailable")
)

// Store is the durable home of the pipeline's single mutable cursor: the
// exclusive lower bound of unprocessed source data.
//
// Advance writes next only while the stored value still equals prev, so
// overlapping runs cannot clobber a more advanced mark with a stale one.
// A zero prev means the caller read ErrNotFound and expects the mark to
// still be absent. Advance is called at most once per run, strictly after
// the lake write is durable, and always with next greater than prev.
type Store interface {
	Read(ctx context.Context) (time.Time, error)
	Advance(ctx context.Context, prev, next time.Time) error
}

// Format renders a mark in the persisted wire format.
func Format(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Parse reads a mark in the persisted wire format.
func Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeFormat, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid watermark %q: %w", s, err)
	}
	return t, nil
}

// checkMonotonic rejects advances that would move the mark backwards or
// leave it in place.
func checkMonotonic(prev, next time.Time) error {
	if !next.After(prev) {
		return fmt.Errorf("watermark must advance: next %s is not after prev %s",
			Format(next), Format(prev))
	}
	return nil
}
