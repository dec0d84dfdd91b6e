// Package quarantine is the side channel for records that fail validation.
// Events are delivered best-effort to an observability sink; a sink failure
// never blocks or aborts the batch the records came from.
package quarantine

import (
	"context"
	"strconv"
	"time"

	"github.com/streetbite/lakepipe/pkg/logger"
	"github.com/streetbite/lakepipe/pkg/models"
)

// Event is one validation failure bound for the sink.
type Event struct {
	RunID      string         `bson:"run_id" json:"run_id"`
	Reasons    []string       `bson:"reasons" json:"reasons"`
	Record     RecordSnapshot `bson:"record" json:"record"`
	ObservedAt time.Time      `bson:"observed_at" json:"observed_at"`
}

// RecordSnapshot is the offending row rendered to plain strings, so events
// serialize the same way no matter which fields were null at the source.
type RecordSnapshot struct {
	ID            string `bson:"id,omitempty" json:"id,omitempty"`
	UnitID        string `bson:"unit_id,omitempty" json:"unit_id,omitempty"`
	OccurredAt    string `bson:"occurred_at,omitempty" json:"occurred_at,omitempty"`
	Amount        string `bson:"amount,omitempty" json:"amount,omitempty"`
	PaymentMethod string `bson:"payment_method,omitempty" json:"payment_method,omitempty"`
}

// Snapshot renders a raw source row for inclusion in an Event.
func Snapshot(raw models.RawRecord) RecordSnapshot {
	var s RecordSnapshot
	if raw.ID.Valid {
		s.ID = strconv.FormatInt(raw.ID.Int64, 10)
	}
	if raw.UnitID.Valid {
		s.UnitID = strconv.FormatInt(raw.UnitID.Int64, 10)
	}
	if raw.OccurredAt.Valid {
		s.OccurredAt = raw.OccurredAt.Time.UTC().Format(time.RFC3339)
	}
	if raw.Amount.Valid {
		s.Amount = raw.Amount.String
	}
	if raw.PaymentMethod.Valid {
		s.PaymentMethod = raw.PaymentMethod.String
	}
	return s
}

// Sink receives quarantine events. Delivery is at-least-once, best-effort:
// callers log a failed Report and move on.
type Sink interface {
	Report(ctx context.Context, events []Event) error
	Close(ctx context.Context) error
}

// LogSink writes each event to the structured log. It is the default sink
// when no external backend is configured.
type LogSink struct{}

func (LogSink) Report(ctx context.Context, events []Event) error {
	for _, e := range events {
		logger.Warnw("record quarantined",
			"run_id", e.RunID,
			"reasons", e.Reasons,
			"id", e.Record.ID,
			"unit_id", e.Record.UnitID,
			"occurred_at", e.Record.OccurredAt,
			"amount", e.Record.Amount,
			"payment_method", e.Record.PaymentMethod,
		)
	}
	return nil
}

func (LogSink) Close(ctx context.Context) error { return nil }
