package models

import (
	"database/sql"
	"fmt"
	"time"
)

// RawRecord is one source row exactly as extracted, before validation.
// Amount and payment method stay raw text so a malformed value can be
// quarantined per record instead of failing the whole scan.
type RawRecord struct {
	ID            sql.NullInt64
	UnitID        sql.NullInt64
	OccurredAt    sql.NullTime
	Amount        sql.NullString
	PaymentMethod sql.NullString
}

// Record is one validated transaction bound for the lake.
// Amounts are held in integer pence.
type Record struct {
	ID            int64
	UnitID        int64
	OccurredAt    time.Time
	AmountPence   int64
	PaymentMethod string
}

// IdentityKey is the deduplication key downstream readers use to collapse
// duplicates produced by at-least-once delivery.
func (r Record) IdentityKey() string {
	return fmt.Sprintf("%d|%s|%d", r.UnitID, r.OccurredAt.UTC().Format(time.RFC3339), r.ID)
}

// PartitionKey groups records by originating unit and calendar date (UTC).
type PartitionKey struct {
	UnitID int64
	Date   string
}

// Partition derives the record's partition key. It depends only on the
// record itself, never on when the pipeline ran.
func (r Record) Partition() PartitionKey {
	return PartitionKey{
		UnitID: r.UnitID,
		Date:   r.OccurredAt.UTC().Format("2006-01-02"),
	}
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("unit=%d/date=%s", k.UnitID, k.Date)
}
