package lake

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/streetbite/lakepipe/pkg/models"
)

// fileRow is the columnar layout of one transaction. The run id column is
// lineage for the downstream catalog, which deduplicates on
// (unit_id, occurred_at, id) across files from overlapping runs.
type fileRow struct {
	ID            int64  `parquet:"id"`
	UnitID        int64  `parquet:"unit_id"`
	OccurredAt    int64  `parquet:"occurred_at,timestamp"`
	AmountPence   int64  `parquet:"amount_pence"`
	PaymentMethod string `parquet:"payment_method"`
	RunID         string `parquet:"run_id"`
}

// encodeParquet serializes one partition's records into a parquet file
// image. Deterministic for a given (records, runID) input.
func encodeParquet(records []models.Record, runID string) ([]byte, error) {
	rows := make([]fileRow, len(records))
	for i, rec := range records {
		rows[i] = fileRow{
			ID:            rec.ID,
			UnitID:        rec.UnitID,
			OccurredAt:    rec.OccurredAt.UTC().UnixMilli(),
			AmountPence:   rec.AmountPence,
			PaymentMethod: rec.PaymentMethod,
			RunID:         runID,
		}
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[fileRow](&buf, parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
