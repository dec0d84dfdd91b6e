// Package lake writes validated batches to object storage as partitioned
// parquet files. Delivery is at-least-once: a record can land in files from
// two different runs when a prior run wrote durably but failed to advance
// the watermark, and the downstream catalog deduplicates on the record
// identity key.
package lake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/streetbite/lakepipe/internal/retry"
	"github.com/streetbite/lakepipe/pkg/logger"
	"github.com/streetbite/lakepipe/pkg/models"
)

const (
	parquetContentType  = "application/octet-stream"
	manifestContentType = "application/json"
)

// ErrUnavailable marks a write failure before anything landed in the
// bucket. The run fails safe and the next one re-extracts the window.
var ErrUnavailable = errors.New("object store unavailable")

// PartialError reports a batch where some partition files landed and a
// later write did not. Written files stay (harmless under at-least-once
// delivery) but the watermark must not advance.
type PartialError struct {
	Written   []string
	FailedKey string
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial write: %d files durable, %s failed: %v",
		len(e.Written), e.FailedKey, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Run identifies one pipeline invocation and the extraction window it
// covers. The id keeps retries of the same logical run idempotent (same
// key, same bytes) while distinct runs never overwrite each other.
type Run struct {
	ID    string
	Since time.Time
	Upper time.Time
}

// File is one durable partition file.
type File struct {
	Key  string `json:"key"`
	Rows int    `json:"rows"`
}

// Receipt summarizes a fully durable write.
type Receipt struct {
	Files []File
	Rows  int
}

// Keys returns the object keys of the receipt's files.
func (r *Receipt) Keys() []string {
	keys := make([]string, len(r.Files))
	for i, f := range r.Files {
		keys[i] = f.Key
	}
	return keys
}

// manifest is the per-run lineage object the downstream catalog reads.
type manifest struct {
	RunID     string    `json:"run_id"`
	Since     time.Time `json:"since"`
	Upper     time.Time `json:"upper"`
	Rows      int       `json:"rows"`
	Files     []File    `json:"files"`
	WrittenAt time.Time `json:"written_at"`
}

// Writer lands batches in the lake, one new uniquely named file per
// partition per run. It never rewrites an object in place.
type Writer struct {
	store  ObjectStore
	prefix string
	retry  retry.Policy
}

func NewWriter(store ObjectStore, prefix string, policy retry.Policy) *Writer {
	for len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	return &Writer{store: store, prefix: prefix, retry: policy}
}

// Write groups the batch by partition key and uploads one parquet file per
// partition, then a run manifest. The manifest is part of the durable
// contract: its failure is a write failure. Partitions are written in
// sorted key order so retries of the same run replay the same sequence.
//
// Returns ErrUnavailable when nothing landed, a *PartialError when some
// files did, and a Receipt only when every object is durable.
func (w *Writer) Write(ctx context.Context, batch []models.Record, run Run) (*Receipt, error) {
	if len(batch) == 0 {
		return &Receipt{}, nil
	}

	groups := make(map[models.PartitionKey][]models.Record)
	for _, rec := range batch {
		key := rec.Partition()
		groups[key] = append(groups[key], rec)
	}
	keys := make([]models.PartitionKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UnitID != keys[j].UnitID {
			return keys[i].UnitID < keys[j].UnitID
		}
		return keys[i].Date < keys[j].Date
	})

	receipt := &Receipt{}
	for _, key := range keys {
		records := groups[key]
		objKey := w.objectKey(key, run.ID)

		data, err := encodeParquet(records, run.ID)
		if err != nil {
			return nil, w.classify(receipt, objKey, err)
		}
		if err := w.put(ctx, objKey, data, parquetContentType, run.ID); err != nil {
			return nil, w.classify(receipt, objKey, err)
		}

		receipt.Files = append(receipt.Files, File{Key: objKey, Rows: len(records)})
		receipt.Rows += len(records)
		logger.Infow("partition file written", "key", objKey, "rows", len(records))
	}

	manifestKey := w.manifestKey(run.ID)
	data, err := json.MarshalIndent(manifest{
		RunID:     run.ID,
		Since:     run.Since.UTC(),
		Upper:     run.Upper.UTC(),
		Rows:      receipt.Rows,
		Files:     receipt.Files,
		WrittenAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return nil, w.classify(receipt, manifestKey, err)
	}
	if err := w.put(ctx, manifestKey, data, manifestContentType, run.ID); err != nil {
		return nil, w.classify(receipt, manifestKey, err)
	}

	return receipt, nil
}

func (w *Writer) put(ctx context.Context, key string, data []byte, contentType, runID string) error {
	return w.retry.Do(ctx, "lake put "+key, func(ctx context.Context) error {
		return w.store.Put(ctx, key, data, contentType, map[string]string{"run_id": runID})
	}, nil)
}

func (w *Writer) objectKey(key models.PartitionKey, runID string) string {
	return fmt.Sprintf("%s/%s/run-%s.parquet", w.prefix, key, runID)
}

func (w *Writer) manifestKey(runID string) string {
	return fmt.Sprintf("%s/_runs/run-%s.json", w.prefix, runID)
}

// classify decides between "nothing landed" and "some files landed".
func (w *Writer) classify(receipt *Receipt, key string, err error) error {
	if len(receipt.Files) == 0 {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &PartialError{Written: receipt.Keys(), FailedKey: key, Err: err}
}
