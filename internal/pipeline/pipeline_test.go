package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/streetbite/lakepipe/internal/extract"
	"github.com/streetbite/lakepipe/internal/lake"
	"github.com/streetbite/lakepipe/internal/quarantine"
	"github.com/streetbite/lakepipe/internal/retry"
	"github.com/streetbite/lakepipe/internal/transform"
	"github.com/streetbite/lakepipe/internal/watermark"
	"github.com/streetbite/lakepipe/pkg/models"
)

var (
	testCutoff = time.Date(2025, 10, 25, 23, 58, 0, 0, time.UTC)
	storedMark = time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)
	runClock   = time.Date(2025, 11, 1, 13, 0, 0, 0, time.UTC)
)

type fakeExtractor struct {
	raws    []models.RawRecord
	errs    []error
	calls   int
	windows [][2]time.Time
}

func (f *fakeExtractor) Extract(ctx context.Context, since, upper time.Time) ([]models.RawRecord, error) {
	f.calls++
	f.windows = append(f.windows, [2]time.Time{since, upper})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.raws, nil
}

type fakeWriter struct {
	err     error
	calls   int
	batches [][]models.Record
	runs    []lake.Run
}

func (f *fakeWriter) Write(ctx context.Context, batch []models.Record, run lake.Run) (*lake.Receipt, error) {
	f.calls++
	f.batches = append(f.batches, batch)
	f.runs = append(f.runs, run)
	if f.err != nil {
		return nil, f.err
	}
	return &lake.Receipt{
		Files: []lake.File{{Key: "transactions/unit=3/date=2025-11-01/run-" + run.ID + ".parquet", Rows: len(batch)}},
		Rows:  len(batch),
	}, nil
}

type memStore struct {
	mark       time.Time
	set        bool
	readErr    error
	advanceErr error
	advances   int
}

func (s *memStore) Read(ctx context.Context) (time.Time, error) {
	if s.readErr != nil {
		return time.Time{}, s.readErr
	}
	if !s.set {
		return time.Time{}, watermark.ErrNotFound
	}
	return s.mark, nil
}

func (s *memStore) Advance(ctx context.Context, prev, next time.Time) error {
	s.advances++
	if s.advanceErr != nil {
		return s.advanceErr
	}
	switch {
	case s.set && !s.mark.Equal(prev):
		return watermark.ErrConflict
	case !s.set && !prev.IsZero():
		return watermark.ErrConflict
	}
	s.mark, s.set = next, true
	return nil
}

type fakeSink struct {
	events []quarantine.Event
	err    error
}

func (f *fakeSink) Report(ctx context.Context, events []quarantine.Event) error {
	f.events = append(f.events, events...)
	return f.err
}

func (f *fakeSink) Close(ctx context.Context) error { return nil }

func validRaw(id int64) models.RawRecord {
	return models.RawRecord{
		ID:            sql.NullInt64{Int64: id, Valid: true},
		UnitID:        sql.NullInt64{Int64: 3, Valid: true},
		OccurredAt:    sql.NullTime{Time: storedMark.Add(10 * time.Minute), Valid: true},
		Amount:        sql.NullString{String: "520", Valid: true},
		PaymentMethod: sql.NullString{String: "cash", Valid: true},
	}
}

func invalidRaw(id int64) models.RawRecord {
	raw := validRaw(id)
	raw.Amount = sql.NullString{String: "N/A", Valid: true}
	return raw
}

type fixture struct {
	extractor *fakeExtractor
	writer    *fakeWriter
	store     *memStore
	sink      *fakeSink
	pipe      *Pipeline
}

func newFixtureAt(raws []models.RawRecord, clock time.Time) *fixture {
	f := &fixture{
		extractor: &fakeExtractor{raws: raws},
		writer:    &fakeWriter{},
		store:     &memStore{mark: storedMark, set: true},
		sink:      &fakeSink{},
	}
	f.pipe = New(Options{
		Extractor:   f.extractor,
		Transformer: transform.New(transform.Config{Cutoff: testCutoff, MaxUnitID: 6}),
		Writer:      f.writer,
		Watermarks:  f.store,
		Quarantine:  f.sink,
		Retry: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2.0,
		},
		Cutoff: testCutoff,
		Now:    func() time.Time { return clock },
	})
	return f
}

func newFixture(raws []models.RawRecord) *fixture {
	return newFixtureAt(raws, runClock)
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture([]models.RawRecord{validRaw(1), validRaw(2)})

	res, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}

	if res.RunID == "" {
		t.Error("run id not assigned")
	}
	if res.Extracted != 2 || res.Quarantined != 0 || res.Written != 2 {
		t.Errorf("counts = %d/%d/%d, want 2/0/2", res.Extracted, res.Quarantined, res.Written)
	}
	if !res.Since.Equal(storedMark) || !res.Upper.Equal(runClock) {
		t.Errorf("window = [%s, %s], want [%s, %s]", res.Since, res.Upper, storedMark, runClock)
	}

	if f.extractor.calls != 1 {
		t.Errorf("expected 1 extract, got %d", f.extractor.calls)
	}
	win := f.extractor.windows[0]
	if !win[0].Equal(storedMark) || !win[1].Equal(runClock) {
		t.Errorf("extract window = [%s, %s], want [%s, %s]", win[0], win[1], storedMark, runClock)
	}

	if f.writer.calls != 1 {
		t.Fatalf("expected 1 write, got %d", f.writer.calls)
	}
	if len(f.writer.batches[0]) != 2 {
		t.Errorf("batch size = %d, want 2", len(f.writer.batches[0]))
	}
	run := f.writer.runs[0]
	if run.ID != res.RunID || !run.Since.Equal(storedMark) || !run.Upper.Equal(runClock) {
		t.Errorf("writer run = %+v", run)
	}

	if !f.store.mark.Equal(runClock) {
		t.Errorf("watermark = %s, want %s", f.store.mark, runClock)
	}
	if f.store.advances != 1 {
		t.Errorf("expected exactly 1 advance, got %d", f.store.advances)
	}
}

func TestRunFirstRunStartsFromCutoff(t *testing.T) {
	f := newFixture([]models.RawRecord{validRaw(1)})
	f.store.set = false

	res, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}

	if !f.extractor.windows[0][0].Equal(testCutoff) {
		t.Errorf("first run since = %s, want cutoff %s", f.extractor.windows[0][0], testCutoff)
	}
	if !f.store.set || !f.store.mark.Equal(runClock) {
		t.Errorf("watermark not seeded: set=%v mark=%s", f.store.set, f.store.mark)
	}
}

func TestRunEmptyWindowStillAdvances(t *testing.T) {
	f := newFixture(nil)

	res, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}

	if f.writer.calls != 0 {
		t.Errorf("empty batch should not reach the writer, got %d writes", f.writer.calls)
	}
	if !f.store.mark.Equal(runClock) {
		t.Errorf("idle window must still advance the watermark, mark = %s", f.store.mark)
	}
}

func TestRunAllQuarantinedStillAdvances(t *testing.T) {
	f := newFixture([]models.RawRecord{invalidRaw(1), invalidRaw(2)})

	res, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}

	if res.Quarantined != 2 || res.Written != 0 {
		t.Errorf("counts = %d quarantined, %d written, want 2/0", res.Quarantined, res.Written)
	}
	if f.writer.calls != 0 {
		t.Errorf("all-quarantined batch should not reach the writer, got %d writes", f.writer.calls)
	}
	if !f.store.mark.Equal(runClock) {
		t.Errorf("all-quarantined run must still advance, mark = %s", f.store.mark)
	}

	if len(f.sink.events) != 2 {
		t.Fatalf("expected 2 quarantine events, got %d", len(f.sink.events))
	}
	ev := f.sink.events[0]
	if ev.RunID != res.RunID {
		t.Errorf("event run id = %q, want %q", ev.RunID, res.RunID)
	}
	if len(ev.Reasons) != 1 || ev.Reasons[0] != transform.ReasonInvalidAmount {
		t.Errorf("event reasons = %v", ev.Reasons)
	}
	if ev.Record.Amount != "N/A" {
		t.Errorf("event snapshot amount = %q, want the raw value", ev.Record.Amount)
	}
}

func TestRunWriterUnavailableFailsSafe(t *testing.T) {
	f := newFixture([]models.RawRecord{validRaw(1)})
	f.writer.err = fmt.Errorf("%w: connection refused", lake.ErrUnavailable)

	res, err := f.pipe.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.Status != StatusFailedSafe {
		t.Fatalf("status = %s, want failed_safe", res.Status)
	}
	if !errors.Is(err, lake.ErrUnavailable) {
		t.Errorf("expected lake.ErrUnavailable in chain, got %v", err)
	}
	if f.store.advances != 0 {
		t.Errorf("watermark advance attempted after a failed write: %d", f.store.advances)
	}
	if !f.store.mark.Equal(storedMark) {
		t.Errorf("watermark moved to %s on failure", f.store.mark)
	}
}

func TestRunPartialWriteFailsSafe(t *testing.T) {
	f := newFixture([]models.RawRecord{validRaw(1)})
	f.writer.err = &lake.PartialError{
		Written:   []string{"transactions/unit=3/date=2025-11-01/run-x.parquet"},
		FailedKey: "transactions/unit=4/date=2025-11-01/run-x.parquet",
		Err:       errors.New("connection reset"),
	}

	res, err := f.pipe.Run(context.Background())
	if res.Status != StatusFailedSafe {
		t.Fatalf("status = %s, want failed_safe", res.Status)
	}
	var partial *lake.PartialError
	if !errors.As(err, &partial) {
		t.Errorf("expected *lake.PartialError in chain, got %v", err)
	}
	if f.store.advances != 0 {
		t.Errorf("watermark advance attempted after a partial write: %d", f.store.advances)
	}
}

func TestRunRetriesTransientExtract(t *testing.T) {
	f := newFixture([]models.RawRecord{validRaw(1)})
	f.extractor.errs = []error{fmt.Errorf("%w: dial tcp", extract.ErrSourceUnavailable)}

	res, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed despite retry budget: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if f.extractor.calls != 2 {
		t.Errorf("expected 2 extract attempts, got %d", f.extractor.calls)
	}
}

func TestRunExtractRetryExhaustion(t *testing.T) {
	f := newFixture(nil)
	srcErr := fmt.Errorf("%w: dial tcp", extract.ErrSourceUnavailable)
	f.extractor.errs = []error{srcErr, srcErr, srcErr}

	res, err := f.pipe.Run(context.Background())
	if res.Status != StatusFailedSafe {
		t.Fatalf("status = %s, want failed_safe", res.Status)
	}
	if !errors.Is(err, extract.ErrSourceUnavailable) {
		t.Errorf("expected extract.ErrSourceUnavailable in chain, got %v", err)
	}
	if f.extractor.calls != 3 {
		t.Errorf("expected the full retry budget of 3 attempts, got %d", f.extractor.calls)
	}
	if f.writer.calls != 0 {
		t.Errorf("writer called after extraction failed: %d", f.writer.calls)
	}
	if f.store.advances != 0 {
		t.Errorf("watermark advance attempted after extraction failed: %d", f.store.advances)
	}
}

func TestRunSchemaMismatchAbortsWithoutRetry(t *testing.T) {
	f := newFixture(nil)
	f.extractor.errs = []error{&extract.SchemaMismatchError{Table: "transactions", Detail: "column amount does not exist"}}

	res, err := f.pipe.Run(context.Background())
	if res.Status != StatusFailedSafe {
		t.Fatalf("status = %s, want failed_safe", res.Status)
	}
	var schemaErr *extract.SchemaMismatchError
	if !errors.As(err, &schemaErr) {
		t.Errorf("expected *extract.SchemaMismatchError in chain, got %v", err)
	}
	if f.extractor.calls != 1 {
		t.Errorf("schema drift must not be retried, got %d attempts", f.extractor.calls)
	}
	if f.writer.calls != 0 || f.store.advances != 0 {
		t.Errorf("run progressed past a schema mismatch: writes=%d advances=%d", f.writer.calls, f.store.advances)
	}
}

func TestRunWatermarkConflictFailsSafe(t *testing.T) {
	f := newFixture([]models.RawRecord{validRaw(1)})
	f.store.advanceErr = watermark.ErrConflict

	res, err := f.pipe.Run(context.Background())
	if res.Status != StatusFailedSafe {
		t.Fatalf("status = %s, want failed_safe", res.Status)
	}
	if !errors.Is(err, watermark.ErrConflict) {
		t.Errorf("expected watermark.ErrConflict in chain, got %v", err)
	}
	// The batch was already durable when the conflict surfaced; that is
	// the at-least-once tradeoff, not a correctness problem.
	if f.writer.calls != 1 {
		t.Errorf("expected the write to have happened, got %d", f.writer.calls)
	}
}

func TestRunWatermarkReadFailureFailsSafe(t *testing.T) {
	f := newFixture(nil)
	f.store.readErr = fmt.Errorf("%w: connection refused", watermark.ErrUnavailable)

	res, err := f.pipe.Run(context.Background())
	if res.Status != StatusFailedSafe {
		t.Fatalf("status = %s, want failed_safe", res.Status)
	}
	if !errors.Is(err, watermark.ErrUnavailable) {
		t.Errorf("expected watermark.ErrUnavailable in chain, got %v", err)
	}
	if f.extractor.calls != 0 {
		t.Errorf("extraction attempted without a watermark: %d", f.extractor.calls)
	}
}

func TestRunSkipsWhenWindowIsEmpty(t *testing.T) {
	// The stored mark is ahead of this run's clock (skew, or a racing run
	// that just finished). Extracting would only produce an empty or
	// backwards window.
	f := newFixture([]models.RawRecord{validRaw(1)})
	f.store.mark = runClock.Add(time.Hour)

	res, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if f.extractor.calls != 0 {
		t.Errorf("empty window should not extract, got %d calls", f.extractor.calls)
	}
	if f.store.advances != 0 {
		t.Errorf("empty window should not advance, got %d", f.store.advances)
	}
}

func TestRunSinkFailureDoesNotFailRun(t *testing.T) {
	f := newFixture([]models.RawRecord{validRaw(1), invalidRaw(2)})
	f.sink.err = errors.New("quarantine backend down")

	res, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if res.Written != 1 || res.Quarantined != 1 {
		t.Errorf("counts = %d written, %d quarantined, want 1/1", res.Written, res.Quarantined)
	}
	if !f.store.mark.Equal(runClock) {
		t.Errorf("watermark = %s, want %s", f.store.mark, runClock)
	}
}

// A failed run leaves the watermark alone, so the next run re-extracts the
// same window and redelivers: at-least-once end to end.
func TestRunReextractsWindowAfterFailure(t *testing.T) {
	f := newFixture([]models.RawRecord{validRaw(1)})
	f.writer.err = fmt.Errorf("%w: outage", lake.ErrUnavailable)

	first, err := f.pipe.Run(context.Background())
	if err == nil || first.Status != StatusFailedSafe {
		t.Fatalf("expected the first run to fail safe, got %s / %v", first.Status, err)
	}

	f.writer.err = nil
	second, err := f.pipe.Run(context.Background())
	if err != nil || second.Status != StatusCompleted {
		t.Fatalf("expected the second run to complete, got %s / %v", second.Status, err)
	}

	if first.RunID == second.RunID {
		t.Error("runs must have distinct ids")
	}
	if len(f.extractor.windows) != 2 {
		t.Fatalf("expected 2 extractions, got %d", len(f.extractor.windows))
	}
	if !f.extractor.windows[0][0].Equal(f.extractor.windows[1][0]) {
		t.Errorf("second run extracted a different window: %s vs %s",
			f.extractor.windows[0][0], f.extractor.windows[1][0])
	}
	if len(f.writer.batches) != 2 || f.writer.batches[1][0].ID != 1 {
		t.Error("second run did not redeliver the window's records")
	}
}

func TestRunTruncatesUpperToSeconds(t *testing.T) {
	clock := runClock.Add(1234 * time.Millisecond)
	f := newFixtureAt(nil, clock)

	res, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := runClock.Add(time.Second)
	if !res.Upper.Equal(want) {
		t.Errorf("upper = %s, want %s truncated to seconds", res.Upper, want)
	}
	if !f.store.mark.Equal(want) {
		t.Errorf("watermark = %s, want %s", f.store.mark, want)
	}
}

func TestRunStateAndLastResult(t *testing.T) {
	f := newFixture(nil)

	if f.pipe.State() != StateIdle {
		t.Errorf("initial state = %s, want idle", f.pipe.State())
	}
	if f.pipe.LastResult() != nil {
		t.Error("expected no result before the first run")
	}

	res, err := f.pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if f.pipe.State() != StateIdle {
		t.Errorf("state after run = %s, want idle", f.pipe.State())
	}
	last := f.pipe.LastResult()
	if last == nil || last.RunID != res.RunID {
		t.Errorf("last result = %+v, want run %s", last, res.RunID)
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateIdle:             "idle",
		StateReadingWatermark: "reading_watermark",
		StateExtracting:       "extracting",
		StateValidating:       "validating",
		StateWriting:          "writing",
		StateAdvancing:        "advancing_watermark",
		State(99):             "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
