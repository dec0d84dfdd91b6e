// Package pipeline sequences one incremental extract-validate-write run and
// decides when the watermark may advance. Every failure path leaves the
// watermark untouched, so the worst outcome of any run is re-extracting a
// window whose records the writer already delivered at least once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/streetbite/lakepipe/internal/extract"
	"github.com/streetbite/lakepipe/internal/lake"
	"github.com/streetbite/lakepipe/internal/metrics"
	"github.com/streetbite/lakepipe/internal/quarantine"
	"github.com/streetbite/lakepipe/internal/retry"
	"github.com/streetbite/lakepipe/internal/transform"
	"github.com/streetbite/lakepipe/internal/watermark"
	"github.com/streetbite/lakepipe/pkg/logger"
	"github.com/streetbite/lakepipe/pkg/models"
)

// State is the orchestrator's position in the run sequence, readable while
// a run is in flight (the daemon health endpoint reports it).
type State int32

const (
	StateIdle State = iota
	StateReadingWatermark
	StateExtracting
	StateValidating
	StateWriting
	StateAdvancing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadingWatermark:
		return "reading_watermark"
	case StateExtracting:
		return "extracting"
	case StateValidating:
		return "validating"
	case StateWriting:
		return "writing"
	case StateAdvancing:
		return "advancing_watermark"
	default:
		return "unknown"
	}
}

// Status is a run's terminal outcome. There is no unsafe failure state by
// construction: a crash at any point leaves the watermark unadvanced and
// the next run re-extracts.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusFailedSafe Status = "failed_safe"
)

// Result summarizes one run.
type Result struct {
	RunID       string        `json:"run_id"`
	Status      Status        `json:"status"`
	Since       time.Time     `json:"since"`
	Upper       time.Time     `json:"upper"`
	Extracted   int           `json:"extracted"`
	Quarantined int           `json:"quarantined"`
	Written     int           `json:"written"`
	Files       []string      `json:"files,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Extractor pulls the raw delta for one time window.
type Extractor interface {
	Extract(ctx context.Context, sinceExclusive, upperInclusive time.Time) ([]models.RawRecord, error)
}

// Writer lands a validated batch durably in the lake.
type Writer interface {
	Write(ctx context.Context, batch []models.Record, run lake.Run) (*lake.Receipt, error)
}

// Options wires a Pipeline. Now defaults to time.Now and a zero Retry to
// the default schedule; everything else is required.
type Options struct {
	Extractor   Extractor
	Transformer *transform.Transformer
	Writer      Writer
	Watermarks  watermark.Store
	Quarantine  quarantine.Sink
	Retry       retry.Policy

	// Cutoff is the historical lower bound used when no watermark exists.
	Cutoff time.Time
	// Now is the run clock; defaults to time.Now.
	Now func() time.Time
}

type Pipeline struct {
	extractor   Extractor
	transformer *transform.Transformer
	writer      Writer
	marks       watermark.Store
	sink        quarantine.Sink
	retry       retry.Policy
	cutoff      time.Time
	now         func() time.Time

	state atomic.Int32
	last  atomic.Pointer[Result]
}

func New(opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := opts.Retry
	if policy == (retry.Policy{}) {
		policy = retry.Default()
	}
	return &Pipeline{
		extractor:   opts.Extractor,
		transformer: opts.Transformer,
		writer:      opts.Writer,
		marks:       opts.Watermarks,
		sink:        opts.Quarantine,
		retry:       policy,
		cutoff:      opts.Cutoff,
		now:         now,
	}
}

// State reports where the current (or last) run is in the sequence.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// LastResult returns the most recent run's result, nil before the first.
func (p *Pipeline) LastResult() *Result {
	return p.last.Load()
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}

// Run executes one incremental run. The returned Result is always non-nil;
// a non-nil error always pairs with StatusFailedSafe. FailedSafe means no
// data was lost and the watermark is unchanged: the next scheduled run
// re-extracts the same window and the lake tolerates the duplicates.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	started := p.now().UTC()
	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: started,
	}
	defer func() {
		p.setState(StateIdle)
		res.Duration = p.now().UTC().Sub(started)
		p.last.Store(res)
		metrics.RunsTotal.WithLabelValues(string(res.Status)).Inc()
		metrics.RunDuration.Observe(res.Duration.Seconds())
	}()

	// Snapshot upper bound: fixed at run start so the batch is bounded and
	// reproducible on retry. Truncated to seconds to match the stored
	// watermark precision.
	upper := started.Truncate(time.Second)

	p.setState(StateReadingWatermark)
	prev, err := p.marks.Read(ctx)
	since := prev
	switch {
	case errors.Is(err, watermark.ErrNotFound):
		// Never run before: process all history from the configured cutoff.
		prev = time.Time{}
		since = p.cutoff
		logger.Infow("no watermark found, starting from historical cutoff",
			"run_id", res.RunID, "cutoff", watermark.Format(since))
	case err != nil:
		return p.fail(res, fmt.Errorf("reading watermark: %w", err))
	}
	res.Since, res.Upper = since, upper

	if !upper.After(since) {
		// Clock skew or a trigger racing a just-finished run. Extracting
		// here could only advance the watermark backwards, so do nothing.
		res.Status = StatusCompleted
		logger.Warnw("window is empty, skipping run",
			"run_id", res.RunID, "since", watermark.Format(since), "upper", watermark.Format(upper))
		return res, nil
	}

	logger.Infow("run started",
		"run_id", res.RunID, "since", watermark.Format(since), "upper", watermark.Format(upper))

	p.setState(StateExtracting)
	var raws []models.RawRecord
	err = p.retry.Do(ctx, "extract", func(ctx context.Context) error {
		var exErr error
		raws, exErr = p.extractor.Extract(ctx, since, upper)
		return exErr
	}, func(err error) bool {
		return errors.Is(err, extract.ErrSourceUnavailable)
	})
	if err != nil {
		var schemaErr *extract.SchemaMismatchError
		if errors.As(err, &schemaErr) {
			// Operator problem, not an outage. Nothing was written.
			return p.fail(res, fmt.Errorf("source schema drift, run aborted: %w", err))
		}
		return p.fail(res, fmt.Errorf("extracting window: %w", err))
	}
	res.Extracted = len(raws)
	metrics.RecordsExtracted.Add(float64(len(raws)))

	p.setState(StateValidating)
	records, rejections := p.transformer.Apply(raws, upper)
	res.Quarantined = len(rejections)
	p.reportQuarantine(ctx, res.RunID, rejections)

	// An empty valid batch still advances the watermark: idle periods and
	// all-quarantined batches must not make the pipeline fall behind.
	if len(records) > 0 {
		p.setState(StateWriting)
		receipt, err := p.writer.Write(ctx, records, lake.Run{ID: res.RunID, Since: since, Upper: upper})
		if err != nil {
			var partial *lake.PartialError
			if errors.As(err, &partial) {
				logger.Warnw("partial write, durable files remain for at-least-once redelivery",
					"run_id", res.RunID, "written", len(partial.Written), "failed_key", partial.FailedKey)
			}
			return p.fail(res, fmt.Errorf("writing batch: %w", err))
		}
		res.Written = receipt.Rows
		res.Files = receipt.Keys()
		metrics.RecordsWritten.Add(float64(receipt.Rows))
		metrics.FilesWritten.Add(float64(len(receipt.Files)))
	}

	p.setState(StateAdvancing)
	// Attempted exactly once per run, only after the write is durable, and
	// conditional on the value read at run start. Exactly one of any
	// overlapping runs can win this.
	if err := p.marks.Advance(ctx, prev, upper); err != nil {
		if errors.Is(err, watermark.ErrConflict) {
			return p.fail(res, fmt.Errorf("overlapping run advanced the watermark first: %w", err))
		}
		return p.fail(res, fmt.Errorf("advancing watermark (files stay durable, next run re-extracts): %w", err))
	}
	metrics.WatermarkTimestamp.Set(float64(upper.Unix()))

	res.Status = StatusCompleted
	logger.Infow("run completed",
		"run_id", res.RunID,
		"extracted", res.Extracted,
		"quarantined", res.Quarantined,
		"written", res.Written,
		"files", len(res.Files),
		"watermark", watermark.Format(upper),
	)
	return res, nil
}

func (p *Pipeline) fail(res *Result, err error) (*Result, error) {
	res.Status = StatusFailedSafe
	logger.Errorw("run failed safe, watermark unchanged", "run_id", res.RunID, "error", err)
	return res, err
}

// reportQuarantine forwards rejections to the sink. Best-effort: a sink
// failure is logged and counted, never fatal to the run.
func (p *Pipeline) reportQuarantine(ctx context.Context, runID string, rejections []transform.Rejection) {
	if len(rejections) == 0 {
		return
	}

	observed := p.now().UTC()
	events := make([]quarantine.Event, len(rejections))
	for i, rej := range rejections {
		events[i] = quarantine.Event{
			RunID:      runID,
			Reasons:    rej.Reasons,
			Record:     quarantine.Snapshot(rej.Raw),
			ObservedAt: observed,
		}
		for _, reason := range rej.Reasons {
			metrics.RecordsQuarantined.WithLabelValues(reason).Inc()
		}
	}

	if err := p.sink.Report(ctx, events); err != nil {
		logger.Errorw("quarantine sink delivery failed", "run_id", runID, "events", len(events), "error", err)
	}
}
