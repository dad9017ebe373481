package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/soaringjerry/opine/internal/metrics"
)

const (
	defaultPageSize    = 500
	defaultConcurrency = 4
)

// BatchOptions controls a maintenance run.
type BatchOptions struct {
	// DryRun computes the report without writing anything.
	DryRun        bool    `yaml:"-" json:"dryRun"`
	PageSize      int     `yaml:"page_size" json:"pageSize,omitempty"`
	Concurrency   int     `yaml:"concurrency" json:"concurrency,omitempty"`
	RatePerSecond float64 `yaml:"rate_per_second" json:"ratePerSecond,omitempty"`
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	return o
}

type ItemOutcome string

const (
	ItemSucceeded ItemOutcome = "succeeded"
	ItemSkipped   ItemOutcome = "skipped"
	ItemFailed    ItemOutcome = "failed"
)

type RunItem struct {
	ID      string      `json:"id"`
	Outcome ItemOutcome `json:"outcome"`
	Reason  string      `json:"reason,omitempty"`
}

// RunReport is the structured result of a maintenance run. Items lists
// every record the run acted on or had to skip; untouched records only
// count towards Scanned.
type RunReport struct {
	mu sync.Mutex

	Job        string    `json:"job"`
	DryRun     bool      `json:"dryRun"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Scanned    int       `json:"scanned"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Items      []RunItem `json:"items"`
}

func newRunReport(job string, dryRun bool, now time.Time) *RunReport {
	return &RunReport{Job: job, DryRun: dryRun, StartedAt: now, Items: []RunItem{}}
}

func (r *RunReport) AddScanned(n int) {
	r.mu.Lock()
	r.Scanned += n
	r.mu.Unlock()
}

// Record adds one item. Safe for concurrent use.
func (r *RunReport) Record(id string, outcome ItemOutcome, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case ItemSucceeded:
		r.Succeeded++
	case ItemSkipped:
		r.Skipped++
	case ItemFailed:
		r.Failed++
	}
	r.Items = append(r.Items, RunItem{ID: id, Outcome: outcome, Reason: reason})
	if !r.DryRun {
		metrics.RecordBatchItem(r.Job, string(outcome))
	}
}

// recordTransition maps a transition outcome onto a report item.
func (r *RunReport) recordTransition(id string, res TransitionResult, err error) {
	switch {
	case err != nil && IsNotFound(err):
		r.Record(id, ItemSkipped, string(OutcomeNotFound))
	case err != nil:
		r.Record(id, ItemFailed, err.Error())
	case res.Outcome == OutcomeApplied:
		r.Record(id, ItemSucceeded, "")
	default:
		r.Record(id, ItemSkipped, string(res.Outcome))
	}
}

func (r *RunReport) finish(now time.Time) *RunReport {
	r.mu.Lock()
	r.FinishedAt = now
	r.mu.Unlock()
	return r
}

// Batcher runs per-item work with bounded concurrency and an optional rate
// limit. Item failures are the callback's business; only context errors
// stop a run.
type Batcher struct {
	opts    BatchOptions
	limiter *rate.Limiter
}

func NewBatcher(opts BatchOptions) *Batcher {
	opts = opts.withDefaults()
	b := &Batcher{opts: opts}
	if opts.RatePerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Concurrency)
	}
	return b
}

func runEach[T any](ctx context.Context, b *Batcher, items []T, fn func(context.Context, T)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for _, it := range items {
		if b.limiter != nil {
			if err := b.limiter.Wait(gctx); err != nil {
				_ = g.Wait()
				return err
			}
		}
		if err := gctx.Err(); err != nil {
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			fn(gctx, it)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
