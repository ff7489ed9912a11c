// Package pipeline runs one scrape: extract every source, drop links that
// were already notified, deliver the rest and persist the seen-set only when
// every delivery succeeded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/grantwatch/internal/digest"
	"github.com/ppiankov/grantwatch/internal/fetch"
	"github.com/ppiankov/grantwatch/internal/logger"
	"github.com/ppiankov/grantwatch/internal/notify"
	"github.com/ppiankov/grantwatch/internal/source"
	"github.com/ppiankov/grantwatch/internal/store"
)

// State is a step of a run.
type State string

const (
	StateInit           State = "INIT"
	StateExtract        State = "EXTRACT"
	StateFilter         State = "FILTER"
	StateBatchAndNotify State = "BATCH_AND_NOTIFY"
	StatePersist        State = "PERSIST"
	StateDone           State = "DONE"
	StateAbort          State = "ABORT"
)

// Outcome is what a finished run amounts to.
type Outcome string

const (
	OutcomeNoNews   Outcome = "no_news"
	OutcomeNotified Outcome = "notified"
	OutcomeFailed   Outcome = "failed"
)

// ErrDeliveryFailed is returned when at least one payload was not delivered.
var ErrDeliveryFailed = errors.New("delivery failed")

const defaultParallel = 4

// Options tunes a Runner.
type Options struct {
	Batch    digest.Options
	Parallel int           // EXTRACT workers; <= 0 means 4, 1 is sequential
	Interval time.Duration // pause between payloads
	DryRun   bool          // deliver, never persist
}

// SourceReport is the per-source result of a run.
type SourceReport struct {
	Name  string
	URL   string
	Found int
	New   int
	Err   error
}

// Report describes a finished run.
type Report struct {
	State      State
	Outcome    Outcome
	Sources    []SourceReport
	Groups     []source.Group
	Payloads   []string
	Notify     notify.Result
	Persisted  bool
	PersistErr error
	Seen       store.Set // the set as persisted, or as loaded when nothing was saved
	DryRun     bool
}

// Runner wires one run together.
type Runner struct {
	store   store.Store
	fetcher fetch.Fetcher
	sink    notify.Sink
	log     logger.Logger
	opts    Options
}

// NewRunner returns a Runner. A nil log discards output.
func NewRunner(st store.Store, f fetch.Fetcher, sink notify.Sink, log logger.Logger, opts Options) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Parallel <= 0 {
		opts.Parallel = defaultParallel
	}
	return &Runner{store: st, fetcher: f, sink: sink, log: log, opts: opts}
}

// Run executes INIT, EXTRACT, FILTER, BATCH_AND_NOTIFY and PERSIST. The
// returned report is never nil. A non-nil error means the run aborted, a
// delivery failed or the seen-set could not be saved; in every case the
// report's Outcome is OutcomeFailed.
func (r *Runner) Run(ctx context.Context, sources []Source) (*Report, error) {
	rep := &Report{State: StateInit, DryRun: r.opts.DryRun}
	fail := func(state State, err error) (*Report, error) {
		rep.State, rep.Outcome = state, OutcomeFailed
		return rep, err
	}

	if len(sources) == 0 {
		return fail(StateAbort, ErrNoSources)
	}
	seen, err := r.store.Load(ctx)
	if err != nil {
		r.log.Error("seen-set load failed", logger.Error(err))
		return fail(StateAbort, err)
	}
	rep.Seen = seen
	r.log.Debug("seen-set loaded", logger.Int("links", seen.Len()))

	rep.State = StateExtract
	extracted := r.extractAll(ctx, sources)

	rep.State = StateFilter
	claimed := store.NewSet()
	for i, src := range sources {
		res := extracted[i]
		sr := SourceReport{Name: src.Name, URL: src.URL, Found: len(res.entries), Err: res.err}
		if res.err != nil {
			r.log.Warn("source failed",
				logger.String("source", src.Name),
				logger.String("url", src.URL),
				logger.String("error_kind", res.kind),
				logger.Error(res.err))
		} else {
			fresh := claim(Filter(res.entries, seen), claimed)
			sr.New = len(fresh)
			if len(fresh) > 0 {
				rep.Groups = append(rep.Groups, source.Group{Source: src.Name, Entries: fresh})
			}
			r.log.Info("source extracted",
				logger.String("source", src.Name),
				logger.Int("found", sr.Found),
				logger.Int("new", sr.New))
		}
		rep.Sources = append(rep.Sources, sr)
	}

	if len(rep.Groups) == 0 {
		r.log.Info("no new announcements")
		rep.State, rep.Outcome = StateDone, OutcomeNoNews
		return rep, nil
	}

	rep.State = StateBatchAndNotify
	rep.Payloads = digest.Batch(rep.Groups, r.opts.Batch)
	if n := digest.Oversized(rep.Payloads, r.opts.Batch.MaxLen); n > 0 {
		r.log.Warn("payloads over the size limit", logger.Int("count", n))
	}
	rep.Notify = notify.Notify(ctx, r.sink, rep.Payloads, notify.Options{Interval: r.opts.Interval, Log: r.log})
	if !rep.Notify.OK() {
		r.log.Error("seen-set not updated",
			logger.Int("failed", rep.Notify.Failed()),
			logger.Int("payloads", len(rep.Payloads)))
		return fail(StateDone, fmt.Errorf("%w: %d of %d payloads", ErrDeliveryFailed, rep.Notify.Failed(), len(rep.Payloads)))
	}

	if r.opts.DryRun {
		rep.State, rep.Outcome = StateDone, OutcomeNotified
		return rep, nil
	}

	rep.State = StatePersist
	updated := seen.Clone()
	for _, g := range rep.Groups {
		for _, e := range g.Entries {
			updated.Add(e.Link)
		}
	}
	// The notifications are out; a cancelled run still records them.
	if err := r.store.Save(context.WithoutCancel(ctx), updated); err != nil {
		rep.PersistErr = err
		r.log.Error("seen-set save failed; next run may repeat these notifications", logger.Error(err))
		return fail(StateAbort, err)
	}
	rep.Seen = updated
	rep.Persisted = true
	r.log.Info("seen-set updated", logger.Int("links", updated.Len()))

	rep.State, rep.Outcome = StateDone, OutcomeNotified
	return rep, nil
}

type extractResult struct {
	entries []source.Entry
	err     error
	kind    string // "fetch" or "extract" when err is set
}

// extractAll runs every source through a bounded worker pool. Results are
// indexed by source position so completion order does not matter.
func (r *Runner) extractAll(ctx context.Context, sources []Source) []extractResult {
	results := make([]extractResult, len(sources))
	jobs := make(chan int, len(sources))

	workers := min(r.opts.Parallel, len(sources))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.extractOne(ctx, sources[i])
			}
		}()
	}
	for i := range sources {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

func (r *Runner) extractOne(ctx context.Context, src Source) (res extractResult) {
	defer func() {
		if p := recover(); p != nil {
			res = extractResult{kind: "extract", err: &source.ExtractionError{Source: src.Name, Err: fmt.Errorf("extractor panic: %v", p)}}
		}
	}()

	if src.Extractor == nil {
		return extractResult{kind: "extract", err: &source.ExtractionError{Source: src.Name, Err: errors.New("no extractor")}}
	}
	// Fetch failures stay *fetch.FetchError; only the extractor's own
	// failures become ExtractionError.
	page, err := r.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return extractResult{kind: "fetch", err: err}
	}
	entries, err := src.Extractor.Extract(page)
	if err != nil {
		return extractResult{kind: "extract", err: &source.ExtractionError{Source: src.Name, Err: err}}
	}
	return extractResult{entries: entries}
}

// Summary converts the report for the digest formatters.
func (rep *Report) Summary(maxLen int) digest.SummaryInput {
	in := digest.SummaryInput{
		Payloads:  len(rep.Payloads),
		Delivered: rep.Notify.Delivered(),
		Oversized: digest.Oversized(rep.Payloads, maxLen),
		Outcome:   string(rep.Outcome),
		DryRun:    rep.DryRun,
		Persisted: rep.Persisted,
		SeenLinks: rep.Seen.Len(),
	}
	if rep.PersistErr != nil {
		in.PersistErr = rep.PersistErr.Error()
	}
	for _, s := range rep.Sources {
		ss := digest.SourceSummary{Name: s.Name, URL: s.URL, Found: s.Found, New: s.New}
		if s.Err != nil {
			ss.Err = s.Err.Error()
			var ee *source.ExtractionError
			if errors.As(s.Err, &ee) && ee.Err != nil {
				ss.Err = ee.Err.Error()
			}
		}
		in.Sources = append(in.Sources, ss)
	}
	return in
}
