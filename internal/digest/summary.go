package digest

import "io"

// SourceSummary is the per-source line of a run summary.
type SourceSummary struct {
	Name  string
	URL   string
	Found int    // entries extracted
	New   int    // entries left after deduplication
	Err   string // extraction or fetch failure, if any
}

// SummaryInput is everything a run summary shows.
type SummaryInput struct {
	Sources    []SourceSummary
	Payloads   int
	Delivered  int
	Oversized  int
	Outcome    string // no_news, notified or failed
	DryRun     bool
	Persisted  bool
	PersistErr string
	SeenLinks  int // seen-set size after the run
}

// Formatter writes a run summary to w.
type Formatter interface {
	Format(w io.Writer, in SummaryInput) error
}

func (in SummaryInput) totals() (found, fresh, failed int) {
	for _, s := range in.Sources {
		found += s.Found
		fresh += s.New
		if s.Err != "" {
			failed++
		}
	}
	return
}
