package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ppiankov/grantwatch/internal/digest"
	"github.com/ppiankov/grantwatch/internal/fetch"
	"github.com/ppiankov/grantwatch/internal/logger"
	"github.com/ppiankov/grantwatch/internal/notify"
	"github.com/ppiankov/grantwatch/internal/source"
	"github.com/ppiankov/grantwatch/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	set     store.Set
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) Load(context.Context) (store.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, &store.PersistenceError{Op: "load", Err: m.loadErr}
	}
	if m.set == nil {
		return store.NewSet(), nil
	}
	return m.set.Clone(), nil
}

func (m *memStore) Save(_ context.Context, s store.Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return &store.PersistenceError{Op: "save", Err: m.saveErr}
	}
	m.saves++
	m.set = s.Clone()
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeFetcher struct {
	errs   map[string]error
	delays map[string]time.Duration
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*fetch.Page, error) {
	if d := f.delays[url]; d > 0 {
		time.Sleep(d)
	}
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return &fetch.Page{URL: url}, nil
}

type fakeExtractor struct {
	entries []source.Entry
	err     error
	panics  bool
}

func (f fakeExtractor) Extract(*fetch.Page) ([]source.Entry, error) {
	if f.panics {
		panic("selector exploded")
	}
	return f.entries, f.err
}

type recordingSink struct {
	got    []string
	failOn map[int]bool
}

func (s *recordingSink) Deliver(_ context.Context, p string) error {
	s.got = append(s.got, p)
	if s.failOn[len(s.got)] {
		return &notify.DeliveryError{Status: 500}
	}
	return nil
}

func src(name string, ex source.Extractor) Source {
	return Source{Name: name, URL: "http://" + strings.ToLower(name) + ".example/", Extractor: ex}
}

func entries(pairs ...string) fakeExtractor {
	var out []source.Entry
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, source.Entry{Title: pairs[i], Link: pairs[i+1]})
	}
	return fakeExtractor{entries: out}
}

func newRunner(st store.Store, sink notify.Sink, opts Options) *Runner {
	if opts.Batch.Header == "" {
		opts.Batch.Header = digest.DefaultHeader
	}
	return NewRunner(st, &fakeFetcher{}, sink, nil, opts)
}

func TestRun_NotifiesAndPersists(t *testing.T) {
	st := &memStore{}
	sink := &recordingSink{}
	sources := []Source{src("A", entries("Grant 1", "http://x/1", "Grant 2", "http://x/2"))}

	rep, err := newRunner(st, sink, Options{}).Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Outcome != OutcomeNotified || rep.State != StateDone {
		t.Errorf("outcome=%s state=%s", rep.Outcome, rep.State)
	}
	if len(sink.got) != 1 {
		t.Fatalf("payloads = %q, want 1", sink.got)
	}
	if !strings.Contains(sink.got[0], "・Grant 1\nhttp://x/1\n・Grant 2\nhttp://x/2\n") {
		t.Errorf("payload = %q", sink.got[0])
	}
	if !st.set.Equal(store.NewSet("http://x/1", "http://x/2")) || !rep.Persisted {
		t.Errorf("seen = %v persisted=%v", st.set.Sorted(), rep.Persisted)
	}
}

func TestRun_SplitsIntoOrderedPayloads(t *testing.T) {
	st := &memStore{}
	sink := &recordingSink{}
	sources := []Source{src("A", entries("Grant 1", "http://x/1", "Grant 2", "http://x/2"))}

	rep, err := newRunner(st, sink, Options{Batch: digest.Options{MaxLen: 40}}).Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.got) != 2 || len(rep.Payloads) != 2 {
		t.Fatalf("payloads = %q, want 2", sink.got)
	}
	if !strings.Contains(sink.got[0], "http://x/1") || strings.Contains(sink.got[0], "http://x/2") {
		t.Errorf("payload 1 = %q", sink.got[0])
	}
	if !strings.Contains(sink.got[1], "http://x/2") || strings.Contains(sink.got[1], "http://x/1") {
		t.Errorf("payload 2 = %q", sink.got[1])
	}
}

func TestRun_DeliveryFailureSkipsPersist(t *testing.T) {
	st := &memStore{set: store.NewSet("http://old/1")}
	before := st.set.Clone()
	sink := &recordingSink{failOn: map[int]bool{2: true}}
	sources := []Source{src("A", entries("Grant 1", "http://x/1", "Grant 2", "http://x/2"))}

	rep, err := newRunner(st, sink, Options{Batch: digest.Options{MaxLen: 40}}).Run(context.Background(), sources)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v, want ErrDeliveryFailed", err)
	}
	if rep.Outcome != OutcomeFailed || rep.Persisted {
		t.Errorf("outcome=%s persisted=%v", rep.Outcome, rep.Persisted)
	}
	if st.saves != 0 || !st.set.Equal(before) {
		t.Errorf("seen-set changed after failed delivery: saves=%d set=%v", st.saves, st.set.Sorted())
	}
	if len(sink.got) != 2 {
		t.Errorf("all payloads must be attempted, got %d", len(sink.got))
	}
}

func TestRun_FailingSourceIsIsolated(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	st := &memStore{}
	sink := &recordingSink{}
	sources := []Source{
		src("A", fakeExtractor{err: source.ErrNoItems}),
		src("B", entries("B grant", "http://b/1")),
	}

	r := NewRunner(st, &fakeFetcher{}, sink, logger.FromZap(zap.New(core)), Options{})
	rep, err := r.Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.got) != 1 || strings.Contains(sink.got[0], "◇A") || !strings.Contains(sink.got[0], "◇B") {
		t.Errorf("payloads = %q", sink.got)
	}
	if !st.set.Equal(store.NewSet("http://b/1")) {
		t.Errorf("seen = %v", st.set.Sorted())
	}
	var ee *source.ExtractionError
	if !errors.As(rep.Sources[0].Err, &ee) || ee.Source != "A" || !errors.Is(ee, source.ErrNoItems) {
		t.Errorf("source A err = %v", rep.Sources[0].Err)
	}
	warn := logs.FilterMessage("source failed").All()
	if len(warn) != 1 || warn[0].ContextMap()["source"] != "A" || warn[0].ContextMap()["error_kind"] != "extract" {
		t.Errorf("source failed logs = %+v", warn)
	}
}

func TestRun_FetchErrorIsIsolated(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	st := &memStore{}
	sink := &recordingSink{}
	a := src("A", entries("never", "http://a/1"))
	f := &fakeFetcher{errs: map[string]error{a.URL: &fetch.FetchError{URL: a.URL, Status: 502, Attempts: 3}}}
	sources := []Source{a, src("B", entries("B grant", "http://b/1"))}

	rep, err := NewRunner(st, f, sink, logger.FromZap(zap.New(core)), Options{}).Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var fe *fetch.FetchError
	if !errors.As(rep.Sources[0].Err, &fe) || fe.Status != 502 {
		t.Errorf("source A err = %v", rep.Sources[0].Err)
	}
	var ee *source.ExtractionError
	if errors.As(rep.Sources[0].Err, &ee) {
		t.Errorf("fetch failure reported as extraction error: %v", rep.Sources[0].Err)
	}
	warn := logs.FilterMessage("source failed").All()
	if len(warn) != 1 || warn[0].ContextMap()["error_kind"] != "fetch" {
		t.Errorf("source failed logs = %+v", warn)
	}
	if got := rep.Summary(digest.DefaultMaxLen).Sources[0].Err; !strings.Contains(got, "HTTP 502") {
		t.Errorf("summary err = %q", got)
	}
	if rep.Outcome != OutcomeNotified || !st.set.Has("http://b/1") || st.set.Has("http://a/1") {
		t.Errorf("outcome=%s seen=%v", rep.Outcome, st.set.Sorted())
	}
}

func TestRun_PanickingExtractorIsIsolated(t *testing.T) {
	sources := []Source{src("A", fakeExtractor{panics: true}), src("B", entries("t", "http://b/1"))}
	rep, err := newRunner(&memStore{}, &recordingSink{}, Options{}).Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Sources[0].Err == nil || !strings.Contains(rep.Sources[0].Err.Error(), "selector exploded") {
		t.Errorf("source A err = %v", rep.Sources[0].Err)
	}
}

func TestRun_NoNews(t *testing.T) {
	st := &memStore{set: store.NewSet("http://x/1")}
	sink := &recordingSink{}
	sources := []Source{src("A", entries("Grant 1", "http://x/1?session=9"))}

	rep, err := newRunner(st, sink, Options{}).Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Outcome != OutcomeNoNews || rep.State != StateDone {
		t.Errorf("outcome=%s state=%s", rep.Outcome, rep.State)
	}
	if len(sink.got) != 0 || st.saves != 0 {
		t.Errorf("no-news run delivered %d payloads and saved %d times", len(sink.got), st.saves)
	}
	if rep.Sources[0].Found != 1 || rep.Sources[0].New != 0 {
		t.Errorf("source report = %+v", rep.Sources[0])
	}
}

func TestRun_RerunIsQuiet(t *testing.T) {
	st := &memStore{}
	sink := &recordingSink{}
	sources := []Source{src("A", entries("Grant 1", "http://x/1", "Grant 2", "http://x/2"))}
	r := newRunner(st, sink, Options{})

	if _, err := r.Run(context.Background(), sources); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rep, err := r.Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if rep.Outcome != OutcomeNoNews || len(sink.got) != 1 {
		t.Errorf("second run outcome=%s total payloads=%d", rep.Outcome, len(sink.got))
	}
}

func TestRun_GlobalDedupFirstSourceWins(t *testing.T) {
	st := &memStore{}
	sink := &recordingSink{}
	sources := []Source{
		src("A", entries("shared", "http://x/shared", "dup on same page", "http://x/shared#again")),
		src("B", entries("shared copy", "http://x/shared?from=b", "own", "http://b/1")),
	}

	rep, err := newRunner(st, sink, Options{}).Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Groups) != 2 || len(rep.Groups[0].Entries) != 1 || len(rep.Groups[1].Entries) != 1 {
		t.Fatalf("groups = %+v", rep.Groups)
	}
	if rep.Groups[1].Entries[0].Link != "http://b/1" {
		t.Errorf("B should keep only its own link: %+v", rep.Groups[1])
	}
	if strings.Count(sink.got[0], "http://x/shared") != 1 {
		t.Errorf("shared link announced more than once: %q", sink.got[0])
	}
}

func TestRun_DropsEmptyLinks(t *testing.T) {
	sources := []Source{src("A", entries("no link", "", "ok", "http://x/1"))}
	rep, err := newRunner(&memStore{}, &recordingSink{}, Options{}).Run(context.Background(), sources)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Sources[0].Found != 2 || rep.Sources[0].New != 1 {
		t.Errorf("source report = %+v", rep.Sources[0])
	}
}

func TestRun_NoSources(t *testing.T) {
	rep, err := newRunner(&memStore{}, &recordingSink{}, Options{}).Run(context.Background(), nil)
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("err = %v", err)
	}
	if rep.State != StateAbort || rep.Outcome != OutcomeFailed {
		t.Errorf("state=%s outcome=%s", rep.State, rep.Outcome)
	}
}

func TestRun_LoadFailureAborts(t *testing.T) {
	st := &memStore{loadErr: errors.New("permission denied")}
	sink := &recordingSink{}
	rep, err := newRunner(st, sink, Options{}).Run(context.Background(), []Source{src("A", entries("t", "http://x/1"))})

	var pe *store.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "load" {
		t.Fatalf("err = %v", err)
	}
	if rep.State != StateAbort || len(sink.got) != 0 || len(rep.Sources) != 0 {
		t.Errorf("state=%s delivered=%d sources=%d", rep.State, len(sink.got), len(rep.Sources))
	}
}

func TestRun_SaveFailureIsReported(t *testing.T) {
	st := &memStore{saveErr: errors.New("disk full")}
	sink := &recordingSink{}
	rep, err := newRunner(st, sink, Options{}).Run(context.Background(), []Source{src("A", entries("t", "http://x/1"))})

	var pe *store.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "save" {
		t.Fatalf("err = %v", err)
	}
	if rep.Outcome != OutcomeFailed || rep.Persisted || rep.PersistErr == nil {
		t.Errorf("outcome=%s persisted=%v persistErr=%v", rep.Outcome, rep.Persisted, rep.PersistErr)
	}
	if len(sink.got) != 1 {
		t.Errorf("delivery should have happened before the save, got %d", len(sink.got))
	}
	if sum := rep.Summary(digest.DefaultMaxLen); !strings.Contains(sum.PersistErr, "disk full") {
		t.Errorf("summary persist error = %q", sum.PersistErr)
	}
}

func TestRun_DryRunNeverPersists(t *testing.T) {
	st := &memStore{}
	sink := &recordingSink{}
	rep, err := newRunner(st, sink, Options{DryRun: true}).Run(context.Background(), []Source{src("A", entries("t", "http://x/1"))})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.got) != 1 || st.saves != 0 || rep.Persisted {
		t.Errorf("delivered=%d saves=%d persisted=%v", len(sink.got), st.saves, rep.Persisted)
	}
	if rep.Outcome != OutcomeNotified {
		t.Errorf("outcome = %s", rep.Outcome)
	}
}

func TestRun_ParallelKeepsConfiguredOrder(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E"}
	f := &fakeFetcher{delays: map[string]time.Duration{}}
	var sources []Source
	for i, n := range names {
		s := src(n, entries(n+" grant", "http://"+n+"/1"))
		f.delays[s.URL] = time.Duration(len(names)-i) * 5 * time.Millisecond
		sources = append(sources, s)
	}
	sink := &recordingSink{}

	rep, err := NewRunner(&memStore{}, f, sink, nil, Options{Parallel: 5}).Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, g := range rep.Groups {
		if g.Source != names[i] {
			t.Fatalf("group %d = %s, want %s", i, g.Source, names[i])
		}
	}
	last := -1
	for _, n := range names {
		idx := strings.Index(sink.got[0], "◇"+n+"\n")
		if idx <= last {
			t.Fatalf("source %s out of order in %q", n, sink.got[0])
		}
		last = idx
	}
}

func TestReport_Summary(t *testing.T) {
	rep := &Report{
		Outcome:  OutcomeNotified,
		Payloads: []string{"x"},
		Notify:   notify.Result{Errs: []error{nil}},
		Sources: []SourceReport{
			{Name: "A", Found: 2, New: 1},
			{Name: "B", Err: &source.ExtractionError{Source: "B", Err: source.ErrNoItems}},
		},
		Persisted: true,
		Seen:      store.NewSet("http://x/1"),
	}
	in := rep.Summary(digest.DefaultMaxLen)
	if in.Delivered != 1 || in.Payloads != 1 || in.SeenLinks != 1 || in.Outcome != "notified" {
		t.Errorf("summary = %+v", in)
	}
	if in.Sources[1].Err != "no items matched" {
		t.Errorf("source error = %q", in.Sources[1].Err)
	}
}
