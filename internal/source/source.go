// Package source turns fetched pages into announcement entries.
package source

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/grantwatch/internal/fetch"
)

// Entry is a single discovered announcement.
type Entry struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Group holds the entries of one source. A slice of groups keeps the
// configured source order.
type Group struct {
	Source  string
	Entries []Entry
}

// Extractor pulls raw (title, link) candidates out of a fetched page.
// Links are returned absolute; deduplication happens later.
type Extractor interface {
	Extract(page *fetch.Page) ([]Entry, error)
}

// ErrNoItems means the item selector matched nothing, so the page no longer
// looks the way the extractor expects.
var ErrNoItems = errors.New("no items matched")

// ExtractionError wraps a per-source extraction failure. Fetch failures are
// reported as *fetch.FetchError instead.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Factory builds an extractor from per-source params.
type Factory func(params map[string]string) (Extractor, error)

// Registry maps a config kind tag to an extractor factory.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in kinds:
// generic, article and rss.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindGeneric, func(p map[string]string) (Extractor, error) { return NewGeneric(p) })
	r.Register(KindArticle, func(p map[string]string) (Extractor, error) { return NewArticle(p) })
	r.Register(KindRSS, func(map[string]string) (Extractor, error) { return NewRSS(), nil })
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[strings.ToLower(kind)] = f
}

// New builds the extractor for kind. Kind matching is case-insensitive.
func (r *Registry) New(kind string, params map[string]string) (Extractor, error) {
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("unknown extractor kind %q (known: %s)", kind, strings.Join(r.Kinds(), ", "))
	}
	return f(params)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// cleanText collapses runs of whitespace and replaces invalid UTF-8.
func cleanText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return s
}
