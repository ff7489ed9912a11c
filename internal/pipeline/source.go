package pipeline

import (
	"errors"
	"fmt"

	"github.com/ppiankov/grantwatch/internal/config"
	"github.com/ppiankov/grantwatch/internal/source"
)

var (
	// ErrNoSources aborts a run that has nothing to scrape.
	ErrNoSources = errors.New("no sources configured")
	// ErrSourceNotFound is returned by Select for an unknown name.
	ErrSourceNotFound = errors.New("source not found")
)

// Source is one configured page with its extractor.
type Source struct {
	Name      string
	URL       string
	Kind      string
	Extractor source.Extractor
}

// BuildSources constructs the extractor of every configured source, keeping
// configured order.
func BuildSources(cfgs []config.Source, reg *source.Registry) ([]Source, error) {
	out := make([]Source, 0, len(cfgs))
	for _, c := range cfgs {
		ex, err := reg.New(c.Kind, c.Params)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", c.Name, err)
		}
		out = append(out, Source{Name: c.Name, URL: c.URL, Kind: c.Kind, Extractor: ex})
	}
	return out, nil
}

// Select narrows sources to the one called name. An empty name keeps all.
func Select(sources []Source, name string) ([]Source, error) {
	if name == "" {
		return sources, nil
	}
	for _, s := range sources {
		if s.Name == name {
			return []Source{s}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrSourceNotFound, name)
}
