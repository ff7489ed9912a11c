package digest

import (
	"encoding/json"
	"io"
)

type jsonSummary struct {
	Sources []jsonSource `json:"sources"`
	Notify  jsonNotify   `json:"notify"`
	Seen    jsonSeen     `json:"seen"`
	Outcome string       `json:"outcome"`
	DryRun  bool         `json:"dry_run,omitempty"`
}

type jsonSource struct {
	Name  string `json:"name"`
	URL   string `json:"url,omitempty"`
	Found int    `json:"found"`
	New   int    `json:"new"`
	Error string `json:"error,omitempty"`
}

type jsonNotify struct {
	Payloads  int  `json:"payloads"`
	Delivered int  `json:"delivered"`
	Oversized int  `json:"oversized,omitempty"`
	OK        bool `json:"ok"`
}

type jsonSeen struct {
	Persisted bool   `json:"persisted"`
	Links     int    `json:"links"`
	Error     string `json:"error,omitempty"`
}

// JSONFormatter formats a run summary as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the summary as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, in SummaryInput) error {
	out := jsonSummary{
		Sources: make([]jsonSource, 0, len(in.Sources)),
		Notify: jsonNotify{
			Payloads:  in.Payloads,
			Delivered: in.Delivered,
			Oversized: in.Oversized,
			OK:        in.Delivered == in.Payloads,
		},
		Seen: jsonSeen{
			Persisted: in.Persisted,
			Links:     in.SeenLinks,
			Error:     in.PersistErr,
		},
		Outcome: in.Outcome,
		DryRun:  in.DryRun,
	}
	for _, s := range in.Sources {
		out.Sources = append(out.Sources, jsonSource{
			Name:  s.Name,
			URL:   s.URL,
			Found: s.Found,
			New:   s.New,
			Error: s.Err,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
