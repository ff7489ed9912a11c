package config

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Column aliases of the site list CSV. The Japanese headers are the ones of
// the historical sites_list.csv.
var csvColumns = map[string]string{
	"サイト名":    "name",
	"name":    "name",
	"url":     "url",
	"パーサータイプ": "kind",
	"kind":    "kind",
	"parser":  "kind",
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadSourcesCSV reads a site list. Columns other than name, URL and kind
// become extractor params (item_selector, title_selector and so on). Empty
// cells are omitted; blank rows are skipped.
func LoadSourcesCSV(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return ParseSourcesCSV(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
}

// ParseSourcesCSV parses site list rows from r.
func ParseSourcesCSV(r io.Reader) ([]Source, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}

	cols := make([]string, len(header))
	var hasName, hasURL bool
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if mapped, ok := csvColumns[h]; ok {
			h = mapped
		}
		cols[i] = h
		hasName = hasName || h == "name"
		hasURL = hasURL || h == "url"
	}
	if !hasName || !hasURL {
		return nil, fmt.Errorf("csv: header must include a name (サイト名) and url (URL) column, got %v", header)
	}

	var out []Source
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if blankRecord(rec) {
			continue
		}

		var s Source
		for i, v := range rec {
			if i >= len(cols) {
				break
			}
			v = strings.TrimSpace(v)
			if v == "" || cols[i] == "" {
				continue
			}
			switch cols[i] {
			case "name":
				s.Name = v
			case "url":
				s.URL = v
			case "kind":
				s.Kind = v
			default:
				if s.Params == nil {
					s.Params = make(map[string]string)
				}
				s.Params[cols[i]] = v
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
