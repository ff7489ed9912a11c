package digest

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSON().Format(&buf, sampleSummary()); err != nil {
		t.Fatalf("format: %v", err)
	}

	var got jsonSummary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, buf.String())
	}
	if len(got.Sources) != 2 || got.Sources[1].Error != "no items matched" {
		t.Errorf("sources = %+v", got.Sources)
	}
	if !got.Notify.OK || got.Notify.Payloads != 1 {
		t.Errorf("notify = %+v", got.Notify)
	}
	if !got.Seen.Persisted || got.Seen.Links != 42 {
		t.Errorf("seen = %+v", got.Seen)
	}
	if got.Outcome != "notified" {
		t.Errorf("outcome = %q", got.Outcome)
	}
}

func TestJSONFormat_EmptySources(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSON().Format(&buf, SummaryInput{Outcome: "no_news"}); err != nil {
		t.Fatalf("format: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"sources": []`)) {
		t.Errorf("sources should encode as an empty array:\n%s", buf.String())
	}
}
