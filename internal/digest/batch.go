// Package digest renders new entries into size-bounded chat payloads and
// formats the human-readable run summary.
package digest

import (
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/grantwatch/internal/source"
)

const (
	// DefaultMaxLen keeps payloads well under the 2000 character limit of a
	// Discord message.
	DefaultMaxLen = 1900
	DefaultHeader = "**新着情報**"
)

// Options controls batching.
type Options struct {
	MaxLen int    // in characters; <= 0 means DefaultMaxLen
	Header string // first payload only; empty means none
}

// RenderHeading renders the line introducing a source.
func RenderHeading(name string) string { return "◇" + name + "\n" }

// RenderEntry renders one entry. Entries are never split across payloads.
func RenderEntry(e source.Entry) string { return "・" + e.Title + "\n" + e.Link + "\n" }

func renderHeader(h string) string {
	if h == "" {
		return ""
	}
	return h + "\n\n"
}

const sourceSeparator = "\n"

// Len returns the payload length as counted by the chat transport: Unicode
// code points.
func Len(s string) int { return utf8.RuneCountInString(s) }

// Batch packs groups into payloads of at most opts.MaxLen characters,
// preserving group and entry order. The header opens the first payload; if
// the first heading and entry do not fit beside it, the header is sent as a
// payload of its own. A payload that starts in the middle of a source
// repeats that source's heading. An entry that cannot fit even into an
// empty payload is emitted alone in an oversized payload rather than
// truncated. Groups without entries are skipped; no entries means no
// payloads.
func Batch(groups []source.Group, opts Options) []string {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	b := &builder{max: maxLen}
	b.write(renderHeader(opts.Header))

	for _, g := range groups {
		if len(g.Entries) == 0 {
			continue
		}
		heading := RenderHeading(g.Source)
		headed := false
		for _, e := range g.Entries {
			line := RenderEntry(e)
			chunk := line
			if !headed {
				chunk = heading + line
			}
			if !b.fits(chunk) && b.size > 0 {
				// Includes a header still waiting for its first entry.
				b.flush()
				chunk = heading + line
			}
			b.write(chunk)
			b.entries++
			headed = true
			if b.size > b.max {
				// Oversized singleton: close it so nothing else joins it.
				b.flush()
				headed = false
			}
		}
		if b.entries > 0 && b.fits(sourceSeparator) {
			b.write(sourceSeparator)
		}
	}
	if b.entries > 0 {
		b.flush()
	}
	return b.out
}

// builder accumulates one payload at a time.
type builder struct {
	max     int
	buf     strings.Builder
	size    int
	entries int
	out     []string
}

func (b *builder) fits(s string) bool { return b.size+Len(s) <= b.max }

func (b *builder) write(s string) {
	b.buf.WriteString(s)
	b.size += Len(s)
}

func (b *builder) flush() {
	b.out = append(b.out, b.buf.String())
	b.buf.Reset()
	b.size = 0
	b.entries = 0
}

// Oversized counts payloads longer than maxLen.
func Oversized(payloads []string, maxLen int) int {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	n := 0
	for _, p := range payloads {
		if Len(p) > maxLen {
			n++
		}
	}
	return n
}
