package pipeline

import (
	"strings"

	"github.com/ppiankov/grantwatch/internal/source"
	"github.com/ppiankov/grantwatch/internal/store"
)

// Filter returns the entries whose normalized link is not in seen, in input
// order. Entries without a link are dropped.
func Filter(entries []source.Entry, seen store.Set) []source.Entry {
	var out []source.Entry
	for _, e := range entries {
		if strings.TrimSpace(e.Link) == "" || seen.Has(e.Link) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// claim drops entries already claimed earlier in the run and claims the
// rest, so a link listed by several sources is announced once, under the
// first source that lists it.
func claim(entries []source.Entry, claimed store.Set) []source.Entry {
	var out []source.Entry
	for _, e := range entries {
		if claimed.Has(e.Link) {
			continue
		}
		claimed.Add(e.Link)
		out = append(out, e)
	}
	return out
}
