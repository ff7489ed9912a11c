// Package urlnorm canonicalizes announcement links so that equivalent URLs
// compare equal across runs.
package urlnorm

import (
	"net/url"
	"strings"
)

// Normalize drops the query and fragment of raw and re-serializes
// scheme, authority and path. Input that does not parse as a URL is
// returned trimmed but otherwise unchanged, so Normalize never fails and
// Normalize(Normalize(u)) == Normalize(u) holds for every u.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	u, err := url.Parse(s)
	if err != nil {
		return s
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Resolve resolves ref against the page URL base. Absolute refs are
// returned as-is. When either side fails to parse, ref is returned
// trimmed so the caller still has something to show.
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return ref
	}

	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !b.IsAbs() {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Host returns the lowercased host of raw, or "" when raw has none.
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
