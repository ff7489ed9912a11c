package store

import (
	"sort"

	"github.com/ppiankov/grantwatch/internal/urlnorm"
)

// Set is a set of normalized links.
type Set map[string]struct{}

// NewSet returns a set holding the normalized form of every non-empty link.
func NewSet(links ...string) Set {
	s := make(Set, len(links))
	for _, l := range links {
		s.Add(l)
	}
	return s
}

// Add normalizes link and inserts it. Empty links are ignored.
func (s Set) Add(link string) {
	if n := urlnorm.Normalize(link); n != "" {
		s[n] = struct{}{}
	}
}

// Has reports whether the normalized form of link is present.
func (s Set) Has(link string) bool {
	_, ok := s[urlnorm.Normalize(link)]
	return ok
}

// Remove deletes the normalized form of link and reports whether it was present.
func (s Set) Remove(link string) bool {
	n := urlnorm.Normalize(link)
	if _, ok := s[n]; !ok {
		return false
	}
	delete(s, n)
	return true
}

func (s Set) Len() int { return len(s) }

func (s Set) Clone() Set {
	c := make(Set, len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for k := range s {
		if _, ok := o[k]; !ok {
			return false
		}
	}
	return true
}
