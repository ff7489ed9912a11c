package source

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/grantwatch/internal/fetch"
	"github.com/ppiankov/grantwatch/internal/urlnorm"
)

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// RSS extracts entries from RSS, Atom or JSON feeds.
type RSS struct{}

// NewRSS returns a feed extractor. It takes no params.
func NewRSS() *RSS { return &RSS{} }

// Extract implements Extractor. An empty feed yields no entries and no error.
func (RSS) Extract(page *fetch.Page) ([]Entry, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	base := page.URL
	if feed.Link != "" {
		base = urlnorm.Resolve(page.URL, feed.Link)
	}

	var entries []Entry
	for _, item := range feed.Items {
		link := itemLink(item)
		title := itemTitle(item)
		if link == "" || title == "" {
			continue
		}
		entries = append(entries, Entry{Title: title, Link: urlnorm.Resolve(base, link)})
	}
	return entries, nil
}

func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return strings.TrimSpace(item.Link)
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	// Some feeds only carry a permalink GUID.
	if strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://") {
		return item.GUID
	}
	return ""
}

// itemTitle prefers the title and falls back to the description text.
func itemTitle(item *gofeed.Item) string {
	if t := cleanText(stripHTML(item.Title)); t != "" {
		return t
	}
	return cleanText(stripHTML(item.Description))
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	return html.UnescapeString(s)
}
