package source

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html/charset"

	"github.com/ppiankov/grantwatch/internal/fetch"
	"github.com/ppiankov/grantwatch/internal/urlnorm"
)

// Extractor kinds understood by DefaultRegistry.
const (
	KindGeneric = "generic"
	KindArticle = "article"
	KindRSS     = "rss"
)

// Param keys for the selector based kinds.
const (
	ParamItemSelector   = "item_selector"
	ParamTitleSelector  = "title_selector"
	ParamLinkSelector   = "link_selector"
	ParamStatusSelector = "status_selector"
	ParamStatusText     = "status_text"
)

// selfSelector selects the item element itself.
const selfSelector = "."

// Generic extracts entries with CSS selectors. For every item match the
// optional status filter runs first, then the title and link selectors are
// evaluated inside the item.
type Generic struct {
	ItemSelector   string
	TitleSelector  string
	LinkSelector   string
	StatusSelector string
	StatusText     string
}

// NewGeneric builds a Generic extractor. The item, title and link
// selectors are required and must parse.
func NewGeneric(params map[string]string) (*Generic, error) {
	g := &Generic{
		ItemSelector:   strings.TrimSpace(params[ParamItemSelector]),
		TitleSelector:  strings.TrimSpace(params[ParamTitleSelector]),
		LinkSelector:   strings.TrimSpace(params[ParamLinkSelector]),
		StatusSelector: strings.TrimSpace(params[ParamStatusSelector]),
		StatusText:     strings.TrimSpace(params[ParamStatusText]),
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// NewArticle builds the extractor for pages that list each announcement in
// an <article> with an h2 title. Params may override any selector.
func NewArticle(params map[string]string) (*Generic, error) {
	merged := map[string]string{
		ParamItemSelector:  "article",
		ParamTitleSelector: "h2",
		ParamLinkSelector:  "a[href]",
	}
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			merged[k] = v
		}
	}
	return NewGeneric(merged)
}

func (g *Generic) validate() error {
	required := []struct{ key, sel string }{
		{ParamItemSelector, g.ItemSelector},
		{ParamTitleSelector, g.TitleSelector},
		{ParamLinkSelector, g.LinkSelector},
	}
	for _, r := range required {
		if r.sel == "" {
			return fmt.Errorf("%s is required", r.key)
		}
		if err := checkSelector(r.sel); err != nil {
			return fmt.Errorf("%s: %w", r.key, err)
		}
	}
	if g.StatusSelector != "" {
		if err := checkSelector(g.StatusSelector); err != nil {
			return fmt.Errorf("%s: %w", ParamStatusSelector, err)
		}
	}
	return nil
}

func checkSelector(sel string) error {
	if sel == selfSelector {
		return nil
	}
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return nil
}

// Extract implements Extractor.
func (g *Generic) Extract(page *fetch.Page) ([]Entry, error) {
	doc, err := parseHTML(page)
	if err != nil {
		return nil, err
	}

	items := doc.Find(g.ItemSelector)
	if items.Length() == 0 {
		return nil, fmt.Errorf("%w: item_selector %q", ErrNoItems, g.ItemSelector)
	}

	var entries []Entry
	items.Each(func(_ int, item *goquery.Selection) {
		if !g.statusMatches(item) {
			return
		}
		title := cleanText(pick(item, g.TitleSelector).Text())
		href, ok := linkHref(pick(item, g.LinkSelector))
		if title == "" || !ok {
			return
		}
		entries = append(entries, Entry{Title: title, Link: urlnorm.Resolve(page.URL, href)})
	})
	return entries, nil
}

// statusMatches applies the optional status filter. Both the selector and
// the text must be set for the filter to apply.
func (g *Generic) statusMatches(item *goquery.Selection) bool {
	if g.StatusSelector == "" || g.StatusText == "" {
		return true
	}
	status := pick(item, g.StatusSelector)
	if status.Length() == 0 {
		return false
	}
	return strings.Contains(status.Text(), g.StatusText)
}

func pick(item *goquery.Selection, sel string) *goquery.Selection {
	if sel == selfSelector {
		return item
	}
	return item.Find(sel).First()
}

// linkHref returns the href of sel, falling back to the first anchor inside
// it when the selected element is not a link itself.
func linkHref(sel *goquery.Selection) (string, bool) {
	if sel.Length() == 0 {
		return "", false
	}
	if href, ok := sel.Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href), true
	}
	if href, ok := sel.Find("a[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href), true
	}
	return "", false
}

// parseHTML decodes the body to UTF-8 using the Content-Type charset, a meta
// tag or content sniffing, then parses it.
func parseHTML(page *fetch.Page) (*goquery.Document, error) {
	r, err := charset.NewReader(bytes.NewReader(page.Body), page.ContentType)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
