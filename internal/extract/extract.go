// Package extract reduces fetched pages to clean article text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/scraper"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	DefaultMinBodyChars = 280
	DefaultMaxBodyChars = 8000
)

// boilerplate is removed before the paragraph fallback runs.
const boilerplate = "script, style, noscript, nav, header, footer, aside, form, iframe, svg, figure figcaption, [role=navigation], [aria-hidden=true]"

// Extractor turns a fetched page into article content.
type Extractor struct {
	// MinBodyChars is the shortest body accepted as an article.
	MinBodyChars int
	// MaxBodyChars truncates longer bodies on a word boundary.
	MaxBodyChars int
}

// New returns an Extractor with the given bounds; non-positive values use
// the defaults.
func New(minChars, maxChars int) *Extractor {
	if minChars <= 0 {
		minChars = DefaultMinBodyChars
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxBodyChars
	}
	return &Extractor{MinBodyChars: minChars, MaxBodyChars: maxChars}
}

// Extract returns the page's article content. Failures are *article.Failure
// values of the extract stage.
func (e *Extractor) Extract(page *scraper.Page) (*article.Content, error) {
	if page == nil || len(bytes.TrimSpace(page.Body)) == 0 {
		return nil, failure(article.KindInsufficientContent, errors.New("empty body"))
	}

	mediaType := page.ContentType
	if mediaType == "" {
		mediaType, _, _ = strings.Cut(http.DetectContentType(page.Body), ";")
	}

	var content *article.Content
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		c, err := e.fromHTML(page)
		if err != nil {
			return nil, err
		}
		content = c
	case "text/plain":
		content = &article.Content{Body: normalizeText(string(page.Body))}
	default:
		return nil, failure(article.KindUnsupportedContent, fmt.Errorf("content type %q", mediaType))
	}

	content.Body = truncate(content.Body, e.MaxBodyChars)
	if n := utf8.RuneCountInString(content.Body); n < e.MinBodyChars {
		return nil, failure(article.KindInsufficientContent,
			fmt.Errorf("body has %d characters, need %d", n, e.MinBodyChars))
	}
	content.Words = article.CountWords(content.Body)
	return content, nil
}

func (e *Extractor) fromHTML(page *scraper.Page) (*article.Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, failure(article.KindUnsupportedContent, fmt.Errorf("parse html: %w", err))
	}

	meta := readMeta(doc)
	content := &article.Content{
		Title:     meta.title,
		Published: meta.published,
		SiteName:  meta.siteName,
		Language:  meta.language,
	}

	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}
	if u, err := url.Parse(pageURL); err == nil {
		if ra, err := readability.FromReader(bytes.NewReader(page.Body), u); err == nil {
			if t := strings.TrimSpace(ra.Title); t != "" {
				content.Title = t
			}
			if content.SiteName == "" {
				content.SiteName = strings.TrimSpace(ra.SiteName)
			}
			content.Body = readableText(ra.Content, ra.TextContent)
		}
	}

	if utf8.RuneCountInString(content.Body) < e.MinBodyChars {
		if fallback := paragraphText(doc); utf8.RuneCountInString(fallback) > utf8.RuneCountInString(content.Body) {
			content.Body = fallback
		}
	}
	return content, nil
}

// readableText prefers paragraph structure from readability's cleaned HTML
// and falls back to its flat text.
func readableText(cleanHTML, flat string) string {
	if cleanHTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleanHTML)); err == nil {
			if text := joinParagraphs(doc.Find("p, li, blockquote, h2, h3")); text != "" {
				return text
			}
		}
	}
	return normalizeText(flat)
}

// paragraphText strips boilerplate and joins <p> text, or returns all body
// text when the page has no paragraphs.
func paragraphText(doc *goquery.Document) string {
	doc.Find(boilerplate).Remove()
	if text := joinParagraphs(doc.Find("p")); text != "" {
		return text
	}
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}

func joinParagraphs(sel *goquery.Selection) string {
	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}

// normalizeText collapses runs of whitespace inside paragraphs and keeps
// blank-line paragraph breaks.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var parts []string
	for _, block := range strings.Split(s, "\n\n") {
		if t := strings.Join(strings.Fields(block), " "); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// truncate cuts s to at most max runes, backing up to the last space.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)[:max]
	cut := string(runes)
	if i := strings.LastIndexAny(cut, " \n"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

func failure(kind article.Kind, err error) *article.Failure {
	return article.NewFailure(article.StageExtract, kind, err)
}

type pageMeta struct {
	title     string
	siteName  string
	language  string
	published time.Time
}

var dateSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[property="og:published_time"]`,
	`meta[itemprop="datePublished"]`,
	`meta[name="datePublished"]`,
	`meta[name="date"]`,
	`meta[name="pubdate"]`,
	`meta[name="publishdate"]`,
	`meta[name="DC.date.issued"]`,
}

func readMeta(doc *goquery.Document) pageMeta {
	var m pageMeta

	m.title = attr(doc, `meta[property="og:title"]`, "content")
	if m.title == "" {
		m.title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if m.title == "" {
		m.title = strings.Join(strings.Fields(doc.Find("h1").First().Text()), " ")
	}

	m.siteName = attr(doc, `meta[property="og:site_name"]`, "content")
	m.language = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))

	for _, sel := range dateSelectors {
		if t, ok := parseDate(attr(doc, sel, "content")); ok {
			m.published = t
			return m
		}
	}
	doc.Find("time[datetime]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t, ok := parseDate(s.AttrOr("datetime", "")); ok {
			m.published = t
			return false
		}
		return true
	})
	return m
}

func attr(doc *goquery.Document, selector, name string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr(name, ""))
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
	"January 2, 2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
