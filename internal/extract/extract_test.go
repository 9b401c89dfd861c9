package extract

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/scraper"
)

const paragraph = "Researchers at the National Quantum Lab reported a logical qubit that stayed coherent for over a second, a result that several groups had chased for years."

func articleHTML(paragraphs int) string {
	var b strings.Builder
	b.WriteString(`<!doctype html><html lang="en"><head>
<title>Qubits reach new record</title>
<meta property="og:title" content="Qubits reach new record">
<meta property="og:site_name" content="Physics Desk">
<meta property="article:published_time" content="2024-09-02T10:00:00Z">
<script>var tracking = "do not include";</script>
</head><body>
<nav><a href="/">Home</a> <a href="/subscribe">Subscribe to our newsletter</a></nav>
<article><h1>Qubits reach new record</h1>`)
	for i := 0; i < paragraphs; i++ {
		b.WriteString("<p>" + paragraph + "</p>\n")
	}
	b.WriteString(`</article><footer>Copyright Physics Desk</footer></body></html>`)
	return b.String()
}

func htmlPage(body string) *scraper.Page {
	return &scraper.Page{
		URL:         "https://physics.example.com/qubits",
		FinalURL:    "https://physics.example.com/qubits",
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte(body),
	}
}

func TestExtract_HTML(t *testing.T) {
	c, err := New(0, 0).Extract(htmlPage(articleHTML(5)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Title != "Qubits reach new record" {
		t.Errorf("unexpected title %q", c.Title)
	}
	if c.SiteName != "Physics Desk" {
		t.Errorf("unexpected site name %q", c.SiteName)
	}
	if c.Language != "en" {
		t.Errorf("unexpected language %q", c.Language)
	}
	if !c.Published.Equal(time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected published %v", c.Published)
	}
	if !strings.Contains(c.Body, "logical qubit") {
		t.Errorf("expected article text in body, got %q", c.Body)
	}
	for _, junk := range []string{"do not include", "Subscribe to our newsletter"} {
		if strings.Contains(c.Body, junk) {
			t.Errorf("body should not contain %q", junk)
		}
	}
	if c.Words != article.CountWords(c.Body) || c.Words == 0 {
		t.Errorf("unexpected word count %d", c.Words)
	}
}

func TestExtract_FallbackWithoutParagraphs(t *testing.T) {
	body := `<html><head><title>Wire</title><style>.x{}</style></head><body>
<nav>Menu Menu Menu</nav><div>` + strings.Repeat("Markets rallied on chip demand. ", 20) + `</div></body></html>`

	c, err := New(100, 0).Extract(htmlPage(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(c.Body, "Markets rallied on chip demand.") {
		t.Errorf("expected div text in body, got %q", c.Body)
	}
	if strings.Contains(c.Body, ".x{}") {
		t.Errorf("style text leaked into body")
	}
}

func TestExtract_Truncates(t *testing.T) {
	c, err := New(100, 500).Extract(htmlPage(articleHTML(20)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := utf8.RuneCountInString(c.Body); n > 500 {
		t.Errorf("expected body at most 500 chars, got %d", n)
	}
	if strings.HasSuffix(c.Body, " ") {
		t.Errorf("truncated body should be trimmed")
	}
}

func TestExtract_PlainText(t *testing.T) {
	text := strings.Repeat("Plain wire copy about the election.  ", 12)
	page := &scraper.Page{URL: "https://wire.example.com/a.txt", ContentType: "text/plain", Body: []byte(text)}

	c, err := New(0, 0).Extract(page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(c.Body, "  ") {
		t.Errorf("expected whitespace to be collapsed")
	}
}

func TestExtract_Failures(t *testing.T) {
	tests := []struct {
		name string
		page *scraper.Page
		kind article.Kind
	}{
		{"empty", &scraper.Page{ContentType: "text/html"}, article.KindInsufficientContent},
		{"too short", htmlPage("<html><body><p>Breaking: more soon.</p></body></html>"), article.KindInsufficientContent},
		{"pdf", &scraper.Page{ContentType: "application/pdf", Body: []byte("%PDF-1.7")}, article.KindUnsupportedContent},
		{"sniffed binary", &scraper.Page{Body: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}}, article.KindUnsupportedContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(0, 0).Extract(tt.page)
			var f *article.Failure
			if !errors.As(err, &f) {
				t.Fatalf("expected *article.Failure, got %v", err)
			}
			if f.Kind != tt.kind || f.Stage != article.StageExtract {
				t.Errorf("got %s/%s, want extract/%s", f.Stage, f.Kind, tt.kind)
			}
			if f.Transient() {
				t.Errorf("extraction failures are never transient")
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("unexpected %q", got)
	}
	if got := truncate("alpha beta gamma delta", 13); got != "alpha beta" {
		t.Errorf("expected cut on word boundary, got %q", got)
	}
	if got := truncate("ééééé", 3); got != "ééé" {
		t.Errorf("expected rune-safe cut, got %q", got)
	}
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2024-09-02T10:00:00Z", "2024-09-02T12:00:00+02:00", "2024-09-02T10:00:00", "Mon, 02 Sep 2024 10:00:00 GMT"} {
		got, ok := parseDate(in)
		if !ok || !got.Equal(time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)) {
			t.Errorf("parseDate(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := parseDate("yesterday"); ok {
		t.Errorf("expected unparseable date to be rejected")
	}
}
