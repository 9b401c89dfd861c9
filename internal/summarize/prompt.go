package summarize

import (
	"fmt"
	"strings"

	"github.com/FranksOps/newsbrief/internal/article"
)

const systemPrompt = `You are a news editor writing neutral, factual briefs. You only use facts stated in the article you are given. You never speculate and never add outside knowledge.`

const responseShape = `Respond with a single JSON object and nothing else:
{
  "headline": "the article's main headline, rewritten plainly",
  "synopsis": "a concise 2-3 sentence summary",
  "key_facts": ["3-5 short factual statements from the article"],
  "entities": ["people, organizations, places or products named in the article"],
  "keywords": ["3-5 relevant keywords"]
}`

const strictReminder = `Your previous answer could not be parsed. Output ONLY the JSON object described above: no markdown fences, no commentary, double-quoted keys and strings, "synopsis" non-empty and "key_facts" with at least one entry.`

func buildPrompt(c *article.Content, strict bool) string {
	var b strings.Builder
	b.WriteString("Summarize the following news article.\n\n")
	b.WriteString(responseShape)
	b.WriteString("\n\n")
	if strict {
		b.WriteString(strictReminder)
		b.WriteString("\n\n")
	}

	title := c.Title
	if title == "" {
		title = c.Candidate.Title
	}
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "Source: %s\n", c.Candidate.URL)
	if !c.Published.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", c.Published.Format("2006-01-02"))
	}
	b.WriteString("\nArticle:\n")
	b.WriteString(c.Body)
	return b.String()
}
