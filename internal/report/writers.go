package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Format names an output rendering.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatYAML     Format = "yaml"
)

// ParseFormat resolves a format name. Empty means text; "md" and "yml" are
// accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "html":
		return FormatHTML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Write renders r to w in the given format.
func Write(w io.Writer, format Format, r *Report) error {
	switch format {
	case FormatText, "":
		return WriteText(w, r)
	case FormatMarkdown:
		return WriteMarkdown(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatHTML:
		return WriteHTML(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}

// WriteYAML writes the report as YAML.
func WriteYAML(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode yaml report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode yaml report: %w", err)
	}
	return nil
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

const textTmpl = `News report: {{.Topic}}
Generated:  {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}} ({{.Duration}})
Articles:   {{.Stats.Summarized}} summarized, {{.Stats.Failed}} failed, {{.Stats.Discovered}} discovered
{{- if .Note}}
Note:       {{.Note}}
{{- end}}
{{range .Sections}}
--- News Report ---
Headline: {{.Headline}}
Summary: {{.Synopsis}}
Keywords: {{join .Keywords ", "}}
Source: {{.URL}}
-------------------
{{else}}
No articles could be summarized.
{{end -}}
`

// WriteText writes the plain text report, one block per article.
func WriteText(w io.Writer, r *Report) error {
	t, err := template.New("textReport").Funcs(funcs).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}
	if err := t.Execute(w, r); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}
	return nil
}

const markdownTmpl = `# News report: {{.Topic}}

_Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}. {{.Stats.Summarized}} of {{.Stats.Discovered}} articles summarized._
{{- if .Note}}

> {{.Note}}
{{- end}}
{{range .Sections}}
## {{.Position}}. {{.Headline}}

{{.Synopsis}}
{{range .KeyFacts}}
- {{.}}
{{- end}}

**Keywords:** {{join .Keywords ", "}}{{if .Entities}}  
**Entities:** {{join .Entities ", "}}{{end}}  
**Source:** <{{.URL}}>
{{else}}
_No articles could be summarized._
{{end -}}
{{- if .Failures}}

## Failures

| URL | Stage | Kind | Attempts |
|---|---|---|---|
{{- range .Failures}}
| {{.URL}} | {{.Stage}} | {{.Kind}}{{if .Status}} ({{.Status}}){{end}} | {{.Attempts}} |
{{- end}}
{{end -}}
`

// WriteMarkdown writes the report as Markdown.
func WriteMarkdown(w io.Writer, r *Report) error {
	t, err := template.New("markdownReport").Funcs(funcs).Parse(markdownTmpl)
	if err != nil {
		return fmt.Errorf("parse markdown template: %w", err)
	}
	if err := t.Execute(w, r); err != nil {
		return fmt.Errorf("render markdown report: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>News report: {{.Topic}}</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; max-width: 860px; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 16px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 120px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  .note { background: #fff4e5; padding: 10px; border-left: 4px solid #f0a020; }
  .keywords { color: #666; font-size: 14px; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>News report: {{.Topic}}</h1>
  <p><strong>Generated:</strong> {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}} ({{.Duration}})</p>

  <div class="stat-card"><div>Discovered</div><div class="stat-val">{{.Stats.Discovered}}</div></div>
  <div class="stat-card"><div>Summarized</div><div class="stat-val">{{.Stats.Summarized}}</div></div>
  <div class="stat-card"><div>Failed</div><div class="stat-val" style="color: {{if gt .Stats.Failed 0}}red{{else}}green{{end}};">{{.Stats.Failed}}</div></div>
  {{- if .Note}}
  <p class="note">{{.Note}}</p>
  {{- end}}

  {{- range .Sections}}
  <article>
    <h2>{{.Headline}}</h2>
    <p>{{.Synopsis}}</p>
    <ul>
      {{- range .KeyFacts}}
      <li>{{.}}</li>
      {{- end}}
    </ul>
    <p class="keywords">{{join .Keywords ", "}}</p>
    <p><a href="{{.URL}}">{{if .Title}}{{.Title}}{{else}}{{.URL}}{{end}}</a></p>
  </article>
  {{- else}}
  <p>No articles could be summarized.</p>
  {{- end}}

  {{- if .Failures}}
  <h3>Failures</h3>
  <table>
    <tr><th>URL</th><th>Stage</th><th>Kind</th><th>Attempts</th></tr>
    {{- range .Failures}}
    <tr><td>{{.URL}}</td><td>{{.Stage}}</td><td>{{.Kind}}{{if .Status}} ({{.Status}}){{end}}</td><td>{{.Attempts}}</td></tr>
    {{- end}}
  </table>
  {{- end}}
</body>
</html>
`

// WriteHTML writes a standalone HTML page. Model output is escaped.
func WriteHTML(w io.Writer, r *Report) error {
	t, err := htmltemplate.New("htmlReport").Funcs(htmltemplate.FuncMap{"join": strings.Join}).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}
	if err := t.Execute(w, r); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}
