package packager

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

var htmlTemplate = template.Must(template.New("work").Parse(`<!DOCTYPE html>
<html lang="ko">
<head>
<meta charset="utf-8">
<title>{{.Work.Title}}</title>
<style>
body { max-width: 42em; margin: 0 auto; padding: 1em; line-height: 1.7; font-family: serif; }
nav ol { padding-left: 1.5em; }
section { margin-top: 3em; }
.notice { color: #777; font-style: italic; }
img { max-width: 100%; }
</style>
</head>
<body>
<header>
<h1>{{.Work.Title}}</h1>
{{if .Work.Author}}<p class="author">{{.Work.Author}}</p>{{end}}
{{if .Work.Tags}}<p class="tags">{{range $i, $t := .Work.Tags}}{{if $i}}, {{end}}{{$t}}{{end}}</p>{{end}}
</header>
<nav>
<h2>Contents</h2>
<ol>
{{range .Units}}<li><a href="#{{.Anchor}}">{{.Title}}</a></li>
{{end}}</ol>
</nav>
{{range .Units}}<section id="{{.Anchor}}">
<h2>{{.Title}}</h2>
{{.Body}}
</section>
{{end}}</body>
</html>
`))

type htmlUnit struct {
	Anchor string
	Title  string
	Body   template.HTML
}

// RenderHTML wraps the units in a standalone HTML page with an anchor-based
// table of contents. Images keep their original sources.
func RenderHTML(work novel.Work, units []novel.AcquiredUnit) (string, error) {
	data := struct {
		Work  novel.Work
		Units []htmlUnit
	}{Work: work}
	for i, u := range units {
		body, err := unitBody(u, nil)
		if err != nil {
			return "", fmt.Errorf("unit %s: %w", u.ID, err)
		}
		data.Units = append(data.Units, htmlUnit{
			Anchor: fmt.Sprintf("unit-%d", i+1),
			Title:  u.DisplayTitle(),
			// #nosec G203 -- body is re-serialized by toXHTML or escaped by textParagraphs.
			Body: template.HTML(body),
		})
	}
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// unitBody renders the XHTML body of one unit: normalized markup when the
// unit has it, paragraphs rebuilt from text otherwise, and a notice for
// sentinel and failed units.
func unitBody(u novel.AcquiredUnit, rewrite imageRewriter) (string, error) {
	if !u.HasContent() {
		return `<p class="notice">` + escapeXML(u.Content.Text) + "</p>\n", nil
	}
	if u.Content.Markup != "" {
		body, err := toXHTML(u.Content.Markup, rewrite)
		if err != nil {
			return "", err
		}
		if body != "" {
			return body, nil
		}
	}
	return textParagraphs(u.Content.Text), nil
}
