package platform

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	spaceRun = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	digits   = regexp.MustCompile(`\d[\d,]*`)
)

// clean collapses horizontal whitespace and trims the result.
func clean(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// firstText returns the cleaned text of the first match.
func firstText(doc *goquery.Selection, selector string) string {
	return clean(doc.Find(selector).First().Text())
}

// number pulls the first integer out of s, ignoring thousands separators.
func number(s string) int {
	m := digits.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// numbers pulls every integer out of s in order.
func numbers(s string) []int {
	var out []int
	for _, m := range digits.FindAllString(s, -1) {
		n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

func boolAttr(sel *goquery.Selection, name string) bool {
	v, ok := sel.Attr(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// bodyText reconstructs plain text from a content container: one line per
// paragraph, with empty paragraphs kept as blank lines.
func bodyText(sel *goquery.Selection) string {
	paras := sel.Find("p")
	if paras.Length() == 0 {
		clone := sel.Clone()
		clone.Find("br").ReplaceWithHtml("\n")
		return normalizeLines(clone.Text())
	}
	lines := make([]string, 0, paras.Length())
	paras.Each(func(_ int, p *goquery.Selection) {
		lines = append(lines, clean(p.Text()))
	})
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

func normalizeLines(s string) string {
	raw := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, clean(l))
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

// bodyMarkup returns the inner HTML of the content container with scripts
// removed and relative image sources resolved against base.
func bodyMarkup(sel *goquery.Selection, base *url.URL) string {
	clone := sel.Clone()
	clone.Find("script, style, noscript").Remove()
	if base != nil {
		clone.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
			src, _ := img.Attr("src")
			ref, err := url.Parse(strings.TrimSpace(src))
			if err != nil || ref.IsAbs() {
				return
			}
			img.SetAttr("src", base.ResolveReference(ref).String())
		})
	}
	markup, err := clone.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(markup)
}

func tags(doc *goquery.Selection, selector string) []string {
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimPrefix(clean(s.Text()), "#")
		if t != "" {
			out = append(out, t)
		}
	})
	return out
}
