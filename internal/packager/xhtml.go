package packager

import (
	"fmt"
	"html"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true, atom.Embed: true,
	atom.Hr: true, atom.Img: true, atom.Input: true, atom.Link: true, atom.Meta: true,
	atom.Source: true, atom.Track: true, atom.Wbr: true,
}

var droppedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Iframe: true,
	atom.Object: true, atom.Form: true, atom.Input: true, atom.Button: true,
}

// imageRewriter maps an <img> source to its replacement. Returning false
// drops the element.
type imageRewriter func(src string) (string, bool)

// toXHTML parses an HTML fragment and serializes it as well-formed XHTML.
// Scripts, forms and event handler attributes are removed. When rewrite is
// non-nil every <img> is passed through it.
func toXHTML(markup string, rewrite imageRewriter) (string, error) {
	body := &nethtml.Node{Type: nethtml.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := nethtml.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return "", fmt.Errorf("parse markup: %w", err)
	}
	var b strings.Builder
	for _, n := range nodes {
		writeNode(&b, n, rewrite)
	}
	return b.String(), nil
}

func writeNode(b *strings.Builder, n *nethtml.Node, rewrite imageRewriter) {
	switch n.Type {
	case nethtml.TextNode:
		b.WriteString(escapeXML(n.Data))
	case nethtml.ElementNode:
		if droppedElements[n.DataAtom] {
			return
		}
		if !validName(n.Data) {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				writeNode(b, c, rewrite)
			}
			return
		}
		attrs := n.Attr
		if n.DataAtom == atom.Img {
			var ok bool
			if attrs, ok = rewriteImage(attrs, rewrite); !ok {
				return
			}
		}
		b.WriteByte('<')
		b.WriteString(n.Data)
		for _, a := range attrs {
			if a.Namespace != "" || strings.HasPrefix(strings.ToLower(a.Key), "on") || !validName(a.Key) {
				continue
			}
			fmt.Fprintf(b, ` %s="%s"`, a.Key, escapeXML(a.Val))
		}
		if voidElements[n.DataAtom] {
			b.WriteString("/>")
			return
		}
		b.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNode(b, c, rewrite)
		}
		b.WriteString("</")
		b.WriteString(n.Data)
		b.WriteByte('>')
	case nethtml.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNode(b, c, rewrite)
		}
	}
}

func rewriteImage(attrs []nethtml.Attribute, rewrite imageRewriter) ([]nethtml.Attribute, bool) {
	out := make([]nethtml.Attribute, 0, len(attrs)+1)
	hasAlt := false
	for _, a := range attrs {
		switch a.Key {
		case "src":
			if rewrite != nil {
				src, ok := rewrite(strings.TrimSpace(a.Val))
				if !ok {
					return nil, false
				}
				a.Val = src
			}
		case "srcset":
			continue
		case "alt":
			hasAlt = true
		}
		out = append(out, a)
	}
	if !hasAlt {
		out = append(out, nethtml.Attribute{Key: "alt", Val: ""})
	}
	return out, true
}

// xmlSafe drops runes outside the XML 1.0 Char production. Scraped text
// carries stray control characters that strict readers refuse.
func xmlSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case r >= 0x20 && r <= 0xD7FF, r >= 0xE000 && r <= 0xFFFD, r >= 0x10000 && r <= 0x10FFFF:
			return r
		default:
			return -1
		}
	}, s)
}

func escapeXML(s string) string {
	return html.EscapeString(xmlSafe(s))
}

// validName rejects element and attribute names that are not plain XML names.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// textParagraphs rebuilds plain text into escaped paragraph blocks. Blocks
// are separated by blank lines; single newlines inside a block become <br/>.
func textParagraphs(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var b strings.Builder
	for _, block := range splitBlocks(text) {
		lines := strings.Split(block, "\n")
		for i, l := range lines {
			lines[i] = escapeXML(strings.TrimSpace(l))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br/>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}

func splitBlocks(text string) []string {
	var (
		blocks  []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

// markupText extracts readable text from markup, one line per block element.
func markupText(markup string) string {
	body := &nethtml.Node{Type: nethtml.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := nethtml.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(n *nethtml.Node)
	walk = func(n *nethtml.Node) {
		switch {
		case n.Type == nethtml.TextNode:
			b.WriteString(n.Data)
		case n.Type == nethtml.ElementNode && droppedElements[n.DataAtom]:
			return
		case n.Type == nethtml.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == nethtml.ElementNode && (n.DataAtom == atom.P || n.DataAtom == atom.Div) {
			b.WriteByte('\n')
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}
