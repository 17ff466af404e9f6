package packager

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-shiori/go-epub"
	"github.com/vincent-petithory/dataurl"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

const stylesheet = `body { line-height: 1.7; margin: 0 5%; }
h1 { font-size: 1.4em; margin: 1.5em 0 1em; }
p { margin: 0 0 0.8em; text-indent: 1em; }
p.notice { color: #777; font-style: italic; text-indent: 0; }
img { max-width: 100%; height: auto; }
`

// WriteEPUB writes work and units as an EPUB container at path. Every unit
// becomes one section, in order, so the spine and both tables of contents
// share the same sequence. Embedded images are resolved through images.
func WriteEPUB(ctx context.Context, work novel.Work, units []novel.AcquiredUnit, images *ImageSet, path string) error {
	book, err := epub.NewEpub(xmlSafe(work.Title))
	if err != nil {
		return fmt.Errorf("create epub: %w", err)
	}
	if work.Author != "" {
		book.SetAuthor(xmlSafe(work.Author))
	}
	book.SetLang("ko")
	book.SetIdentifier("urn:serial-archiver:" + work.WorkRef.String())
	if desc := describe(work); desc != "" {
		book.SetDescription(xmlSafe(desc))
	}

	css, err := book.AddCSS(dataurl.New([]byte(stylesheet), "text/css").String(), "style.css")
	if err != nil {
		return fmt.Errorf("add stylesheet: %w", err)
	}

	add := func(source, name string) (string, error) {
		return book.AddImage(source, name)
	}
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rewrite imageRewriter
		if images != nil {
			rewrite = func(src string) (string, bool) {
				return images.Resolve(ctx, src, add)
			}
		}
		body, err := unitBody(u, rewrite)
		if err != nil {
			return fmt.Errorf("unit %s: %w", u.ID, err)
		}
		title := xmlSafe(u.DisplayTitle())
		section := "<h1>" + escapeText(title) + "</h1>\n" + body
		if _, err := book.AddSection(section, title, fmt.Sprintf("unit_%04d.xhtml", i+1), css); err != nil {
			return fmt.Errorf("add section %d: %w", i+1, err)
		}
	}

	if err := book.Write(path); err != nil {
		return fmt.Errorf("write epub: %w", err)
	}
	return nil
}

func describe(work novel.Work) string {
	var parts []string
	if len(work.Tags) > 0 {
		parts = append(parts, strings.Join(work.Tags, ", "))
	}
	if work.Status != "" && work.Status != novel.WorkStatusUnknown {
		parts = append(parts, string(work.Status))
	}
	parts = append(parts, work.WorkRef.String())
	return strings.Join(parts, " · ")
}

func escapeText(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(xmlSafe(s))
}
