package packager

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

const banner = "================================================================"

// RenderText concatenates the units into a plain-text document with a
// header block and one banner per unit.
func RenderText(work novel.Work, units []novel.AcquiredUnit) string {
	var b strings.Builder
	b.WriteString(work.Title)
	b.WriteByte('\n')
	if work.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", work.Author)
	}
	fmt.Fprintf(&b, "Source: %s\n", work.WorkRef)
	fmt.Fprintf(&b, "Units: %d\n", len(units))
	if len(work.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(work.Tags, ", "))
	}

	for _, u := range units {
		b.WriteString("\n\n")
		b.WriteString(banner)
		b.WriteByte('\n')
		b.WriteString(u.DisplayTitle())
		b.WriteByte('\n')
		b.WriteString(banner)
		b.WriteString("\n\n")
		b.WriteString(unitText(u))
		b.WriteByte('\n')
	}
	return b.String()
}

// unitText prefers the plain-text body and derives one from markup when it
// is missing.
func unitText(u novel.AcquiredUnit) string {
	if t := strings.TrimSpace(u.Content.Text); t != "" {
		return t
	}
	if u.Content.Markup != "" {
		return markupText(u.Content.Markup)
	}
	return ""
}
