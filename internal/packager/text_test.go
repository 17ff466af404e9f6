package packager

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

var sampleWork = novel.Work{
	WorkRef: novel.WorkRef{Platform: novel.PlatformNovelpia, WorkID: "42"},
	Title:   "Iron <Blood>",
	Author:  "Park",
	Tags:    []string{"martial", "revenge"},
	Status:  novel.WorkStatusOngoing,
}

func sampleUnits() []novel.AcquiredUnit {
	return []novel.AcquiredUnit{
		{
			Unit:    novel.Unit{ID: "1", Title: "Prologue", Index: 0},
			Content: novel.UnitContent{Title: "Prologue", Markup: "<p>Hello</p><p>World</p>", Text: "Hello\nWorld"},
			Outcome: novel.OutcomeFetched,
		},
		{
			Unit:    novel.Unit{ID: "2", Title: "Chapter 1", Index: 1},
			Content: novel.UnitContent{Markup: "<p>From markup only</p>"},
			Outcome: novel.OutcomeCached,
		},
		{
			Unit:    novel.Unit{ID: "3", Title: "Chapter 2", Index: 2, Paid: true},
			Content: novel.UnitContent{Title: "Chapter 2", Text: novel.SentinelNotSubscribed},
			Outcome: novel.OutcomeNotSubscribed,
		},
		{
			Unit:    novel.Unit{ID: "4", Index: 3},
			Content: novel.UnitContent{Text: novel.SentinelFailed},
			Outcome: novel.OutcomeFailed,
			Err:     "timeout",
		},
	}
}

func TestRenderText(t *testing.T) {
	t.Parallel()

	got := RenderText(sampleWork, sampleUnits())
	require.True(t, strings.HasPrefix(got, "Iron <Blood>\nAuthor: Park\nSource: novelpia/42\nUnits: 4\n"))
	require.Contains(t, got, banner+"\nPrologue\n"+banner+"\n\nHello\nWorld\n")
	require.Contains(t, got, "From markup only")
	require.Contains(t, got, novel.SentinelNotSubscribed)
	require.Contains(t, got, "Chapter 4\n"+banner+"\n\n"+novel.SentinelFailed)

	// Units appear in order.
	require.Less(t, strings.Index(got, "Prologue"), strings.Index(got, "Chapter 1"))
	require.Less(t, strings.Index(got, "Chapter 1"), strings.Index(got, "Chapter 2"))
}

func TestRenderHTML(t *testing.T) {
	t.Parallel()

	units := sampleUnits()
	units[0].Content.Markup = `<p>Hello</p><script>alert(1)</script><img src="https://img.example/a.png">`
	got, err := RenderHTML(sampleWork, units)
	require.NoError(t, err)

	require.Contains(t, got, "<title>Iron &lt;Blood&gt;</title>")
	require.Contains(t, got, `<a href="#unit-1">Prologue</a>`)
	require.Contains(t, got, `<section id="unit-4">`)
	require.Contains(t, got, `<img src="https://img.example/a.png" alt=""/>`)
	require.NotContains(t, got, "alert(1)")
	require.Contains(t, got, `<p class="notice">`)
}

func TestFileName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "iron-blood.epub", FileName(sampleWork, novel.FormatEPUB))
	require.Equal(t, "전지적-독자-시점.txt", FileName(novel.Work{Title: "전지적 독자 시점!"}, novel.FormatText))
	require.Equal(t, "munpia-abc.html", FileName(novel.Work{WorkRef: novel.WorkRef{Platform: novel.PlatformMunpia, WorkID: "abc"}, Title: "???"}, novel.FormatHTML))

	long := FileName(novel.Work{Title: strings.Repeat("가", 100)}, novel.FormatText)
	require.LessOrEqual(t, len(long), maxNameBytes+len(".txt"))
}
