package platform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

// munpia returns the strategy for the munpia tag. Like novelpia, its
// selectors follow the fixture layout rather than live markup.
func munpia() Strategy {
	return Strategy{
		Platform: novel.PlatformMunpia,
		BaseURL:  "https://novel.munpia.com",
		PageSize: 50,
		validID:  regexp.MustCompile(`^[A-Za-z0-9]{1,32}$`),
		detailPath: func(workID string) string {
			return "/" + workID
		},
		listingPath: func(workID string, page int) string {
			return fmt.Sprintf("/%s/page/%d", workID, page+1)
		},
		contentPath: func(workID, unitID string) string {
			return fmt.Sprintf("/%s/neSrl/%s", workID, unitID)
		},
		Terminal: munpiaTerminal,
		Detail:   munpiaDetail,
		Listing:  munpiaListing,
		Content:  munpiaContent,
	}
}

func munpiaTerminal(doc *goquery.Document) error {
	switch {
	case doc.Find("form.member-login-form").Length() > 0:
		return novel.ErrLoginRequired
	case doc.Find(".no-novel").Length() > 0:
		return novel.ErrNotFound
	}
	return nil
}

func munpiaDetail(doc *goquery.Document) (novel.Work, error) {
	box := doc.Find(".detail-box").First()
	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	w := novel.Work{
		Title:  clean(title),
		Author: firstText(box, ".meta-author dd"),
		Tags:   tags(box, ".synopsis-tags a"),
		Status: munpiaStatus(firstText(box, ".meta-status dd")),
	}
	if w.Title == "" && w.Author == "" {
		return novel.Work{}, fmt.Errorf("munpia detail: %w", novel.ErrParse)
	}
	// "Total 120 (Free 30 / Paid 90)"
	counts := numbers(firstText(box, ".meta-episodes dd"))
	if len(counts) > 0 {
		w.TotalUnits = counts[0]
	}
	if len(counts) > 2 {
		w.FreeUnits, w.PaidUnits = counts[1], counts[2]
	}
	w.WordCount = number(firstText(box, ".meta-words dd"))
	latest := box.Find(".meta-latest dd").First()
	w.LatestUnitName = clean(latest.Text())
	w.LatestUnitDate = latest.AttrOr("data-date", "")
	w.Views = number(firstText(box, ".meta-views dd"))
	w.Likes = number(firstText(box, ".meta-recommend dd"))
	return w, nil
}

func munpiaStatus(s string) novel.WorkStatus {
	switch strings.ToLower(s) {
	case "complete", "completed":
		return novel.WorkStatusCompleted
	case "ongoing", "hiatus":
		return novel.WorkStatusOngoing
	default:
		return novel.WorkStatusUnknown
	}
}

func munpiaListing(doc *goquery.Document) ([]novel.Unit, error) {
	entries := doc.Find("ul.episode-list li.entry")
	units := make([]novel.Unit, 0, entries.Length())
	var parseErr error
	entries.EachWithBreak(func(_ int, li *goquery.Selection) bool {
		id := strings.TrimSpace(li.AttrOr("data-entry-no", ""))
		if id == "" {
			parseErr = fmt.Errorf("munpia listing entry without id: %w", novel.ErrParse)
			return false
		}
		units = append(units, novel.Unit{
			ID:        id,
			Title:     firstText(li, ".entry-title"),
			Paid:      li.Find(".icon-paid").Length() > 0,
			Purchased: li.Find(".icon-bought").Length() > 0,
			Locked:    li.Find(".icon-lock").Length() > 0,
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return units, nil
}

func munpiaContent(doc *goquery.Document) (novel.UnitContent, error) {
	body := doc.Find("#tEntry").First()
	if body.Length() == 0 {
		return novel.UnitContent{}, fmt.Errorf("munpia content: %w", novel.ErrParse)
	}
	return novel.UnitContent{
		Title:  firstText(doc.Selection, ".tit-wrap h3"),
		Markup: bodyMarkup(body, doc.Url),
		Text:   bodyText(body),
	}, nil
}
