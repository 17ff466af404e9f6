package platform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

// novelpia returns the strategy for the novelpia tag. Its selectors
// (.novel-info, .episode-list .episode[data-episode-id], #novel_text) follow
// the fixture layout described in the package comment.
func novelpia() Strategy {
	return Strategy{
		Platform: novel.PlatformNovelpia,
		BaseURL:  "https://novelpia.com",
		PageSize: 100,
		validID:  regexp.MustCompile(`^\d{1,12}$`),
		detailPath: func(workID string) string {
			return "/novel/" + workID
		},
		listingPath: func(workID string, page int) string {
			return fmt.Sprintf("/novel/%s/episodes?page=%d", workID, page+1)
		},
		contentPath: func(_ string, unitID string) string {
			return "/viewer/" + unitID
		},
		Terminal: novelpiaTerminal,
		Detail:   novelpiaDetail,
		Listing:  novelpiaListing,
		Content:  novelpiaContent,
	}
}

func novelpiaTerminal(doc *goquery.Document) error {
	switch {
	case doc.Find("#login-wall, .login-required").Length() > 0:
		return novel.ErrLoginRequired
	case doc.Find(".page-not-found, .error-404").Length() > 0:
		return novel.ErrNotFound
	}
	return nil
}

func novelpiaDetail(doc *goquery.Document) (novel.Work, error) {
	info := doc.Find(".novel-info").First()
	w := novel.Work{
		Title:  firstText(info, ".novel-title"),
		Author: firstText(info, ".novel-writer"),
		Tags:   tags(info, ".novel-tags .tag"),
		Status: novelpiaStatus(firstText(info, ".novel-status")),
	}
	if w.Title == "" && w.Author == "" {
		return novel.Work{}, fmt.Errorf("novelpia detail: %w", novel.ErrParse)
	}
	info.Find(".novel-counts li").Each(func(_ int, li *goquery.Selection) {
		n := number(li.Text())
		switch kind, _ := li.Attr("data-kind"); kind {
		case "total":
			w.TotalUnits = n
		case "free":
			w.FreeUnits = n
		case "paid":
			w.PaidUnits = n
		}
	})
	w.WordCount = number(firstText(info, ".novel-words"))
	latest := info.Find(".novel-latest").First()
	w.LatestUnitName = firstText(latest, ".name")
	w.LatestUnitDate, _ = latest.Find("time").Attr("datetime")
	w.Views = number(firstText(info, ".novel-views"))
	w.Likes = number(firstText(info, ".novel-likes"))
	return w, nil
}

func novelpiaStatus(s string) novel.WorkStatus {
	switch {
	case strings.Contains(s, "완결"):
		return novel.WorkStatusCompleted
	case strings.Contains(s, "연재"):
		return novel.WorkStatusOngoing
	default:
		return novel.WorkStatusUnknown
	}
}

func novelpiaListing(doc *goquery.Document) ([]novel.Unit, error) {
	rows := doc.Find(".episode-list .episode")
	units := make([]novel.Unit, 0, rows.Length())
	var parseErr error
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		id := strings.TrimSpace(row.AttrOr("data-episode-id", ""))
		if id == "" {
			parseErr = fmt.Errorf("novelpia listing row without id: %w", novel.ErrParse)
			return false
		}
		units = append(units, novel.Unit{
			ID:        id,
			Title:     firstText(row, ".ep-title"),
			Paid:      boolAttr(row, "data-paid"),
			Purchased: boolAttr(row, "data-owned"),
			Locked:    boolAttr(row, "data-locked"),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return units, nil
}

func novelpiaContent(doc *goquery.Document) (novel.UnitContent, error) {
	body := doc.Find("#novel_text").First()
	if body.Length() == 0 {
		return novel.UnitContent{}, fmt.Errorf("novelpia content: %w", novel.ErrParse)
	}
	return novel.UnitContent{
		Title:  firstText(doc.Selection, ".episode-title"),
		Markup: bodyMarkup(body, doc.Url),
		Text:   bodyText(body),
	}, nil
}
