// Package platform maps each supported platform to the pure functions that
// build its URLs and extract fields from its pages.
//
// The selectors describe a normalized page layout, the one served by the
// test fixtures in this repository, not a snapshot of either live site.
// Deployments point fetcher.base_urls at a front end that renders that layout
// and adjust the selectors here when the upstream markup differs.
package platform

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

// Strategy is the extraction rule set for one platform.
type Strategy struct {
	Platform novel.Platform
	BaseURL  string
	PageSize int

	validID *regexp.Regexp

	detailPath  func(workID string) string
	listingPath func(workID string, page int) string
	contentPath func(workID, unitID string) string

	// Terminal returns a terminal error when the page is a login wall or a
	// not-found page. It runs before any field extraction.
	Terminal func(doc *goquery.Document) error
	Detail   func(doc *goquery.Document) (novel.Work, error)
	Listing  func(doc *goquery.Document) ([]novel.Unit, error)
	Content  func(doc *goquery.Document) (novel.UnitContent, error)
}

var strategies = map[novel.Platform]Strategy{
	novel.PlatformNovelpia: novelpia(),
	novel.PlatformMunpia:   munpia(),
}

// Lookup returns the strategy registered for p.
func Lookup(p novel.Platform) (Strategy, error) {
	s, ok := strategies[p]
	if !ok {
		return Strategy{}, fmt.Errorf("platform %q: %w", p, novel.ErrInvalidID)
	}
	return s, nil
}

// WithBaseURL returns a copy of s pointed at another origin.
func (s Strategy) WithBaseURL(base string) Strategy {
	if base != "" {
		s.BaseURL = strings.TrimRight(base, "/")
	}
	return s
}

// ValidateID rejects identifiers the platform could never serve.
func (s Strategy) ValidateID(id string) error {
	if s.validID != nil && !s.validID.MatchString(id) {
		return fmt.Errorf("%s id %q: %w", s.Platform, id, novel.ErrInvalidID)
	}
	return nil
}

// DetailURL builds the work summary page URL.
func (s Strategy) DetailURL(workID string) (string, error) {
	if err := s.ValidateID(workID); err != nil {
		return "", err
	}
	return s.BaseURL + s.detailPath(url.PathEscape(workID)), nil
}

// ListingURL builds the URL for a zero-based listing page.
func (s Strategy) ListingURL(workID string, page int) (string, error) {
	if err := s.ValidateID(workID); err != nil {
		return "", err
	}
	if page < 0 {
		return "", fmt.Errorf("listing page %d: %w", page, novel.ErrInvalidID)
	}
	return s.BaseURL + s.listingPath(url.PathEscape(workID), page), nil
}

// ContentURL builds the reader URL for one unit.
func (s Strategy) ContentURL(workID, unitID string) (string, error) {
	if err := s.ValidateID(workID); err != nil {
		return "", err
	}
	if err := s.ValidateID(unitID); err != nil {
		return "", err
	}
	return s.BaseURL + s.contentPath(url.PathEscape(workID), url.PathEscape(unitID)), nil
}
