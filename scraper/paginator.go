package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NextPage returns the absolute URL of the first next-page link carrying an
// href. false means the catalog has no further pages.
func NextPage(doc *goquery.Document, selectors ShopSelectorSet, pageURL *url.URL) (string, bool) {
	if selectors.NextPage == "" {
		return "", false
	}

	var next string
	doc.Find(selectors.NextPage).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		resolved, err := resolveLink(pageURL, strings.TrimSpace(href))
		if err != nil {
			return true
		}
		next = resolved
		return false
	})
	return next, next != ""
}

// PageBudget is the number of pages needed to cover limit items,
// never less than one.
func PageBudget(limit, pageSize int) int {
	if pageSize <= 0 || limit <= 0 {
		return 1
	}
	pages := (limit + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}
