package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ShopSelectorSet holds the CSS locators applied to one shop's catalog pages.
// Name, Link, Price, RegularPrice and Availability are relative to Entry.
type ShopSelectorSet struct {
	Entry        string
	Name         string
	Link         string
	LinkAttr     string
	Price        string
	RegularPrice string
	Availability string
	NextPage     string
	DetailName   string
	PageSize     int
}

func (s ShopSelectorSet) linkAttr() string {
	if s.LinkAttr == "" {
		return "href"
	}
	return s.LinkAttr
}

// MissingNamePolicy controls how an entry without a name is reported.
type MissingNamePolicy int

const (
	MissingNameSilent MissingNamePolicy = iota
	MissingNameLog
)

// TruncatedNamePolicy controls entries whose listed name was cut short.
type TruncatedNamePolicy int

const (
	TruncatedKeep TruncatedNamePolicy = iota
	TruncatedDrop
	TruncatedResolve
)

// ShopHooks carries the per-shop quirks that selectors alone cannot express.
type ShopHooks struct {
	MissingName MissingNamePolicy
	Truncated   TruncatedNamePolicy
	// Availability overrides the Availability selector when set.
	Availability        func(entry *goquery.Selection) string
	DefaultAvailability string
}

// Shop is a crawlable catalog.
type Shop struct {
	Name      string
	StartURL  string
	Selectors ShopSelectorSet
	Hooks     ShopHooks
}

func isTruncated(name string) bool {
	return strings.Contains(name, "...") || strings.Contains(name, "…")
}
