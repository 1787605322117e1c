// Package models defines data structures for the crawler.
package models

import "time"

// Offer is one normalized product listing ready to be published.
type Offer struct {
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	NormalPrice  float64 `json:"normal_price"`
	OfferPrice   float64 `json:"offer_price"`
	Availability string  `json:"availability"`
	ShopName     string  `json:"shop_name"`
}

// RawEntry holds the strings pulled out of one catalog fragment before
// parsing. An empty field means the site did not expose it.
type RawEntry struct {
	NameText         string
	LinkHref         string
	PriceText        string
	RegularPriceText string
	AvailabilityText string
}

// CrawlCursor tracks the position of a single crawl.
type CrawlCursor struct {
	CurrentURL          string
	PagesFetched        int
	PageLimit           int
	ConsecutiveFailures int
}

// CrawlState is the state of a crawl invocation.
type CrawlState int

const (
	StateIdle CrawlState = iota
	StateFetchingPage
	StateExtractingEntries
	StatePublishing
	StateNextPage
	StateDone
	StateAborted
)

func (s CrawlState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingPage:
		return "fetching_page"
	case StateExtractingEntries:
		return "extracting_entries"
	case StatePublishing:
		return "publishing"
	case StateNextPage:
		return "next_page"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s CrawlState) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// CrawlResult holds the overall result of one shop crawl. PublishedCount
// counts delivery attempts and PublishOutcomes splits them by response.
type CrawlResult struct {
	ID              string
	Shop            string
	StartURL        string
	State           CrawlState
	StartTime       time.Time
	EndTime         time.Time
	PageCount       int
	EntryCount      int
	ExtractedCount  int
	FilteredCount   int
	DroppedCount    int
	PublishedCount  int
	RetryCount      int
	PublishOutcomes map[string]int
	DroppedByField  map[string]int
}

// NewCrawlResult returns an empty result in the idle state.
func NewCrawlResult(id, shop, startURL string) *CrawlResult {
	return &CrawlResult{
		ID:              id,
		Shop:            shop,
		StartURL:        startURL,
		State:           StateIdle,
		StartTime:       time.Now(),
		PublishOutcomes: make(map[string]int),
		DroppedByField:  make(map[string]int),
	}
}
