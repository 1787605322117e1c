package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrDetailNameNotFound is returned when a detail page has no name element.
var ErrDetailNameNotFound = errors.New("detail name not found")

type pageFetcher interface {
	FetchOnce(ctx context.Context, url string) ([]byte, error)
}

// DetailResolver recovers full product names from detail pages. Each URL
// is fetched at most once per resolver; failures are not cached.
type DetailResolver struct {
	shop     string
	fetcher  pageFetcher
	selector string
	delay    time.Duration
	cache    *lru.Cache[string, string]
	logger   *slog.Logger
	metrics  *Metrics
}

// NewDetailResolver builds a resolver with an LRU of cacheSize entries.
func NewDetailResolver(shop string, fetcher pageFetcher, selector string, delay time.Duration, cacheSize int, logger *slog.Logger, metrics *Metrics) (*DetailResolver, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create detail cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DetailResolver{
		shop:     shop,
		fetcher:  fetcher,
		selector: selector,
		delay:    delay,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Resolve waits the configured delay, then fetches url once and reads the
// name element. It never retries.
func (d *DetailResolver) Resolve(ctx context.Context, url string) (string, error) {
	if name, ok := d.cache.Get(url); ok {
		d.metrics.IncDetailCache(true)
		return name, nil
	}
	d.metrics.IncDetailCache(false)

	if err := sleepContext(ctx, d.delay); err != nil {
		return "", err
	}

	body, err := d.fetcher.FetchOnce(ctx, url)
	if err != nil {
		return "", fmt.Errorf("fetch detail %s: %w", url, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse detail %s: %w", url, err)
	}

	name := strings.TrimSpace(doc.Find(d.selector).First().Text())
	if name == "" {
		return "", fmt.Errorf("%s: %w", url, ErrDetailNameNotFound)
	}

	d.cache.Add(url, name)
	d.logger.Info("resolved truncated name", slog.String("url", url), slog.String("name", name))
	return name, nil
}
