package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aluiziolira/aragog/config"
	"github.com/aluiziolira/aragog/models"
	"github.com/gocolly/colly/v2"
)

const (
	bodyKey   = "body"
	statusKey = "status"
)

// Fetcher issues catalog GETs for a single crawl and retries the same URL
// after a fixed delay until the failure budget runs out.
type Fetcher struct {
	shop      string
	cfg       config.CrawlConfig
	collector *colly.Collector
	logger    *slog.Logger
	metrics   *Metrics

	retries int
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransport replaces the HTTP transport used by the collector.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) {
		f.collector.WithTransport(rt)
	}
}

// NewFetcher builds a synchronous collector configured from cfg.
func NewFetcher(shop string, cfg config.CrawlConfig, logger *slog.Logger, metrics *Metrics, opts ...FetcherOption) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.RequestTimeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(bodyKey, r.Body)
		r.Ctx.Put(statusKey, r.StatusCode)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil && r.Ctx != nil {
			r.Ctx.Put(statusKey, r.StatusCode)
		}
	})

	f := &Fetcher{
		shop:      shop,
		cfg:       cfg,
		collector: collector,
		logger:    logger,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Retries reports how many retries this fetcher has scheduled.
func (f *Fetcher) Retries() int {
	return f.retries
}

// Get fetches cursor.CurrentURL. Failures increment
// cursor.ConsecutiveFailures and are retried after the configured delay;
// reaching the budget returns a *CrawlError. A success resets the counter.
func (f *Fetcher) Get(ctx context.Context, cursor *models.CrawlCursor) ([]byte, error) {
	maxFailures := f.cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, f.cancelled(cursor, err)
		}

		body, err := f.fetch(ctx, cursor.CurrentURL, "page")
		if err == nil {
			cursor.ConsecutiveFailures = 0
			return body, nil
		}

		cursor.ConsecutiveFailures++
		category := errorTypeLabel(err)
		f.metrics.IncError(f.shop, category)

		if cursor.ConsecutiveFailures >= maxFailures {
			f.logger.Error("retry budget exhausted",
				slog.String("url", cursor.CurrentURL),
				slog.String("category", category),
				slog.Int("attempts", cursor.ConsecutiveFailures),
				slog.Any("error", err),
			)
			return nil, &CrawlError{
				Shop:     f.shop,
				URL:      cursor.CurrentURL,
				Attempts: cursor.ConsecutiveFailures,
				Err:      err,
			}
		}

		f.logger.Warn("page fetch failed, retrying",
			slog.String("url", cursor.CurrentURL),
			slog.String("category", category),
			slog.Int("attempt", cursor.ConsecutiveFailures),
			slog.Duration("delay", f.cfg.RetryDelay),
			slog.Any("error", err),
		)
		f.retries++
		f.metrics.IncRetries(f.shop)

		if err := sleepContext(ctx, f.cfg.RetryDelay); err != nil {
			return nil, f.cancelled(cursor, err)
		}
	}
}

// FetchOnce performs a single attempt without touching any retry budget.
func (f *Fetcher) FetchOnce(ctx context.Context, url string) ([]byte, error) {
	return f.fetch(ctx, url, "detail")
}

func (f *Fetcher) fetch(ctx context.Context, url, kind string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqCtx := colly.NewContext()
	f.metrics.IncRequest(f.shop, kind)
	start := time.Now()
	err := f.collector.Request(http.MethodGet, url, nil, reqCtx, nil)
	f.metrics.ObserveDuration(f.shop, time.Since(start))

	status, _ := reqCtx.GetAny(statusKey).(int)
	if err != nil {
		return nil, classifyError(err, status)
	}
	// colly accepts 201 and 202; only 200 carries a catalog page.
	if status != 0 && status != http.StatusOK {
		return nil, classifyError(nil, status)
	}

	body, _ := reqCtx.GetAny(bodyKey).([]byte)
	f.logger.Debug("fetched",
		slog.String("url", url),
		slog.String("kind", kind),
		slog.Int("bytes", len(body)),
	)
	return body, nil
}

func (f *Fetcher) cancelled(cursor *models.CrawlCursor, cause error) error {
	return &CrawlError{
		Shop:     f.shop,
		URL:      cursor.CurrentURL,
		Attempts: cursor.ConsecutiveFailures,
		Err:      fmt.Errorf("%w: %w", ErrCrawlCancelled, cause),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
		if statusCode != http.StatusOK {
			return ErrStatus{StatusCode: statusCode, Err: wrapped}
		}
	}

	return err
}
