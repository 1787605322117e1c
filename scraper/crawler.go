package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/aragog/config"
	"github.com/aluiziolira/aragog/models"
	"github.com/aluiziolira/aragog/parser"
	"github.com/aluiziolira/aragog/publisher"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aluiziolira/aragog/scraper"

// Publisher delivers one offer with its trace carrier.
type Publisher interface {
	Publish(ctx context.Context, offer models.Offer, carrier map[string]string) publisher.Result
}

// Injector serializes the current span context into a carrier.
type Injector interface {
	Inject(ctx context.Context) map[string]string
}

// Crawler walks one shop's catalog, extracts offers and publishes them.
// A Crawler may be reused; every Crawl call owns its own fetcher and cursor.
type Crawler struct {
	shop       Shop
	cfg        config.CrawlConfig
	publisher  Publisher
	injector   Injector
	tracer     trace.Tracer
	normalizer *parser.NameNormalizer
	logger     *slog.Logger
	metrics    *Metrics
	fetchOpts  []FetcherOption
}

// CrawlerOption customizes a Crawler.
type CrawlerOption func(*Crawler)

// WithLogger sets the base logger; the shop name is added to it.
func WithLogger(logger *slog.Logger) CrawlerOption {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records crawl metrics in m.
func WithMetrics(m *Metrics) CrawlerOption {
	return func(c *Crawler) {
		c.metrics = m
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) CrawlerOption {
	return func(c *Crawler) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithNormalizer replaces the default name normalizer.
func WithNormalizer(n *parser.NameNormalizer) CrawlerOption {
	return func(c *Crawler) {
		if n != nil {
			c.normalizer = n
		}
	}
}

// WithFetcherOptions forwards options to every Fetcher the crawler builds.
func WithFetcherOptions(opts ...FetcherOption) CrawlerOption {
	return func(c *Crawler) {
		c.fetchOpts = append(c.fetchOpts, opts...)
	}
}

// NewCrawler assembles a crawler for shop.
func NewCrawler(shop Shop, cfg config.CrawlConfig, pub Publisher, injector Injector, opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		shop:       shop,
		cfg:        cfg,
		publisher:  pub,
		injector:   injector,
		tracer:     otel.Tracer(tracerName),
		normalizer: parser.NewNameNormalizer(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Shop returns the shop this crawler serves.
func (c *Crawler) Shop() Shop {
	return c.shop
}

type pendingOffer struct {
	offer models.Offer
	ctx   context.Context
	span  trace.Span
}

// Crawl fetches pages from startURL until the page budget derived from
// itemLimit is spent or no next page exists. Offers published before an
// abort stay published. The result is returned even on error.
func (c *Crawler) Crawl(ctx context.Context, startURL string, itemLimit int) (*models.CrawlResult, error) {
	id := uuid.NewString()
	logger := c.logger.With(slog.String("shop", c.shop.Name), slog.String("crawl_id", id))
	result := models.NewCrawlResult(id, c.shop.Name, startURL)

	ctx, span := c.tracer.Start(ctx, "crawl", trace.WithAttributes(
		attribute.String("shop", c.shop.Name),
		attribute.String("crawl_id", id),
	))
	defer span.End()

	fetcher := NewFetcher(c.shop.Name, c.cfg, logger, c.metrics, c.fetchOpts...)

	defer func() {
		result.EndTime = time.Now()
		result.RetryCount = fetcher.Retries()
		c.metrics.IncCrawl(c.shop.Name, result.State.String())
		span.SetAttributes(
			attribute.String("state", result.State.String()),
			attribute.Int("pages", result.PageCount),
			attribute.Int("published", result.PublishedCount),
		)
	}()

	transition := func(to models.CrawlState) {
		logger.Debug("crawl transition",
			slog.String("from", result.State.String()),
			slog.String("to", to.String()),
		)
		result.State = to
	}

	abort := func(err error) (*models.CrawlResult, error) {
		var crawlErr *CrawlError
		if !errors.As(err, &crawlErr) {
			err = &CrawlError{Shop: c.shop.Name, URL: startURL, Err: err}
		}
		transition(models.StateAborted)
		span.RecordError(err)
		span.SetStatus(codes.Error, "crawl aborted")
		logger.Error("crawl aborted",
			slog.Int("pages", result.PageCount),
			slog.Int("published", result.PublishedCount),
			slog.Any("error", err),
		)
		return result, err
	}

	var detail *DetailResolver
	if c.shop.Hooks.Truncated == TruncatedResolve {
		var err error
		detail, err = NewDetailResolver(c.shop.Name, fetcher, c.shop.Selectors.DetailName, c.cfg.DetailDelay, c.cfg.DetailCacheSize, logger, c.metrics)
		if err != nil {
			return abort(err)
		}
	}
	extractor := NewExtractor(c.shop, c.normalizer, detail, logger)

	cursor := &models.CrawlCursor{
		CurrentURL: startURL,
		PageLimit:  PageBudget(itemLimit, c.shop.Selectors.PageSize),
	}
	logger.Info("crawl started",
		slog.String("url", startURL),
		slog.Int("limit", itemLimit),
		slog.Int("page_limit", cursor.PageLimit),
	)

	for {
		transition(models.StateFetchingPage)
		body, err := fetcher.Get(ctx, cursor)
		if err != nil {
			return abort(err)
		}
		cursor.PagesFetched++
		result.PageCount++
		c.metrics.IncPages(c.shop.Name)

		pageURL, err := url.Parse(cursor.CurrentURL)
		if err != nil {
			return abort(&CrawlError{Shop: c.shop.Name, URL: cursor.CurrentURL, Err: fmt.Errorf("parse page url: %w", err)})
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return abort(&CrawlError{Shop: c.shop.Name, URL: cursor.CurrentURL, Err: fmt.Errorf("parse page: %w", err)})
		}

		transition(models.StateExtractingEntries)
		pending := c.extractPage(ctx, doc, pageURL, extractor, result)

		transition(models.StatePublishing)
		if err := c.publishPage(ctx, pending, result, logger); err != nil {
			return abort(&CrawlError{
				Shop: c.shop.Name,
				URL:  cursor.CurrentURL,
				Err:  fmt.Errorf("%w: %w", ErrCrawlCancelled, err),
			})
		}

		if cursor.PagesFetched >= cursor.PageLimit {
			logger.Debug("page budget reached", slog.Int("pages", cursor.PagesFetched))
			break
		}
		next, ok := NextPage(doc, c.shop.Selectors, pageURL)
		if !ok {
			logger.Debug("no next page", slog.String("url", cursor.CurrentURL))
			break
		}
		if err := ctx.Err(); err != nil {
			return abort(&CrawlError{
				Shop: c.shop.Name,
				URL:  next,
				Err:  fmt.Errorf("%w: %w", ErrCrawlCancelled, err),
			})
		}

		transition(models.StateNextPage)
		cursor.CurrentURL = next
	}

	transition(models.StateDone)
	logger.Info("crawl finished",
		slog.Int("pages", result.PageCount),
		slog.Int("entries", result.EntryCount),
		slog.Int("extracted", result.ExtractedCount),
		slog.Int("filtered", result.FilteredCount),
		slog.Int("dropped", result.DroppedCount),
		slog.Int("published", result.PublishedCount),
	)
	return result, nil
}

// extractPage runs every entry through the extractor. Spans of extracted
// entries stay open until their offer is published.
func (c *Crawler) extractPage(ctx context.Context, doc *goquery.Document, pageURL *url.URL, extractor *Extractor, result *models.CrawlResult) []pendingOffer {
	var pending []pendingOffer

	doc.Find(c.shop.Selectors.Entry).Each(func(_ int, entry *goquery.Selection) {
		result.EntryCount++
		entryCtx, span := c.tracer.Start(ctx, "process entry", trace.WithAttributes(
			attribute.String("shop", c.shop.Name),
		))

		extraction := extractor.Extract(entryCtx, entry, pageURL)
		span.SetAttributes(attribute.String("error_detail", extraction.Detail()))

		switch extraction.Kind {
		case Extracted:
			result.ExtractedCount++
			c.metrics.IncExtracted(c.shop.Name)
			pending = append(pending, pendingOffer{offer: extraction.Offer, ctx: entryCtx, span: span})
			return
		case Filtered:
			result.FilteredCount++
			c.metrics.IncDropped(c.shop.Name, extraction.Reason)
		case Missing:
			result.DroppedCount++
			result.DroppedByField[extraction.Field]++
			c.metrics.IncDropped(c.shop.Name, "missing_"+extraction.Field)
		}
		span.End()
	})

	return pending
}

// publishPage delivers pending offers in page order. Publish outcomes never
// fail the crawl; only cancellation stops it.
func (c *Crawler) publishPage(ctx context.Context, pending []pendingOffer, result *models.CrawlResult, logger *slog.Logger) error {
	for i, p := range pending {
		if err := ctx.Err(); err != nil {
			for _, rest := range pending[i:] {
				rest.span.SetAttributes(attribute.String("error_detail", "cancelled"))
				rest.span.End()
			}
			return err
		}

		pubCtx, pubSpan := c.tracer.Start(p.ctx, "publish offer")
		var carrier map[string]string
		if c.injector != nil {
			carrier = c.injector.Inject(pubCtx)
		}

		res := c.publisher.Publish(pubCtx, p.offer, carrier)
		result.PublishedCount++
		result.PublishOutcomes[res.Outcome.String()]++
		c.metrics.IncPublish(c.shop.Name, res.Outcome.String())

		switch res.Outcome {
		case publisher.Timeout:
			p.span.SetAttributes(attribute.String("error_detail", "HttpTimeout"))
		case publisher.Failure:
			if res.Err != nil {
				pubSpan.RecordError(res.Err)
			}
			pubSpan.SetStatus(codes.Error, "publish failed")
		}
		logger.Debug("offer published",
			slog.String("name", p.offer.Name),
			slog.String("outcome", res.Outcome.String()),
			slog.Int("status", res.StatusCode),
		)

		pubSpan.End()
		p.span.End()
	}
	return nil
}
