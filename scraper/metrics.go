package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawlers. One instance is
// shared by every shop; series are split by the shop label.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	OffersExtracted   *prometheus.CounterVec
	EntriesDropped    *prometheus.CounterVec
	RetriesTotal      *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	PublishTotal      *prometheus.CounterVec
	PagesTotal        *prometheus.CounterVec
	CrawlsTotal       *prometheus.CounterVec
	DetailCacheHits   prometheus.Counter
	DetailCacheMisses prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "Total HTTP GET requests issued against shop sites.",
		},
		[]string{"shop", "kind"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_request_duration_seconds",
			Help:    "HTTP request latency for shop requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"shop"},
	)
	extracted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_offers_extracted_total",
			Help: "Offers extracted and normalized from catalog pages.",
		},
		[]string{"shop"},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_entries_dropped_total",
			Help: "Catalog entries that did not become offers, by reason.",
		},
		[]string{"shop", "reason"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total number of page fetch retries.",
		},
		[]string{"shop"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"shop", "error_type"},
	)
	publish := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_publish_total",
			Help: "Publish attempts by outcome.",
		},
		[]string{"shop", "outcome"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Catalog pages fetched successfully.",
		},
		[]string{"shop"},
	)
	crawls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_crawls_total",
			Help: "Finished crawls by terminal state.",
		},
		[]string{"shop", "state"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_detail_cache_hits_total",
			Help: "Truncated names resolved from the detail cache.",
		},
	)
	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_detail_cache_misses_total",
			Help: "Truncated names that required a detail fetch.",
		},
	)

	registry.MustRegister(requests, requestDuration, extracted, dropped, retries, errorsTotal, publish, pages, crawls, cacheHits, cacheMisses)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		OffersExtracted:   extracted,
		EntriesDropped:    dropped,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		PublishTotal:      publish,
		PagesTotal:        pages,
		CrawlsTotal:       crawls,
		DetailCacheHits:   cacheHits,
		DetailCacheMisses: cacheMisses,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(shop, kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(shop, kind).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(shop string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(shop).Observe(d.Seconds())
}

// IncExtracted increments the extracted offers counter.
func (m *Metrics) IncExtracted(shop string) {
	if m == nil {
		return
	}
	m.OffersExtracted.WithLabelValues(shop).Inc()
}

// IncDropped counts an entry that was filtered or missing a field.
func (m *Metrics) IncDropped(shop, reason string) {
	if m == nil {
		return
	}
	m.EntriesDropped.WithLabelValues(shop, reason).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(shop string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(shop).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(shop, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(shop, errorType).Inc()
}

// IncPublish counts one publish outcome.
func (m *Metrics) IncPublish(shop, outcome string) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(shop, outcome).Inc()
}

// IncPages counts a successfully fetched catalog page.
func (m *Metrics) IncPages(shop string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(shop).Inc()
}

// IncCrawl counts a finished crawl.
func (m *Metrics) IncCrawl(shop, state string) {
	if m == nil {
		return
	}
	m.CrawlsTotal.WithLabelValues(shop, state).Inc()
}

// IncDetailCache records whether a truncated name came from the cache.
func (m *Metrics) IncDetailCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.DetailCacheHits.Inc()
		return
	}
	m.DetailCacheMisses.Inc()
}
