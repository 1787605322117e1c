package scraper

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aluiziolira/aragog/config"
	"github.com/jarcoal/httpmock"
)

const shopBase = "http://shop.test"

func testCrawlConfig() config.CrawlConfig {
	return config.CrawlConfig{
		Limit:           48,
		RequestTimeout:  5 * time.Second,
		MaxFailures:     3,
		RetryDelay:      time.Millisecond,
		DetailDelay:     0,
		DetailCacheSize: 16,
		UserAgent:       "aragog-test",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return httpmock.ResponderFromResponse(resp)
}

// dungeonEntry renders one DungeonMarvels catalog entry. Empty arguments
// leave the matching element out.
func dungeonEntry(name, href, regular, price, stock string) string {
	var b strings.Builder
	b.WriteString(`<div class="product-container">`)
	if href != "" {
		fmt.Fprintf(&b, `<div class="thumbnail-container"><a class="thumbnail" href="%s"><img src="/img.jpg"></a></div>`, href)
	}
	if name != "" {
		fmt.Fprintf(&b, `<h2 class="product-title"><a href="%s">%s</a></h2>`, href, name)
	}
	b.WriteString(`<div class="product-price-and-shipping">`)
	if regular != "" {
		fmt.Fprintf(&b, `<span class="regular-price">%s</span>`, regular)
	}
	if price != "" {
		fmt.Fprintf(&b, `<span class="price">%s</span>`, price)
	}
	b.WriteString(`</div>`)
	if stock != "" {
		fmt.Fprintf(&b, `<div class="stock-product"><span class="stock-tag">%s</span></div>`, stock)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func catalogPage(next string, entries ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="js-product-list">`)
	for _, e := range entries {
		b.WriteString(e)
	}
	b.WriteString(`</div><nav class="pagination">`)
	if next != "" {
		fmt.Fprintf(&b, `<a rel="next" class="next js-search-link" href="%s">Siguiente</a>`, next)
	}
	b.WriteString(`</nav></body></html>`)
	return b.String()
}
