package scraper

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/aluiziolira/aragog/models"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Internal Server Error"), statusCode: http.StatusInternalServerError, expected: "status"},
		{name: "partial content", err: errors.New("Partial Content"), statusCode: http.StatusPartialContent, expected: "status"},
		{name: "no content", err: nil, statusCode: http.StatusNoContent, expected: "status"},
		{name: "created", err: nil, statusCode: http.StatusCreated, expected: "status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetcherRetryExhaustion(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, shopBase+"/catalog", httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	f := NewFetcher("Test", testCrawlConfig(), discardLogger(), NewMetrics(), WithTransport(transport))
	cursor := &models.CrawlCursor{CurrentURL: shopBase + "/catalog"}

	body, err := f.Get(context.Background(), cursor)
	if err == nil {
		t.Fatalf("expected error, got body %q", body)
	}

	var crawlErr *CrawlError
	if !errors.As(err, &crawlErr) {
		t.Fatalf("expected *CrawlError, got %T", err)
	}
	if crawlErr.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", crawlErr.Attempts)
	}
	var status ErrStatus
	if !errors.As(err, &status) || status.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected ErrStatus 500 in chain, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 3 {
		t.Fatalf("requests = %d, want 3", got)
	}
	if f.Retries() != 2 {
		t.Fatalf("retries = %d, want 2", f.Retries())
	}
}

func TestFetcherSuccessResetsBudget(t *testing.T) {
	statuses := []int{500, 500, 200, 500, 500, 200}
	call := 0
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, shopBase+"/catalog", func(*http.Request) (*http.Response, error) {
		status := statuses[call%len(statuses)]
		call++
		return httpmock.NewStringResponse(status, "<html></html>"), nil
	})

	f := NewFetcher("Test", testCrawlConfig(), discardLogger(), nil, WithTransport(transport))
	cursor := &models.CrawlCursor{CurrentURL: shopBase + "/catalog"}

	for i := 0; i < 2; i++ {
		if _, err := f.Get(context.Background(), cursor); err != nil {
			t.Fatalf("get %d: unexpected error %v", i, err)
		}
		if cursor.ConsecutiveFailures != 0 {
			t.Fatalf("get %d: consecutive failures = %d, want reset to 0", i, cursor.ConsecutiveFailures)
		}
	}
	if call != 6 {
		t.Fatalf("requests = %d, want 6", call)
	}
	if f.Retries() != 4 {
		t.Fatalf("retries = %d, want 4", f.Retries())
	}
}

func TestFetcherRetriesTransportErrors(t *testing.T) {
	call := 0
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, shopBase+"/catalog", func(*http.Request) (*http.Response, error) {
		call++
		if call == 1 {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		}
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	f := NewFetcher("Test", testCrawlConfig(), discardLogger(), nil, WithTransport(transport))
	body, err := f.Get(context.Background(), &models.CrawlCursor{CurrentURL: shopBase + "/catalog"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("body = %q, want ok", body)
	}
}

func TestFetcherCancelledDuringBackoff(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, shopBase+"/catalog", httpmock.NewStringResponder(http.StatusBadGateway, ""))

	cfg := testCrawlConfig()
	cfg.RetryDelay = time.Hour
	f := NewFetcher("Test", cfg, discardLogger(), nil, WithTransport(transport))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Get(ctx, &models.CrawlCursor{CurrentURL: shopBase + "/catalog"})
	if !errors.Is(err, ErrCrawlCancelled) {
		t.Fatalf("expected ErrCrawlCancelled, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancellation did not interrupt the retry delay")
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
}

func TestFetchOnceDoesNotRetry(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, shopBase+"/detail", httpmock.NewStringResponder(http.StatusNotFound, ""))

	f := NewFetcher("Test", testCrawlConfig(), discardLogger(), nil, WithTransport(transport))
	_, err := f.FetchOnce(context.Background(), shopBase+"/detail")

	var notFound ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
}

func TestFetcherRejectsNonOKSuccessStatuses(t *testing.T) {
	statuses := []int{
		http.StatusCreated,
		http.StatusNonAuthoritativeInfo,
		http.StatusNoContent,
		http.StatusPartialContent,
	}

	for _, code := range statuses {
		t.Run(http.StatusText(code), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, shopBase+"/catalog", httpmock.NewStringResponder(code, "<html></html>"))

			metrics := NewMetrics()
			f := NewFetcher("Test", testCrawlConfig(), discardLogger(), metrics, WithTransport(transport))
			cursor := &models.CrawlCursor{CurrentURL: shopBase + "/catalog"}

			_, err := f.Get(context.Background(), cursor)
			var status ErrStatus
			if !errors.As(err, &status) || status.StatusCode != code {
				t.Fatalf("expected ErrStatus %d in chain, got %v", code, err)
			}
			if calls := transport.GetTotalCallCount(); calls != 3 {
				t.Errorf("calls = %d, want 3", calls)
			}
			if got := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("Test", "status")); got != 3 {
				t.Errorf("status errors = %v, want 3", got)
			}
		})
	}
}
