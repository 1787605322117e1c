// Package publisher delivers normalized offers to the backend collector.
package publisher

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aluiziolira/aragog/models"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome classifies a publish attempt.
type Outcome int

const (
	Success Outcome = iota
	Ambiguous
	Timeout
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Ambiguous:
		return "ambiguous"
	case Timeout:
		return "timeout"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Result reports one publish attempt. Publishing never fails a crawl, so
// the error travels inside the result.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Endpoint locates the collector.
type Endpoint struct {
	ServerAddress string
	PostEndpoint  string
}

// URL returns "{ServerAddress}/{PostEndpoint}".
func (e Endpoint) URL() string {
	return strings.TrimRight(e.ServerAddress, "/") + "/" + strings.TrimLeft(e.PostEndpoint, "/")
}

// Message is the wire format sent to the collector.
type Message struct {
	TraceContext map[string]string `json:"trace_context"`
	Body         models.Offer      `json:"body"`
}

// NewMessage pairs an offer with its own copy of the carrier.
func NewMessage(carrier map[string]string, offer models.Offer) Message {
	tc := make(map[string]string, len(carrier))
	for k, v := range carrier {
		tc[k] = v
	}
	return Message{TraceContext: tc, Body: offer}
}

// HTTPPublisher POSTs messages as JSON. It is safe for concurrent use.
type HTTPPublisher struct {
	client    *resty.Client
	endpoint  Endpoint
	ambiguous map[int]struct{}
	timeout   map[int]struct{}
	logger    *slog.Logger
}

// Option customizes an HTTPPublisher.
type Option func(*HTTPPublisher)

// WithTransport replaces the HTTP transport of the underlying client.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *HTTPPublisher) {
		p.client.SetTransport(rt)
	}
}

// WithAmbiguousStatuses sets the status codes reported as Ambiguous.
func WithAmbiguousStatuses(codes ...int) Option {
	return func(p *HTTPPublisher) {
		p.ambiguous = statusSet(codes)
	}
}

// WithTimeoutStatuses sets the status codes reported as Timeout.
func WithTimeoutStatuses(codes ...int) Option {
	return func(p *HTTPPublisher) {
		p.timeout = statusSet(codes)
	}
}

// WithLogger sets the logger used for outcome reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *HTTPPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewHTTPPublisher builds a publisher. 515 is ambiguous and 408 is a
// timeout unless overridden.
func NewHTTPPublisher(endpoint Endpoint, timeout time.Duration, opts ...Option) *HTTPPublisher {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	p := &HTTPPublisher{
		client:    client,
		endpoint:  endpoint,
		ambiguous: statusSet([]int{515}),
		timeout:   statusSet([]int{http.StatusRequestTimeout}),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Client exposes the resty client, mainly for transport mocking.
func (p *HTTPPublisher) Client() *resty.Client {
	return p.client
}

// Publish sends offer once and classifies the response. It never retries.
func (p *HTTPPublisher) Publish(ctx context.Context, offer models.Offer, carrier map[string]string) Result {
	span := trace.SpanFromContext(ctx)

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(NewMessage(carrier, offer)).
		Post(p.endpoint.URL())
	if err != nil {
		p.logger.Error("publish failed",
			slog.String("shop", offer.ShopName),
			slog.String("name", offer.Name),
			slog.Any("error", err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return Result{Outcome: Failure, Err: err}
	}

	status := resp.StatusCode()
	span.SetAttributes(attribute.Int("http.status_code", status))

	switch {
	case status == http.StatusOK:
		p.logger.Info("offer registered",
			slog.String("shop", offer.ShopName),
			slog.String("name", offer.Name),
		)
		return Result{Outcome: Success, StatusCode: status}
	case p.isAmbiguous(status):
		p.logger.Warn("unable to match offer",
			slog.Int("status", status),
			slog.Any("offer", offer),
		)
		return Result{Outcome: Ambiguous, StatusCode: status}
	case p.isTimeout(status):
		p.logger.Error("offer registration timed out",
			slog.Int("status", status),
			slog.Any("offer", offer),
		)
		span.SetAttributes(attribute.String("error_detail", "HttpTimeout"))
		return Result{Outcome: Timeout, StatusCode: status}
	default:
		p.logger.Error("failed to register offer",
			slog.Int("status", status),
			slog.Any("offer", offer),
			slog.String("response", resp.String()),
		)
		span.SetStatus(codes.Error, http.StatusText(status))
		return Result{Outcome: Failure, StatusCode: status}
	}
}

func (p *HTTPPublisher) isAmbiguous(status int) bool {
	_, ok := p.ambiguous[status]
	return ok
}

func (p *HTTPPublisher) isTimeout(status int) bool {
	_, ok := p.timeout[status]
	return ok
}

func statusSet(codes []int) map[int]struct{} {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}
