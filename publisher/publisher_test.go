package publisher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/aragog/models"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const collectorURL = "http://collector.test/offers"

var testOffer = models.Offer{
	Name:         "Catan",
	URL:          "https://shop.test/catan",
	NormalPrice:  29.99,
	OfferPrice:   19.99,
	Availability: "En stock",
	ShopName:     "DungeonMarvels",
}

func newTestPublisher(t *testing.T, transport *httpmock.MockTransport, opts ...Option) *HTTPPublisher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithTransport(transport), WithLogger(logger)}, opts...)
	return NewHTTPPublisher(Endpoint{ServerAddress: "http://collector.test", PostEndpoint: "offers"}, 5*time.Second, opts...)
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		endpoint Endpoint
		expected string
	}{
		{endpoint: Endpoint{ServerAddress: "http://backend:8000", PostEndpoint: "offers"}, expected: "http://backend:8000/offers"},
		{endpoint: Endpoint{ServerAddress: "http://backend:8000/", PostEndpoint: "/offers"}, expected: "http://backend:8000/offers"},
		{endpoint: Endpoint{ServerAddress: "http://backend:8000/api", PostEndpoint: "v1/offer"}, expected: "http://backend:8000/api/v1/offer"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.endpoint.URL())
	}
}

func TestPublishClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected Outcome
	}{
		{status: http.StatusOK, expected: Success},
		{status: 515, expected: Ambiguous},
		{status: http.StatusRequestTimeout, expected: Timeout},
		{status: http.StatusInternalServerError, expected: Failure},
		{status: http.StatusNotFound, expected: Failure},
		{status: http.StatusCreated, expected: Failure},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodPost, collectorURL, httpmock.NewStringResponder(tt.status, ""))

			p := newTestPublisher(t, transport)
			result := p.Publish(context.Background(), testOffer, map[string]string{})

			assert.Equal(t, tt.expected, result.Outcome)
			assert.Equal(t, tt.status, result.StatusCode)
			assert.NoError(t, result.Err)
			assert.Equal(t, 1, transport.GetTotalCallCount(), "publish must not retry")
		})
	}
}

func TestPublishTransportError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, collectorURL, httpmock.NewErrorResponder(fmt.Errorf("connection reset")))

	p := newTestPublisher(t, transport)
	result := p.Publish(context.Background(), testOffer, nil)

	assert.Equal(t, Failure, result.Outcome)
	assert.Error(t, result.Err)
	assert.Zero(t, result.StatusCode)
}

func TestPublishMessageShape(t *testing.T) {
	transport := httpmock.NewMockTransport()

	var received Message
	var contentType string
	transport.RegisterResponder(http.MethodPost, collectorURL, func(req *http.Request) (*http.Response, error) {
		contentType = req.Header.Get("Content-Type")
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})

	carrier := map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	p := newTestPublisher(t, transport)
	result := p.Publish(context.Background(), testOffer, carrier)

	require.Equal(t, Success, result.Outcome)
	assert.Contains(t, contentType, "application/json")
	assert.Equal(t, carrier, received.TraceContext)
	assert.Equal(t, testOffer, received.Body)
}

func TestPublishWireKeys(t *testing.T) {
	raw, err := json.Marshal(NewMessage(map[string]string{"traceparent": "x"}, testOffer))
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "trace_context")
	assert.Contains(t, decoded, "body")

	var body map[string]any
	require.NoError(t, json.Unmarshal(decoded["body"], &body))
	for _, key := range []string{"name", "url", "normal_price", "offer_price", "availability", "shop_name"} {
		assert.Contains(t, body, key)
	}
}

func TestNewMessageCopiesCarrier(t *testing.T) {
	carrier := map[string]string{"traceparent": "a"}
	msg := NewMessage(carrier, testOffer)
	carrier["traceparent"] = "b"
	assert.Equal(t, "a", msg.TraceContext["traceparent"])
}

func TestPublishTimeoutRecordsSpanAttribute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, collectorURL, httpmock.NewStringResponder(http.StatusRequestTimeout, ""))

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish offer")
	result := newTestPublisher(t, transport).Publish(ctx, testOffer, nil)
	span.End()

	require.Equal(t, Timeout, result.Outcome)
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Contains(t, ended[0].Attributes(), attribute.String("error_detail", "HttpTimeout"))
}

func TestCustomStatusSets(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "http://collector.test/ambiguous", httpmock.NewStringResponder(599, ""))
	transport.RegisterResponder(http.MethodPost, "http://collector.test/legacy", httpmock.NewStringResponder(515, ""))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := func(endpoint string) *HTTPPublisher {
		return NewHTTPPublisher(
			Endpoint{ServerAddress: "http://collector.test", PostEndpoint: endpoint},
			time.Second,
			WithTransport(transport),
			WithLogger(logger),
			WithAmbiguousStatuses(599),
			WithTimeoutStatuses(504),
		)
	}

	assert.Equal(t, Ambiguous, build("ambiguous").Publish(context.Background(), testOffer, nil).Outcome)
	assert.Equal(t, Failure, build("legacy").Publish(context.Background(), testOffer, nil).Outcome)
}

func TestJSONLinesSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "offers.jsonl")

	sink, err := NewJSONLinesSink(path)
	require.NoError(t, err)

	second := testOffer
	second.Name = "Carcassonne"
	assert.Equal(t, Success, sink.Publish(context.Background(), testOffer, map[string]string{"traceparent": "a"}).Outcome)
	assert.Equal(t, Success, sink.Publish(context.Background(), second, map[string]string{"traceparent": "b"}).Outcome)
	assert.Equal(t, 2, sink.Count())
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var msg Message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
		names = append(names, msg.Body.Name)
		assert.NotEmpty(t, msg.TraceContext["traceparent"])
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"Catan", "Carcassonne"}, names)
}
