package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"classcast-backend/pkg/notify"
	"classcast-backend/pkg/observability"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds the client settings.
type Config struct {
	BaseURL string
	// Timeout bounds every single attempt.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between retries.
	RetryDelay time.Duration
	// RefreshSkew refreshes the access token this long before it expires.
	RefreshSkew time.Duration
}

// DefaultConfig returns the standard settings for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		RefreshSkew: 5 * time.Second,
	}
}

// Doer sends a single HTTP request. *http.Client satisfies it. A Doer that
// ignores the request context still cannot hold a call past its timeout.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the transport.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithTokenManager authenticates requests with tm.
func WithTokenManager(tm *TokenManager) Option {
	return func(c *Client) { c.tokens = tm }
}

// WithNotifier reports terminal failures to sink.
func WithNotifier(sink notify.Sink) Option {
	return func(c *Client) { c.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records client metrics on collector.
func WithMetrics(collector *observability.Collector) Option {
	return func(c *Client) { c.metrics = collector }
}

// WithTracer sets the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithSleep replaces the wait between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// RequestOption adjusts a single call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	auth        bool
	header      http.Header
	contentType string
	query       url.Values
}

// WithoutAuth sends the request without credentials and disables refresh on 401.
func WithoutAuth() RequestOption {
	return func(o *requestOptions) { o.auth = false }
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

// WithContentType sets the Content-Type of a raw body.
func WithContentType(ct string) RequestOption {
	return func(o *requestOptions) { o.contentType = ct }
}

// WithQuery appends query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOptions) {
		for k, vs := range q {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// Multipart is a pre-encoded multipart body. ContentType carries the
// boundary, as returned by multipart.Writer.FormDataContentType.
type Multipart struct {
	Body        io.Reader
	ContentType string
}
