// Package httpclient is a JSON HTTP client with per-attempt timeouts, bounded
// retry with linear backoff, a single credential refresh on 401 and
// classified failure notifications.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"classcast-backend/pkg/notify"
	"classcast-backend/pkg/observability"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Client issues JSON requests against one base URL.
type Client struct {
	cfg     Config
	doer    Doer
	tokens  *TokenManager
	sink    notify.Sink
	logger  *zap.Logger
	metrics *observability.Collector
	tracer  trace.Tracer
	sleep   func(ctx context.Context, d time.Duration) error
	breaker *gobreaker.CircuitBreaker
}

// New creates a client. A non-positive Timeout falls back to 30s.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	c := &Client{
		cfg:    cfg,
		doer:   http.DefaultClient,
		sink:   notify.Discard,
		logger: zap.NewNop(),
		tracer: observability.Tracer(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker != nil {
		c.doer = &breakerDoer{next: c.doer, cb: c.breaker}
	}
	return c
}

type response struct {
	status int
	body   []byte
}

// Do sends method path with body and decodes a JSON response into out.
// body may be nil, []byte, io.Reader, Multipart or any JSON-encodable value.
// out may be nil. An empty response body leaves out untouched.
//
// Failures are *APIError, *TimeoutError or *NetworkError, and each terminal
// failure is also reported to the notification sink.
func (c *Client) Do(ctx context.Context, method, path string, body any, out any, opts ...RequestOption) error {
	ro := requestOptions{auth: true, header: http.Header{}, query: url.Values{}}
	for _, opt := range opts {
		opt(&ro)
	}

	payload, contentType, err := encodeBody(body)
	if err != nil {
		return err
	}
	if ro.contentType != "" {
		contentType = ro.contentType
	}
	target := c.resolve(path, ro.query)

	ctx, span := c.tracer.Start(ctx, "httpclient."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", target),
		),
	)
	defer span.End()
	start := time.Now()
	defer func() { c.metrics.RecordClientCall(method, time.Since(start)) }()

	authenticated := ro.auth && c.tokens != nil
	refreshed := false
	retries := 0

	for {
		resp, err := c.attempt(ctx, method, target, payload, contentType, ro.header, authenticated)
		if err == nil && resp.status >= 200 && resp.status < 300 {
			span.SetAttributes(attribute.Int("http.status_code", resp.status))
			return decode(resp, out)
		}

		if err == nil && resp.status == http.StatusUnauthorized && authenticated && !refreshed {
			refreshed = true
			rerr := c.tokens.Refresh(ctx)
			if rerr == nil {
				c.logger.Debug("Replaying request after credential refresh",
					zap.String("method", method),
					zap.String("url", target),
				)
				continue
			}
			c.logger.Warn("Credential refresh failed", zap.Error(rerr))
		}

		if err == nil {
			err = newAPIError(resp.status, resp.body)
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return ctx.Err()
		}

		if !retryable(err) || retries >= c.cfg.MaxRetries {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.fail(ctx, method, target, err)
			return err
		}

		retries++
		c.metrics.RecordClientRetry()
		delay := c.cfg.RetryDelay * time.Duration(retries)
		c.logger.Warn("Retrying request",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("retry", retries),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, target string, payload []byte, contentType string, header http.Header, authenticated bool) (*response, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(actx, method, target, reader)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if authenticated {
		token, err := c.tokens.AccessToken(ctx)
		switch {
		case err == nil:
			req.Header.Set("Authorization", "Bearer "+token)
		case errors.Is(err, ErrNoToken):
		default:
			return nil, &APIError{Status: http.StatusUnauthorized, Code: "token_refresh_failed", Message: err.Error()}
		}
	}

	resp, err := c.send(actx, req)
	if err != nil {
		c.metrics.RecordClientAttempt(method, 0)
		return nil, c.transportError(ctx, actx, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordClientAttempt(method, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, actx, err)
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

type sendResult struct {
	resp *http.Response
	err  error
}

// send returns when the doer answers or actx is done, whichever comes first.
// A response that arrives after actx is done is drained and closed.
func (c *Client) send(actx context.Context, req *http.Request) (*http.Response, error) {
	done := make(chan sendResult, 1)
	go func() {
		resp, err := c.doer.Do(req)
		done <- sendResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-actx.Done():
		go func() {
			if r := <-done; r.resp != nil {
				_, _ = io.Copy(io.Discard, r.resp.Body)
				_ = r.resp.Body.Close()
			}
		}()
		return nil, actx.Err()
	}
}

func (c *Client) transportError(ctx, actx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.cfg.Timeout, Err: err}
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr
	}
	return &NetworkError{Err: err}
}

func (c *Client) resolve(path string, query url.Values) string {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return target
}

// retryable reports whether a failed attempt may be repeated: server errors,
// 429, 408, timeouts and network failures. An open breaker is not retried.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		s := apiErr.Status
		return s >= 500 || s == http.StatusTooManyRequests || s == http.StatusRequestTimeout
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var timeoutErr *TimeoutError
	var netErr *NetworkError
	return errors.As(err, &timeoutErr) || errors.As(err, &netErr)
}

// Classify maps a terminal failure to the notification the UI shows for it.
func Classify(err error) notify.Notification {
	var (
		apiErr     *APIError
		timeoutErr *TimeoutError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return notify.Notification{Type: notify.TypeWarning, Category: notify.CategoryTimeout, Title: "Request timed out", Message: "The server took too long to respond. Please try again."}
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status >= 500:
			return notify.Notification{Type: notify.TypeError, Category: notify.CategoryServerError, Title: "Server error", Message: "Something went wrong on our end. Please try again later."}
		case apiErr.Status == http.StatusUnauthorized:
			return notify.Notification{Type: notify.TypeWarning, Category: notify.CategorySessionExpired, Title: "Session expired", Message: "Your session has expired. Please sign in again."}
		case apiErr.Status == http.StatusTooManyRequests:
			return notify.Notification{Type: notify.TypeWarning, Category: notify.CategoryRateLimited, Title: "Rate limited", Message: "Too many requests. Please slow down."}
		default:
			return notify.Notification{Type: notify.TypeError, Category: notify.CategoryRequestError, Title: "Request failed", Message: apiErr.Message}
		}
	default:
		return notify.Notification{Type: notify.TypeError, Category: notify.CategoryNetworkError, Title: "Network error", Message: "Unable to reach the server. Check your connection."}
	}
}

func (c *Client) fail(ctx context.Context, method, target string, err error) {
	n := Classify(err)
	c.logger.Error("Request failed",
		zap.String("method", method),
		zap.String("url", target),
		zap.String("category", string(n.Category)),
		zap.Error(err),
	)
	c.sink.Notify(ctx, n)
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case Multipart:
		if b.Body == nil {
			return nil, b.ContentType, nil
		}
		data, err := io.ReadAll(b.Body)
		if err != nil {
			return nil, "", fmt.Errorf("read multipart body: %w", err)
		}
		return data, b.ContentType, nil
	case *Multipart:
		return encodeBody(*b)
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("read request body: %w", err)
		}
		return data, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return data, "application/json", nil
	}
}

func decode(resp *response, out any) error {
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &APIError{Status: resp.status, Code: "invalid_response", Message: err.Error()}
	}
	return nil
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
