package httpclient

import (
	"context"
	"net/http"
)

// Get fetches path and decodes the JSON response into T.
func Get[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	return call[T](ctx, c, http.MethodGet, path, nil, opts)
}

// Post sends body to path.
func Post[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	return call[T](ctx, c, http.MethodPost, path, body, opts)
}

// Put sends body to path.
func Put[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	return call[T](ctx, c, http.MethodPut, path, body, opts)
}

// Patch sends body to path.
func Patch[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	return call[T](ctx, c, http.MethodPatch, path, body, opts)
}

// Delete deletes path.
func Delete[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	return call[T](ctx, c, http.MethodDelete, path, nil, opts)
}

func call[T any](ctx context.Context, c *Client, method, path string, body any, opts []RequestOption) (T, error) {
	var out T
	if err := c.Do(ctx, method, path, body, &out, opts...); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
