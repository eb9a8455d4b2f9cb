package primp

import (
	"context"
	"net/http"
	"sync"

	"k8s.io/klog/v2"
)

// The process-wide default client, created on first use with the default
// configuration. It lives for the life of the process and is independent of
// any client built through NewClient.
var (
	defaultClientOnce sync.Once
	defaultClient     *Client
)

// DefaultClient returns the shared default client, creating it on first use.
func DefaultClient() *Client {
	defaultClientOnce.Do(func() {
		c, err := NewClient()
		if err != nil {
			// NewClient without options cannot fail; guard anyway.
			klog.Errorf("failed to create the default client: %v", err)
			c = &Client{config: defaultConfig(), jar: NewJar(true)}
		}
		defaultClient = c
	})
	return defaultClient
}

// Request issues a request through the default client.
func Request(ctx context.Context, method, url string, opts *RequestOptions) (*Response, error) {
	return DefaultClient().Do(ctx, method, url, opts)
}

// Get issues a GET through the default client.
func Get(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return Request(ctx, http.MethodGet, url, opts)
}

// Head issues a HEAD through the default client.
func Head(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return Request(ctx, http.MethodHead, url, opts)
}

// Options issues an OPTIONS through the default client.
func Options(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return Request(ctx, http.MethodOptions, url, opts)
}

// Delete issues a DELETE through the default client.
func Delete(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return Request(ctx, http.MethodDelete, url, opts)
}

// Post issues a POST through the default client.
func Post(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return Request(ctx, http.MethodPost, url, opts)
}

// Put issues a PUT through the default client.
func Put(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return Request(ctx, http.MethodPut, url, opts)
}

// Patch issues a PATCH through the default client.
func Patch(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return Request(ctx, http.MethodPatch, url, opts)
}
