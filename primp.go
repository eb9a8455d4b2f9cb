// Package primp is an HTTP client that impersonates real browsers on the
// wire: TLS fingerprint, HTTP/2 settings, header order and casing all match
// the chosen browser profile. Cookies persist across requests in an
// insertion-ordered jar and header order is preserved end to end.
package primp

import (
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/neverl805/never-primp/transport"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client) error

// WithImpersonate selects the browser profile the client fingerprints as.
func WithImpersonate(profile string) ClientOption {
	return func(c *Client) error {
		return c.config.SetImpersonate(profile)
	}
}

// WithImpersonateOS selects the operating system variant of the profile.
func WithImpersonateOS(os string) ClientOption {
	return func(c *Client) error {
		return c.config.SetImpersonateOS(os)
	}
}

// WithProxy routes all requests through the given proxy URL. Supported
// schemes: http, https, socks5, socks5h.
func WithProxy(proxy string) ClientOption {
	return func(c *Client) error {
		return c.config.SetProxy(proxy)
	}
}

// WithHeaders sets the client's default headers.
func WithHeaders(headers []Header) ClientOption {
	return func(c *Client) error {
		c.config.SetHeaders(headers)
		return nil
	}
}

// WithOrderedHeaders sets the default headers and makes their order
// authoritative on the wire.
func WithOrderedHeaders(headers []Header) ClientOption {
	return func(c *Client) error {
		c.config.SetOrderedHeaders(headers)
		return nil
	}
}

// WithCookies seeds the jar with name=value pairs scoped to the given
// domain.
func WithCookies(domain string, cookies map[string]string) ClientOption {
	return func(c *Client) error {
		for name, value := range cookies {
			c.jar.Set(domain, name, value)
		}
		return nil
	}
}

// WithCookieStore toggles automatic response cookie capture. Default on.
func WithCookieStore(enabled bool) ClientOption {
	return func(c *Client) error {
		c.config.SetCookieStore(enabled)
		c.jar.SetActive(enabled)
		return nil
	}
}

// WithSplitCookies toggles per-cookie header framing. Default on.
func WithSplitCookies(split bool) ClientOption {
	return func(c *Client) error {
		c.config.SetSplitCookies(split)
		return nil
	}
}

// WithVerify toggles TLS certificate verification. Default on.
func WithVerify(verify bool) ClientOption {
	return func(c *Client) error {
		c.config.SetVerify(verify)
		return nil
	}
}

// WithCABundle points verification at a custom PEM root bundle file.
func WithCABundle(path string) ClientOption {
	return func(c *Client) error {
		c.config.SetCABundle(path)
		return nil
	}
}

// WithTimeout bounds every request issued by the client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		return c.config.SetTimeout(d)
	}
}

// WithFollowRedirects toggles 3xx following. Default on.
func WithFollowRedirects(follow bool) ClientOption {
	return func(c *Client) error {
		c.config.SetFollowRedirects(follow)
		return nil
	}
}

// WithReferer toggles automatic Referer headers on followed redirects.
// Only the plain transport can suppress the header; the fingerprinting
// transport always attaches it, matching browser behavior.
func WithReferer(referer bool) ClientOption {
	return func(c *Client) error {
		c.config.mu.Lock()
		c.config.referer = referer
		c.config.mu.Unlock()
		return nil
	}
}

// WithAuth sets default basic-auth credentials.
func WithAuth(username, password string) ClientOption {
	return func(c *Client) error {
		c.config.SetAuth(&BasicAuth{Username: username, Password: password})
		return nil
	}
}

// WithBearer sets a default bearer token.
func WithBearer(token string) ClientOption {
	return func(c *Client) error {
		c.config.SetBearer(token)
		return nil
	}
}

// WithParams sets default query parameters appended to every request URL.
func WithParams(params map[string]string) ClientOption {
	return func(c *Client) error {
		c.config.SetParams(params)
		return nil
	}
}

// WithTransport pins a custom transport. The client will not rebuild it when
// transport-affecting settings change, and will not close it on Close.
func WithTransport(t transport.Transport) ClientOption {
	return func(c *Client) error {
		c.transport = t
		c.customTransport = true
		return nil
	}
}

// Client is a browser-impersonating HTTP client. Zero-value Clients are not
// usable; construct through NewClient. A Client is safe for concurrent use:
// each request snapshots the configuration at its start, and configuration
// changes apply to requests issued afterwards.
type Client struct {
	config *Config
	jar    *Jar

	// muTransport guards transport rebuilds, never round trips.
	muTransport     sync.Mutex
	transport       transport.Transport
	transportGen    uint64
	customTransport bool
	closed          bool
}

// NewClient creates a Client with the given options applied over the
// defaults: chrome fingerprint, certificate verification on, cookie store
// on, split cookies on, 30 second timeout.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		config: defaultConfig(),
		jar:    NewJar(true),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Config exposes the client's mutable configuration. Changes take effect on
// the next request.
func (c *Client) Config() *Config {
	return c.config
}

// Cookies returns the client's cookie jar.
func (c *Client) Cookies() *Jar {
	return c.jar
}

// SetProxy swaps the proxy for subsequent requests. In-flight requests keep
// the proxy they started with.
func (c *Client) SetProxy(proxy string) error {
	return c.config.SetProxy(proxy)
}

// SetImpersonate swaps the browser profile for subsequent requests.
func (c *Client) SetImpersonate(profile string) error {
	return c.config.SetImpersonate(profile)
}

// SetImpersonateOS swaps the impersonated OS for subsequent requests.
func (c *Client) SetImpersonateOS(os string) error {
	return c.config.SetImpersonateOS(os)
}

// SetHeaders replaces the client's default headers.
func (c *Client) SetHeaders(headers []Header) {
	c.config.SetHeaders(headers)
}

// UpdateHeaders merges headers into the defaults, keeping existing
// positions.
func (c *Client) UpdateHeaders(headers []Header) {
	c.config.UpdateHeaders(headers)
}

// SetOrderedHeaders replaces the defaults and makes their order
// authoritative.
func (c *Client) SetOrderedHeaders(headers []Header) {
	c.config.SetOrderedHeaders(headers)
}

// SetCookies seeds the jar with name=value pairs for a domain.
func (c *Client) SetCookies(domain string, cookies map[string]string) {
	for name, value := range cookies {
		c.jar.Set(domain, name, value)
	}
}

// Close releases the client's transport resources. The client must not be
// used afterwards.
func (c *Client) Close() {
	c.muTransport.Lock()
	defer c.muTransport.Unlock()
	c.closed = true
	if c.transport != nil && !c.customTransport {
		c.transport.Close()
	}
	c.transport = nil
}

// transportFor returns a transport matching the snapshot, rebuilding lazily
// when a transport-affecting setting changed since the last build.
func (c *Client) transportFor(snap configSnapshot) (transport.Transport, error) {
	c.muTransport.Lock()
	defer c.muTransport.Unlock()

	if c.closed {
		return nil, &ConfigError{Field: "client", Reason: "client is closed"}
	}
	if c.customTransport {
		return c.transport, nil
	}
	if c.transport != nil && c.transportGen == snap.generation {
		return c.transport, nil
	}

	t, err := transport.New(transport.Options{
		Profile:         snap.impersonate,
		OS:              snap.impersonateOS,
		Proxy:           snap.proxy,
		Verify:          snap.verify,
		CABundle:        snap.caBundle,
		Timeout:         snap.timeout,
		FollowRedirects: snap.followRedirects,
		MaxRedirects:    snap.maxRedirects,
		Referer:         snap.referer,
	})
	if err != nil {
		return nil, err
	}
	if c.transport != nil {
		c.transport.Close()
	}
	klog.V(2).Infof("transport rebuilt: profile=%s os=%s proxy=%v",
		snap.impersonate, snap.impersonateOS, snap.proxy != "")
	c.transport = t
	c.transportGen = snap.generation
	return t, nil
}
