package primp

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/neverl805/never-primp/transport"
)

// BasicAuth carries credentials for HTTP basic authentication. Password may
// be empty.
type BasicAuth struct {
	Username string
	Password string
}

// Config is the mutable bag of cross-request settings owned by a Client.
// Every field is independently mutable post-construction; a change takes
// effect on the next request issued, never retroactively. Each request takes
// a consistent snapshot at the moment it begins building its wire form.
type Config struct {
	mu sync.Mutex

	proxy           string
	impersonate     string
	impersonateOS   string
	verify          bool
	caBundle        string
	cookieStore     bool
	splitCookies    bool
	referer         bool
	followRedirects bool
	maxRedirects    int
	timeout         time.Duration

	headers *HeaderSet

	params map[string]string
	auth   *BasicAuth
	bearer string

	// generation counts transport-affecting changes so the client knows when
	// to rebuild its transport.
	generation uint64
}

func defaultConfig() *Config {
	return &Config{
		verify:          true,
		cookieStore:     true,
		splitCookies:    true,
		referer:         true,
		followRedirects: true,
		maxRedirects:    20,
		timeout:         30 * time.Second,
		headers:         NewHeaderSet(),
	}
}

// configSnapshot is the immutable view of a Config taken at the start of a
// request.
type configSnapshot struct {
	proxy           string
	impersonate     string
	impersonateOS   string
	verify          bool
	caBundle        string
	cookieStore     bool
	splitCookies    bool
	referer         bool
	followRedirects bool
	maxRedirects    int
	timeout         time.Duration
	headers         []Header
	params          map[string]string
	auth            *BasicAuth
	bearer          string
	generation      uint64
}

func (c *Config) snapshot() configSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	params := make(map[string]string, len(c.params))
	for k, v := range c.params {
		params[k] = v
	}
	var auth *BasicAuth
	if c.auth != nil {
		cp := *c.auth
		auth = &cp
	}
	return configSnapshot{
		proxy:           c.proxy,
		impersonate:     c.impersonate,
		impersonateOS:   c.impersonateOS,
		verify:          c.verify,
		caBundle:        c.caBundle,
		cookieStore:     c.cookieStore,
		splitCookies:    c.splitCookies,
		referer:         c.referer,
		followRedirects: c.followRedirects,
		maxRedirects:    c.maxRedirects,
		timeout:         c.timeout,
		headers:         c.headers.Snapshot(),
		params:          params,
		auth:            auth,
		bearer:          c.bearer,
		generation:      c.generation,
	}
}

func validateProxy(proxy string) error {
	u, err := url.Parse(proxy)
	if err != nil {
		return &ConfigError{Field: "proxy", Value: proxy, Reason: err.Error()}
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return &ConfigError{Field: "proxy", Value: proxy, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return &ConfigError{Field: "proxy", Value: proxy, Reason: "missing host"}
	}
	return nil
}

// SetProxy sets the proxy URL for subsequent requests. An empty string
// removes the proxy.
func (c *Config) SetProxy(proxy string) error {
	if proxy != "" {
		if err := validateProxy(proxy); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxy = proxy
	c.generation++
	return nil
}

// Proxy returns the configured proxy URL, or empty if none.
func (c *Config) Proxy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy
}

// SetImpersonate selects the browser impersonation profile.
func (c *Config) SetImpersonate(profile string) error {
	if profile != "" && !transport.KnownProfile(profile) {
		return &ConfigError{
			Field:  "impersonate",
			Value:  profile,
			Reason: "unknown profile; known: " + strings.Join(transport.ProfileNames(), ", "),
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.impersonate = profile
	c.generation++
	return nil
}

// Impersonate returns the impersonation profile name, or empty if unset.
func (c *Config) Impersonate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.impersonate
}

// SetImpersonateOS selects the impersonated operating system variant.
func (c *Config) SetImpersonateOS(os string) error {
	if os != "" && !transport.KnownOS(os) {
		return &ConfigError{
			Field:  "impersonate_os",
			Value:  os,
			Reason: "unknown OS; known: " + strings.Join(transport.OSNames(), ", "),
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.impersonateOS = os
	c.generation++
	return nil
}

// ImpersonateOS returns the impersonated OS name, or empty if unset.
func (c *Config) ImpersonateOS() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.impersonateOS
}

// SetVerify toggles TLS certificate verification. Default on.
func (c *Config) SetVerify(verify bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verify = verify
	c.generation++
}

// Verify reports whether certificate verification is enabled.
func (c *Config) Verify() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verify
}

// SetCABundle points verification at a custom PEM root bundle.
func (c *Config) SetCABundle(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caBundle = path
	c.generation++
}

// SetCookieStore toggles the automatic cookie jar. Default on.
func (c *Config) SetCookieStore(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookieStore = enabled
}

// CookieStore reports whether the automatic cookie jar is enabled.
func (c *Config) CookieStore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookieStore
}

// SetSplitCookies controls cookie header framing: when true each cookie is
// sent as its own `cookie` header occurrence (HTTP/2 style); when false all
// cookies join into a single `Cookie: a=1; b=2` header (HTTP/1.1 style).
// Default true, matching browsers on HTTP/2 transports.
func (c *Config) SetSplitCookies(split bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.splitCookies = split
}

// SplitCookies reports the cookie framing mode.
func (c *Config) SplitCookies() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.splitCookies
}

// SetTimeout bounds each request. Non-positive values are rejected.
func (c *Config) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return &ConfigError{Field: "timeout", Value: d.String(), Reason: "must be positive"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
	c.generation++
	return nil
}

// Timeout returns the per-request deadline.
func (c *Config) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// SetFollowRedirects toggles 3xx following. Default on.
func (c *Config) SetFollowRedirects(follow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.followRedirects = follow
	c.generation++
}

// SetMaxRedirects caps the redirect chain. Non-positive values are rejected;
// use SetFollowRedirects(false) to disable redirects entirely.
func (c *Config) SetMaxRedirects(max int) error {
	if max <= 0 {
		return &ConfigError{Field: "max_redirects", Value: fmt.Sprintf("%d", max), Reason: "must be positive"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxRedirects = max
	c.generation++
	return nil
}

// MaxRedirects returns the redirect cap.
func (c *Config) MaxRedirects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxRedirects
}

// Headers returns the live default header set. Mutations through the
// returned set apply to subsequent requests.
func (c *Config) Headers() *HeaderSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers
}

// SetHeaders replaces the default headers wholesale, in the given order.
func (c *Config) SetHeaders(headers []Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Replace(headers)
}

// UpdateHeaders merges headers into the defaults, preserving the positions
// of names already present.
func (c *Config) UpdateHeaders(headers []Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Merge(headers)
}

// SetOrderedHeaders replaces the default headers. Order is always pushed
// down to the wire, so this is SetHeaders under a name that states the
// guarantee callers rely on.
func (c *Config) SetOrderedHeaders(headers []Header) {
	c.SetHeaders(headers)
}

// SetAuth sets default basic-auth credentials; nil clears them.
func (c *Config) SetAuth(auth *BasicAuth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if auth == nil {
		c.auth = nil
		return
	}
	cp := *auth
	c.auth = &cp
}

// SetBearer sets a default bearer token; empty clears it.
func (c *Config) SetBearer(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearer = token
}

// SetParams sets default query parameters appended to every request URL.
func (c *Config) SetParams(params map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = make(map[string]string, len(params))
	for k, v := range params {
		c.params[k] = v
	}
}
