package primp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	fhttp "github.com/bogdanfinn/fhttp"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"k8s.io/klog/v2"

	"github.com/neverl805/never-primp/instrumentation"
	"github.com/neverl805/never-primp/transport"
)

// RequestOptions carries per-call overrides. Every field is optional; zero
// values mean "use the client's configuration". At most one of Content,
// Form, JSON, Files and Body may be set.
type RequestOptions struct {
	// Params are query parameters merged into the URL, overriding same-named
	// client defaults.
	Params map[string]string
	// Headers merge over the client's default headers. Names already present
	// keep their position; new names append.
	Headers []Header
	// Cookies are sent with this request only, overriding same-named jar
	// entries. They are not stored in the jar.
	Cookies map[string]string

	// Content is a raw request body.
	Content []byte
	// Form is sent urlencoded as application/x-www-form-urlencoded.
	Form map[string]string
	// JSON is marshalled and sent as application/json.
	JSON any
	// Files is sent as multipart/form-data; Form fields, when also set, ride
	// along as regular parts.
	Files []File
	// Body is a caller-provided encoder. Its ContentType always wins over
	// any Content-Type header supplied through Headers.
	Body BodyEncoder

	// Auth overrides the client's basic-auth credentials for this call.
	Auth *BasicAuth
	// Bearer overrides the client's bearer token for this call.
	Bearer string
	// Timeout overrides the client's timeout for this call.
	Timeout time.Duration
	// Proxy routes only this request through a different proxy.
	Proxy string
}

// pseudoHeaderOrder is the browser ordering of HTTP/2 pseudo-headers.
var pseudoHeaderOrder = []string{":method", ":authority", ":scheme", ":path"}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, opts)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodHead, url, opts)
}

// Options issues an OPTIONS request.
func (c *Client) Options(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodOptions, url, opts)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, url, opts)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, opts)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPut, url, opts)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, url, opts)
}

// Do executes a single request. The client's configuration is snapshotted
// when Do starts; concurrent configuration changes affect later calls only.
// Do never retries and never returns a partially read response: the body is
// fully received and decoded, and only then is the jar updated.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		opts = &RequestOptions{}
	}
	snap := c.config.snapshot()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConfigError{Field: "url", Value: rawURL, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ConfigError{Field: "url", Value: rawURL, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	applyParams(u, snap.params, opts.Params)

	body, err := buildBody(opts)
	if err != nil {
		return nil, err
	}
	if body.closer != nil {
		defer body.closer.Close()
	}

	headers := NewHeaderSet(snap.headers...)
	headers.Merge(opts.Headers)
	if body.contentType != "" {
		if body.forceContentType || !headers.Has("Content-Type") {
			headers.Set("Content-Type", body.contentType)
		}
	}
	applyAuth(headers, snap, opts)

	timeout := snap.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := fhttp.NewRequestWithContext(ctx, method, u.String(), body.reader)
	if err != nil {
		return nil, &ConfigError{Field: "request", Value: method + " " + rawURL, Reason: fmt.Sprintf("%s: %s", ErrFailedToComposeRequest, err)}
	}
	if body.length >= 0 {
		req.ContentLength = body.length
	}

	cookies := assembleCookies(c.jar, u, snap, opts.Cookies)
	writeWireHeaders(req, headers, cookies, snap.splitCookies, body.reader != nil)

	t, cleanup, err := c.requestTransport(snap, opts.Proxy)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	rt := instrumentation.StartRequest(ctx, method, u.Host)
	resp, err := t.RoundTrip(req)
	if err != nil {
		terr := &TransportError{Kind: classifyTransportError(err, snap.proxy != "" || opts.Proxy != ""), URL: u.String(), Err: err}
		rt.End(0, terr)
		return nil, terr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		terr := &TransportError{Kind: KindIncomplete, URL: u.String(), Err: fmt.Errorf("%s: %w", ErrFailedToReadResponse, err)}
		rt.End(resp.StatusCode, terr)
		return nil, terr
	}

	decoded, err := decodeBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		terr := &TransportError{Kind: KindIncomplete, URL: u.String(), Err: err}
		rt.End(resp.StatusCode, terr)
		return nil, terr
	}

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	setCookieLines := resp.Header["Set-Cookie"]
	if snap.cookieStore && c.jar.Active() {
		c.jar.RecordResponse(finalURL, setCookieLines)
		instrumentation.RecordCookiesStored(rt.Context(), finalURL.Host, len(setCookieLines))
	}

	rt.End(resp.StatusCode, nil)
	klog.V(3).Infof("%s %s -> %d (%d bytes)", method, u, resp.StatusCode, len(decoded))

	return &Response{
		StatusCode: resp.StatusCode,
		URL:        finalURL,
		headers:    responseHeaders(resp.Header),
		body:       decoded,
		setCookies: parseSetCookies(finalURL, setCookieLines),
		jar:        c.jar,
	}, nil
}

func applyParams(u *url.URL, defaults, overrides map[string]string) {
	if len(defaults) == 0 && len(overrides) == 0 {
		return
	}
	q := u.Query()
	for k, v := range defaults {
		q.Set(k, v)
	}
	for k, v := range overrides {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
}

// requestBody is the assembled outgoing body. length is -1 when unknown.
type requestBody struct {
	reader           io.Reader
	contentType      string
	forceContentType bool
	length           int64
	closer           io.Closer
}

func buildBody(opts *RequestOptions) (requestBody, error) {
	sources := 0
	if opts.Content != nil {
		sources++
	}
	if opts.JSON != nil {
		sources++
	}
	if opts.Body != nil {
		sources++
	}
	if len(opts.Files) > 0 {
		sources++
	} else if len(opts.Form) > 0 {
		sources++
	}
	if sources > 1 {
		return requestBody{}, &EncodingError{What: "body", Err: errors.New("more than one of Content, Form, JSON, Files and Body set")}
	}

	switch {
	case opts.Body != nil:
		length := int64(-1)
		if lr, ok := opts.Body.(LengthReporter); ok {
			length = lr.Len()
		}
		return requestBody{
			reader:           opts.Body,
			contentType:      opts.Body.ContentType(),
			forceContentType: true,
			length:           length,
		}, nil

	case len(opts.Files) > 0:
		enc, err := NewMultipartEncoder(opts.Form, opts.Files)
		if err != nil {
			return requestBody{}, err
		}
		return requestBody{
			reader:           enc,
			contentType:      enc.ContentType(),
			forceContentType: true,
			length:           enc.Len(),
			closer:           enc,
		}, nil

	case opts.JSON != nil:
		encoded, err := json.Marshal(opts.JSON)
		if err != nil {
			return requestBody{}, &EncodingError{What: "json", Err: err}
		}
		return requestBody{
			reader:      bytes.NewReader(encoded),
			contentType: "application/json",
			length:      int64(len(encoded)),
		}, nil

	case len(opts.Form) > 0:
		values := make(url.Values, len(opts.Form))
		for k, v := range opts.Form {
			values.Set(k, v)
		}
		encoded := values.Encode()
		return requestBody{
			reader:      strings.NewReader(encoded),
			contentType: "application/x-www-form-urlencoded",
			length:      int64(len(encoded)),
		}, nil

	case opts.Content != nil:
		return requestBody{
			reader: bytes.NewReader(opts.Content),
			length: int64(len(opts.Content)),
		}, nil
	}
	return requestBody{length: -1}, nil
}

func applyAuth(headers *HeaderSet, snap configSnapshot, opts *RequestOptions) {
	if headers.Has("Authorization") {
		return
	}
	switch {
	case opts.Auth != nil:
		headers.Set("Authorization", basicAuthValue(*opts.Auth))
	case opts.Bearer != "":
		headers.Set("Authorization", "Bearer "+opts.Bearer)
	case snap.auth != nil:
		headers.Set("Authorization", basicAuthValue(*snap.auth))
	case snap.bearer != "":
		headers.Set("Authorization", "Bearer "+snap.bearer)
	}
}

func basicAuthValue(auth BasicAuth) string {
	credentials := auth.Username + ":" + auth.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

// assembleCookies merges the jar's view of the URL with per-call overrides.
// Jar cookies keep their deterministic jar order; per-call cookies override
// same-named jar entries in place and otherwise append sorted by name.
func assembleCookies(jar *Jar, u *url.URL, snap configSnapshot, overrides map[string]string) []Cookie {
	var out []Cookie
	if snap.cookieStore {
		for _, c := range jar.CookiesFor(u) {
			if _, overridden := overrides[c.Name]; overridden {
				continue
			}
			out = append(out, c)
		}
	}
	for _, name := range sortedKeys(overrides) {
		out = append(out, Cookie{Name: name, Value: overrides[name]})
	}
	return out
}

// writeWireHeaders installs the merged headers, cookie occurrences and the
// order keys on the outgoing request. The wire order is the header set's
// insertion order, with the browser-positioned internals first: Host, then
// Content-Length for bodied requests.
func writeWireHeaders(req *fhttp.Request, headers *HeaderSet, cookies []Cookie, splitCookies, hasBody bool) {
	order := []string{"host"}
	if hasBody {
		order = append(order, "content-length")
	}

	for _, hdr := range headers.Snapshot() {
		name := strings.ToLower(hdr.Name)
		if name == "host" {
			req.Host = hdr.Value
			continue
		}
		// Map keys keep the caller's casing; fhttp matches them to the order
		// entries case-insensitively.
		req.Header[hdr.Name] = append(req.Header[hdr.Name], hdr.Value)
		if name != "content-length" {
			order = append(order, name)
		}
	}

	if len(cookies) > 0 {
		if splitCookies {
			values := make([]string, len(cookies))
			for i, c := range cookies {
				values[i] = c.Name + "=" + c.Value
			}
			req.Header["cookie"] = values
		} else {
			pairs := make([]string, len(cookies))
			for i, c := range cookies {
				pairs[i] = c.Name + "=" + c.Value
			}
			req.Header["Cookie"] = []string{strings.Join(pairs, "; ")}
		}
		order = append(order, "cookie")
	}

	req.Header[fhttp.HeaderOrderKey] = order
	req.Header[fhttp.PHeaderOrderKey] = append([]string(nil), pseudoHeaderOrder...)
}

// requestTransport returns the transport for this request. A per-call proxy
// gets a one-off transport torn down when the request finishes.
func (c *Client) requestTransport(snap configSnapshot, proxyOverride string) (transport.Transport, func(), error) {
	if proxyOverride == "" {
		t, err := c.transportFor(snap)
		return t, nil, err
	}
	if err := validateProxy(proxyOverride); err != nil {
		return nil, nil, err
	}
	t, err := transport.New(transport.Options{
		Profile:         snap.impersonate,
		OS:              snap.impersonateOS,
		Proxy:           proxyOverride,
		Verify:          snap.verify,
		CABundle:        snap.caBundle,
		Timeout:         snap.timeout,
		FollowRedirects: snap.followRedirects,
		MaxRedirects:    snap.maxRedirects,
		Referer:         snap.referer,
	})
	if err != nil {
		return nil, nil, err
	}
	return t, t.Close, nil
}

func classifyTransportError(err error, proxied bool) TransportErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return KindTimeout
	case strings.Contains(msg, "tls") || strings.Contains(msg, "x509") || strings.Contains(msg, "certificate"):
		return KindTLS
	case proxied && (strings.Contains(msg, "proxy") || strings.Contains(msg, "socks") || strings.Contains(msg, "connect")):
		return KindProxy
	case strings.Contains(msg, "unexpected eof") || strings.Contains(msg, "incomplete"):
		return KindIncomplete
	default:
		return KindConnection
	}
}

// decodeBody reverses the response's Content-Encoding chain. Transports
// usually transparently decompress; anything left in the header is decoded
// here so callers always see plain bytes.
func decodeBody(raw []byte, contentEncoding string) ([]byte, error) {
	if contentEncoding == "" || len(raw) == 0 {
		return raw, nil
	}

	encodings := strings.Split(contentEncoding, ",")
	body := raw
	// Encodings are applied in listed order, so decoding runs in reverse.
	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.TrimSpace(strings.ToLower(encodings[i]))
		var (
			reader io.Reader
			err    error
		)
		switch encoding {
		case "", "identity":
			continue
		case "gzip":
			reader, err = gzip.NewReader(bytes.NewReader(body))
		case "deflate":
			// Servers disagree on whether deflate means zlib-wrapped or raw.
			reader, err = zlib.NewReader(bytes.NewReader(body))
			if err != nil {
				reader, err = flate.NewReader(bytes.NewReader(body)), nil
			}
		case "br":
			reader = brotli.NewReader(bytes.NewReader(body))
		case "zstd":
			reader, err = zstd.NewReader(bytes.NewReader(body))
		default:
			klog.V(2).Infof("leaving unknown content-encoding %q undecoded", encoding)
			return body, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", ErrFailedToReadResponse, encoding, err)
		}
		body, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", ErrFailedToReadResponse, encoding, err)
		}
	}
	return body, nil
}

// responseHeaders flattens the transport's header map into an ordered set.
// Wire order is not recoverable from the map, so names sort canonically;
// repeated values keep their within-name order.
func responseHeaders(h fhttp.Header) *HeaderSet {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &HeaderSet{}
	for _, name := range names {
		for _, value := range h[name] {
			out.Add(name, value)
		}
	}
	return out
}

func parseSetCookies(u *url.URL, lines []string) []Cookie {
	var out []Cookie
	for _, line := range lines {
		parsed, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		domain := canonicalHost(u.Host)
		hostOnly := true
		if parsed.Domain != "" {
			domain = strings.TrimPrefix(strings.ToLower(parsed.Domain), ".")
			hostOnly = false
		}
		out = append(out, Cookie{
			Name:     parsed.Name,
			Value:    parsed.Value,
			Domain:   domain,
			Path:     defaultPath(parsed.Path, u.Path),
			Expires:  parsed.Expires,
			Secure:   parsed.Secure,
			HttpOnly: parsed.HttpOnly,
			HostOnly: hostOnly,
		})
	}
	return out
}
