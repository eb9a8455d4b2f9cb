package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	"k8s.io/klog/v2"

	"github.com/neverl805/never-primp/instrumentation"
)

// NewStd creates a plain net/http transport. It carries no browser
// fingerprint and no header-order control; it exists as the escape hatch for
// callers that never set an impersonation profile, and as the seam tests
// mock. The conversion between fhttp and net/http types mirrors the
// fingerprinting transport's interface so the client core is oblivious to
// which one it talks to.
func NewStd(opts Options) (Transport, error) {
	inner := &http.Transport{}

	tlsConfig := &tls.Config{InsecureSkipVerify: !opts.Verify}
	bundle := opts.CABundle
	if bundle == "" {
		bundle = envCABundle()
	}
	if bundle != "" && opts.Verify {
		pem, err := os.ReadFile(bundle)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle %q: %w", bundle, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %q", bundle)
		}
		tlsConfig.RootCAs = pool
		klog.V(2).Infof("transport: loaded CA bundle from %s", bundle)
	}
	inner.TLSClientConfig = tlsConfig

	proxy := opts.Proxy
	if proxy == "" {
		proxy = envProxy()
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", proxy, err)
		}
		inner.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &http.Client{
		Transport: inner,
		Timeout:   timeout,
	}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		maxRedirects := opts.MaxRedirects
		withReferer := opts.Referer
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if maxRedirects > 0 && len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			// net/http sets Referer to the previous hop before calling
			// this hook.
			if !withReferer {
				req.Header.Del("Referer")
			}
			instrumentation.RecordRedirect(req.Context(), req.URL.Host)
			return nil
		}
	}

	return &stdTransport{client: client}, nil
}

type stdTransport struct {
	client *http.Client
}

// HTTPClient exposes the underlying net/http client. Tests use this to
// intercept traffic.
func (t *stdTransport) HTTPClient() *http.Client { return t.client }

func (t *stdTransport) RoundTrip(req *fhttp.Request) (*fhttp.Response, error) {
	converted, err := toNetHTTPRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}

	resp, err := t.client.Do(converted)
	if err != nil {
		return nil, err
	}

	return toFHTTPResponse(resp), nil
}

func (t *stdTransport) Close() {
	t.client.CloseIdleConnections()
}

// toNetHTTPRequest converts an fhttp.Request to a net/http request. Header
// order keys are dropped: net/http cannot order headers.
func toNetHTTPRequest(req *fhttp.Request) (*http.Request, error) {
	out, err := http.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, err
	}

	out.Header = make(http.Header, len(req.Header))
	for k, v := range req.Header {
		if k == fhttp.HeaderOrderKey || k == fhttp.PHeaderOrderKey {
			continue
		}
		out.Header[k] = v
	}

	out.Host = req.Host
	out.ContentLength = req.ContentLength
	out.TransferEncoding = req.TransferEncoding
	out.Close = req.Close
	return out, nil
}

// toFHTTPResponse converts a net/http response to an fhttp.Response.
func toFHTTPResponse(resp *http.Response) *fhttp.Response {
	out := &fhttp.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         resp.Proto,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
		Header:        make(fhttp.Header, len(resp.Header)),
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		Close:         resp.Close,
		Uncompressed:  resp.Uncompressed,
	}
	for k, v := range resp.Header {
		out.Header[k] = v
	}

	if resp.Request != nil {
		out.Request = &fhttp.Request{
			Method: resp.Request.Method,
			URL:    resp.Request.URL,
			Host:   resp.Request.Host,
		}
	}
	return out
}
