package transport

import (
	"fmt"
	"os"
	"strings"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"k8s.io/klog/v2"
)

// Options configures a transport. All fields are fixed for the transport's
// lifetime; the client core rebuilds the transport when a relevant
// configuration field changes.
type Options struct {
	// Profile is the impersonation profile name ("chrome_131", ...). Empty
	// selects DefaultProfile for the fingerprinting transport.
	Profile string
	// OS is the impersonated operating system variant.
	OS string
	// Proxy is the proxy URL, or empty for a direct connection. The
	// PRIMP_PROXY environment variable is consulted when empty.
	Proxy string
	// Verify enables TLS certificate verification.
	Verify bool
	// CABundle is a path to a PEM bundle replacing the system roots. The
	// PRIMP_CA_BUNDLE and CA_CERT_FILE environment variables are consulted
	// when empty.
	CABundle string
	// Timeout bounds the whole request, connect through body.
	Timeout time.Duration
	// FollowRedirects controls 3xx handling.
	FollowRedirects bool
	// MaxRedirects caps the redirect chain when FollowRedirects is on. Zero
	// means the transport's default cap.
	MaxRedirects int
	// Referer controls whether followed redirects carry an automatic
	// Referer header. The fingerprinting transport cannot honor false:
	// tls-client's internal redirect loop always sets the header.
	Referer bool
}

// Transport sends an assembled request and returns the raw response. The
// request carries the final ordered header list and cookie occurrences; the
// transport must not reorder or merge them.
type Transport interface {
	RoundTrip(req *fhttp.Request) (*fhttp.Response, error)
	Close()
}

// envProxy returns the ambient proxy configuration, if any.
func envProxy() string {
	return os.Getenv("PRIMP_PROXY")
}

// envCABundle returns the ambient CA bundle path, if any.
func envCABundle() string {
	if p := os.Getenv("PRIMP_CA_BUNDLE"); p != "" {
		return p
	}
	return os.Getenv("CA_CERT_FILE")
}

// New creates the fingerprinting transport backed by tls-client. The
// returned transport emulates the TLS ClientHello and HTTP/2 fingerprint of
// the selected browser profile.
func New(opts Options) (Transport, error) {
	name := opts.Profile
	if name == "" {
		name = DefaultProfile
	}
	profile, err := lookupProfile(name)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientOptions := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(timeout.Seconds())),
		tls_client.WithClientProfile(profile),
		tls_client.WithRandomTLSExtensionOrder(),
	}

	if !opts.FollowRedirects {
		clientOptions = append(clientOptions, tls_client.WithNotFollowRedirects())
	}
	// MaxRedirects and Referer: the tls-client instance enforces its own
	// internal redirect cap and always attaches a Referer header on hops;
	// only the std transport honors the custom settings.
	if !opts.Verify {
		clientOptions = append(clientOptions, tls_client.WithInsecureSkipVerify())
	}

	proxy := opts.Proxy
	if proxy == "" {
		proxy = envProxy()
	}
	if proxy != "" {
		clientOptions = append(clientOptions, tls_client.WithProxyUrl(proxy))
	}

	if bundle := opts.CABundle; bundle == "" {
		bundle = envCABundle()
		if bundle != "" {
			klog.Warningf("transport: CA bundle %q ignored by the fingerprinting transport; use the std transport for custom roots", bundle)
		}
	} else {
		klog.Warningf("transport: CA bundle %q ignored by the fingerprinting transport; use the std transport for custom roots", bundle)
	}

	// Cookie handling is owned by the client core's jar; the tls-client
	// instance is created without one so it cannot inject its own Cookie
	// headers.
	tlsClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS client: %w", err)
	}

	klog.V(2).Infof("transport: created fingerprinting transport (profile=%s os=%s proxy=%v)", name, opts.OS, proxy != "")
	return &tlsTransport{
		client:    tlsClient,
		profile:   name,
		userAgent: userAgentFor(name, opts.OS),
	}, nil
}

type tlsTransport struct {
	client    tls_client.HttpClient
	profile   string
	userAgent string
}

func (t *tlsTransport) RoundTrip(req *fhttp.Request) (*fhttp.Response, error) {
	// Fill in the profile's User-Agent unless the caller set one. Header map
	// keys keep the caller's casing, so scan instead of a canonical Get.
	if !hasHeader(req.Header, "user-agent") {
		req.Header.Set("User-Agent", t.userAgent)
		ensureOrdered(req.Header, "user-agent")
	}
	return t.client.Do(req)
}

func (t *tlsTransport) Close() {
	t.client.CloseIdleConnections()
}

func hasHeader(h fhttp.Header, name string) bool {
	for k := range h {
		if k == fhttp.HeaderOrderKey || k == fhttp.PHeaderOrderKey {
			continue
		}
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// ensureOrdered appends name to the request's header order key when an order
// is present and doesn't already rank the name. Headers missing from the
// order key would otherwise be dropped by fhttp's ordered writer.
func ensureOrdered(h fhttp.Header, name string) {
	order, ok := h[fhttp.HeaderOrderKey]
	if !ok {
		return
	}
	for _, existing := range order {
		if existing == name {
			return
		}
	}
	h[fhttp.HeaderOrderKey] = append(order, name)
}
