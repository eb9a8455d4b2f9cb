package primp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"

	fhttp "github.com/bogdanfinn/fhttp"
	"github.com/klauspost/compress/gzip"
	. "github.com/onsi/gomega"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// captureTransport records every request and replies with a canned response.
type captureTransport struct {
	mu       sync.Mutex
	requests []*fhttp.Request
	bodies   [][]byte
	respond  func(req *fhttp.Request) (*fhttp.Response, error)
}

func (ct *captureTransport) RoundTrip(req *fhttp.Request) (*fhttp.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	ct.mu.Lock()
	ct.requests = append(ct.requests, req)
	ct.bodies = append(ct.bodies, body)
	ct.mu.Unlock()

	if ct.respond != nil {
		return ct.respond(req)
	}
	return okResponse(req, nil), nil
}

func (ct *captureTransport) Close() {}

func (ct *captureTransport) calls() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.requests)
}

func (ct *captureTransport) last() (*fhttp.Request, []byte) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if len(ct.requests) == 0 {
		return nil, nil
	}
	return ct.requests[len(ct.requests)-1], ct.bodies[len(ct.bodies)-1]
}

func okResponse(req *fhttp.Request, header fhttp.Header) *fhttp.Response {
	if header == nil {
		header = fhttp.Header{}
	}
	return &fhttp.Response{
		StatusCode: 200,
		Status:     "200 OK",
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Request:    req,
	}
}

func newTestClient(t *testing.T, ct *captureTransport, opts ...ClientOption) *Client {
	t.Helper()
	client, err := NewClient(append([]ClientOption{WithTransport(ct)}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestDoSplitCookies(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct)
	client.SetCookies("example.com", map[string]string{"a": "1"})
	client.Cookies().Set("example.com", "b", "2")

	_, err := client.Get(context.Background(), "https://example.com/", nil)
	g.Expect(err).ToNot(HaveOccurred())

	req, _ := ct.last()
	g.Expect(req.Header["cookie"]).To(ConsistOf("a=1", "b=2"))
	g.Expect(req.Header["Cookie"]).To(BeEmpty())
}

func TestDoJoinedCookies(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct, WithSplitCookies(false))
	client.Cookies().Set("example.com", "a", "1")
	client.Cookies().Set("example.com", "b", "2")

	_, err := client.Get(context.Background(), "https://example.com/", nil)
	g.Expect(err).ToNot(HaveOccurred())

	req, _ := ct.last()
	g.Expect(req.Header["Cookie"]).To(HaveLen(1))
	g.Expect(req.Header["Cookie"][0]).To(Equal("a=1; b=2"))
	g.Expect(req.Header["cookie"]).To(BeEmpty())
}

func TestDoWireHeaderOrder(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct)
	client.SetOrderedHeaders([]Header{
		{"Accept", "*/*"},
		{"X-Custom", "yes"},
		{"Referer", "https://example.com/"},
	})

	_, err := client.Post(context.Background(), "https://example.com/submit", &RequestOptions{
		Content: []byte("payload"),
	})
	g.Expect(err).ToNot(HaveOccurred())

	req, body := ct.last()
	g.Expect(body).To(Equal([]byte("payload")))

	order := req.Header[fhttp.HeaderOrderKey]
	// Internally-placed headers take browser positions; the caller's relative
	// order is untouched after them.
	g.Expect(order[0]).To(Equal("host"))
	g.Expect(order[1]).To(Equal("content-length"))
	g.Expect(order[2:5]).To(Equal([]string{"accept", "x-custom", "referer"}))
	g.Expect(req.Header[fhttp.PHeaderOrderKey]).To(Equal([]string{":method", ":authority", ":scheme", ":path"}))
}

func TestDoHeaderMergePrecedence(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct, WithHeaders([]Header{
		{"Accept", "*/*"},
		{"X-Default", "config"},
	}))

	_, err := client.Get(context.Background(), "https://example.com/", &RequestOptions{
		Headers: []Header{{"x-default", "call"}, {"X-Extra", "1"}},
	})
	g.Expect(err).ToNot(HaveOccurred())

	req, _ := ct.last()
	g.Expect(req.Header["X-Default"]).To(Equal([]string{"call"}))
	g.Expect(req.Header["X-Extra"]).To(Equal([]string{"1"}))
	g.Expect(req.Header["Accept"]).To(Equal([]string{"*/*"}))
}

type fixedEncoder struct {
	*bytes.Reader
	contentType string
}

func (f fixedEncoder) ContentType() string { return f.contentType }

func TestDoEncoderContentTypeWins(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct)

	enc := fixedEncoder{Reader: bytes.NewReader([]byte("x")), contentType: "application/msgpack"}
	_, err := client.Post(context.Background(), "https://example.com/", &RequestOptions{
		Headers: []Header{{"Content-Type", "text/plain"}},
		Body:    enc,
	})
	g.Expect(err).ToNot(HaveOccurred())

	req, _ := ct.last()
	g.Expect(req.Header["Content-Type"]).To(Equal([]string{"application/msgpack"}))
}

func TestDoBodyKinds(t *testing.T) {
	testCases := []struct {
		name        string
		opts        *RequestOptions
		wantBody    string
		contentType string
	}{
		{
			name:        "json body",
			opts:        &RequestOptions{JSON: map[string]int{"n": 7}},
			wantBody:    `{"n":7}`,
			contentType: "application/json",
		},
		{
			name:        "form body",
			opts:        &RequestOptions{Form: map[string]string{"user": "jo", "pw": "s3c ret"}},
			wantBody:    "pw=s3c+ret&user=jo",
			contentType: "application/x-www-form-urlencoded",
		},
		{
			name:     "raw content",
			opts:     &RequestOptions{Content: []byte("raw bytes")},
			wantBody: "raw bytes",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGomegaWithT(t)

			ct := &captureTransport{}
			client := newTestClient(t, ct)

			_, err := client.Post(context.Background(), "https://example.com/", tc.opts)
			g.Expect(err).ToNot(HaveOccurred())

			req, body := ct.last()
			g.Expect(string(body)).To(Equal(tc.wantBody))
			if tc.contentType != "" {
				g.Expect(req.Header["Content-Type"]).To(Equal([]string{tc.contentType}))
			}
		})
	}
}

func TestDoConflictingBodies(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct)

	_, err := client.Post(context.Background(), "https://example.com/", &RequestOptions{
		Content: []byte("raw"),
		JSON:    map[string]string{"also": "json"},
	})

	var ee *EncodingError
	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.As(err, &ee)).To(BeTrue())
	g.Expect(ct.calls()).To(Equal(0))
}

func TestDoMalformedURLBeforeTransport(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct)

	_, err := client.Get(context.Background(), "ftp://example.com/", nil)
	g.Expect(IsConfigError(err)).To(BeTrue())
	g.Expect(ct.calls()).To(Equal(0))
}

func TestDoMalformedProxyBeforeTransport(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct)

	_, err := client.Get(context.Background(), "https://example.com/", &RequestOptions{
		Proxy: "ftp://not-a-proxy",
	})
	g.Expect(IsConfigError(err)).To(BeTrue())
	g.Expect(ct.calls()).To(Equal(0))
}

func TestDoParamsMerge(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct, WithParams(map[string]string{"lang": "en", "page": "1"}))

	_, err := client.Get(context.Background(), "https://example.com/search?q=go", &RequestOptions{
		Params: map[string]string{"page": "2"},
	})
	g.Expect(err).ToNot(HaveOccurred())

	req, _ := ct.last()
	q := req.URL.Query()
	g.Expect(q.Get("q")).To(Equal("go"))
	g.Expect(q.Get("lang")).To(Equal("en"))
	g.Expect(q.Get("page")).To(Equal("2"))
}

func TestDoAuth(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct, WithAuth("user", "pass"))

	_, err := client.Get(context.Background(), "https://example.com/", nil)
	g.Expect(err).ToNot(HaveOccurred())
	req, _ := ct.last()
	g.Expect(req.Header["Authorization"]).To(Equal([]string{"Basic dXNlcjpwYXNz"}))

	// Per-call bearer beats config-level basic auth.
	_, err = client.Get(context.Background(), "https://example.com/", &RequestOptions{Bearer: "tok"})
	g.Expect(err).ToNot(HaveOccurred())
	req, _ = ct.last()
	g.Expect(req.Header["Authorization"]).To(Equal([]string{"Bearer tok"}))
}

func TestDoActiveJarFoldsSetCookie(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{
		respond: func(req *fhttp.Request) (*fhttp.Response, error) {
			return okResponse(req, fhttp.Header{
				"Set-Cookie": []string{"session=xyz; Path=/; HttpOnly"},
			}), nil
		},
	}
	client := newTestClient(t, ct)

	resp, err := client.Get(context.Background(), "https://example.com/login", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(resp.Cookies()).To(HaveKeyWithValue("session", "xyz"))

	// The next request to the same host carries the stored cookie.
	_, err = client.Get(context.Background(), "https://example.com/home", nil)
	g.Expect(err).ToNot(HaveOccurred())
	req, _ := ct.last()
	g.Expect(req.Header["cookie"]).To(ConsistOf("session=xyz"))
}

func TestDoPassiveJarIgnoresSetCookie(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{
		respond: func(req *fhttp.Request) (*fhttp.Response, error) {
			return okResponse(req, fhttp.Header{
				"Set-Cookie": []string{"session=xyz"},
			}), nil
		},
	}
	client := newTestClient(t, ct, WithCookieStore(false))

	_, err := client.Get(context.Background(), "https://example.com/", nil)
	g.Expect(err).ToNot(HaveOccurred())

	_, err = client.Get(context.Background(), "https://example.com/", nil)
	g.Expect(err).ToNot(HaveOccurred())
	req, _ := ct.last()
	g.Expect(req.Header["cookie"]).To(BeEmpty())
	g.Expect(req.Header["Cookie"]).To(BeEmpty())
}

func TestDoPerCallCookiesOverrideJar(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{}
	client := newTestClient(t, ct)
	client.Cookies().Set("example.com", "theme", "dark")
	client.Cookies().Set("example.com", "lang", "en")

	_, err := client.Get(context.Background(), "https://example.com/", &RequestOptions{
		Cookies: map[string]string{"theme": "light"},
	})
	g.Expect(err).ToNot(HaveOccurred())

	req, _ := ct.last()
	g.Expect(req.Header["cookie"]).To(ConsistOf("lang=en", "theme=light"))

	// The override was for one call only; the jar still holds the original.
	g.Expect(client.Cookies().Get("example.com")).To(HaveKeyWithValue("theme", "dark"))
}

func TestDoGzipResponseBody(t *testing.T) {
	g := NewGomegaWithT(t)

	ct := &captureTransport{
		respond: func(req *fhttp.Request) (*fhttp.Response, error) {
			return &fhttp.Response{
				StatusCode: 200,
				Header:     fhttp.Header{"Content-Encoding": []string{"gzip"}},
				Body:       io.NopCloser(bytes.NewReader(gzipBytes(t, []byte("hello compressed world")))),
				Request:    req,
			}, nil
		},
	}
	client := newTestClient(t, ct)

	resp, err := client.Get(context.Background(), "https://example.com/", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(resp.Bytes()).To(Equal([]byte("hello compressed world")))
}

func TestDoFinalURLAfterRedirect(t *testing.T) {
	g := NewGomegaWithT(t)

	finalURL, _ := url.Parse("https://example.com/landed")
	ct := &captureTransport{
		respond: func(req *fhttp.Request) (*fhttp.Response, error) {
			resp := okResponse(req, nil)
			resp.Request = &fhttp.Request{Method: req.Method, URL: finalURL}
			return resp, nil
		},
	}
	client := newTestClient(t, ct)

	resp, err := client.Get(context.Background(), "https://example.com/start", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(resp.URL.Path).To(Equal("/landed"))
}
