package primp

import (
	"errors"
	"net/url"
	"testing"

	. "github.com/onsi/gomega"
	"golang.org/x/text/encoding/charmap"
)

func newTestResponse(t *testing.T, rawURL string, headers []Header, body []byte) *Response {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("bad test url: %v", err)
	}
	hs := &HeaderSet{}
	for _, h := range headers {
		hs.Add(h.Name, h.Value)
	}
	return &Response{
		StatusCode: 200,
		URL:        u,
		headers:    hs,
		body:       body,
	}
}

func TestResponseHeaderLookup(t *testing.T) {
	g := NewGomegaWithT(t)

	resp := newTestResponse(t, "https://example.com/",
		[]Header{
			{"Content-Type", "text/html"},
			{"Set-Cookie", "a=1"},
			{"Set-Cookie", "b=2"},
		}, nil)

	g.Expect(resp.Header("content-type")).To(Equal("text/html"))
	g.Expect(resp.Header("missing")).To(BeEmpty())
	g.Expect(resp.HasHeader("SET-COOKIE")).To(BeTrue())
	g.Expect(resp.HeaderValues("set-cookie")).To(Equal([]string{"a=1", "b=2"}))
}

func TestResponseText(t *testing.T) {
	g := NewGomegaWithT(t)

	t.Run("utf-8 passthrough", func(t *testing.T) {
		resp := newTestResponse(t, "https://example.com/",
			[]Header{{"Content-Type", "text/plain; charset=utf-8"}},
			[]byte("héllo"))
		text, err := resp.Text()
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(text).To(Equal("héllo"))
	})

	t.Run("latin-1 transcoded", func(t *testing.T) {
		encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte("café"))
		g.Expect(err).ToNot(HaveOccurred())

		resp := newTestResponse(t, "https://example.com/",
			[]Header{{"Content-Type", "text/plain; charset=iso-8859-1"}},
			encoded)
		text, err := resp.Text()
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(text).To(Equal("café"))
	})
}

func TestResponseJSON(t *testing.T) {
	g := NewGomegaWithT(t)

	resp := newTestResponse(t, "https://example.com/", nil, []byte(`{"name":"go","stars":42}`))

	var out struct {
		Name  string `json:"name"`
		Stars int    `json:"stars"`
	}
	g.Expect(resp.JSON(&out)).To(Succeed())
	g.Expect(out.Name).To(Equal("go"))
	g.Expect(out.Stars).To(Equal(42))

	var ee *EncodingError
	err := newTestResponse(t, "https://example.com/", nil, []byte("not json")).JSON(&out)
	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.As(err, &ee)).To(BeTrue())
}

func TestResponseHTML(t *testing.T) {
	g := NewGomegaWithT(t)

	resp := newTestResponse(t, "https://example.com/", nil,
		[]byte(`<html><body><h1 id="title">Hi</h1></body></html>`))

	doc, err := resp.HTML()
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(doc.Find("#title").Text()).To(Equal("Hi"))
}

func TestResponseTextPlain(t *testing.T) {
	g := NewGomegaWithT(t)

	resp := newTestResponse(t, "https://example.com/",
		[]Header{{"Content-Type", "text/html; charset=utf-8"}},
		[]byte(`<html><head><style>p{color:red}</style></head><body><p>First</p><script>alert(1)</script><p>Second</p></body></html>`))

	text, err := resp.TextPlain()
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(text).To(ContainSubstring("First"))
	g.Expect(text).To(ContainSubstring("Second"))
	g.Expect(text).ToNot(ContainSubstring("alert"))
	g.Expect(text).ToNot(ContainSubstring("color:red"))
}

func TestResponseTextRich(t *testing.T) {
	g := NewGomegaWithT(t)

	resp := newTestResponse(t, "https://example.com/",
		[]Header{{"Content-Type", "text/html; charset=utf-8"}},
		[]byte(`<p onclick="steal()">Keep <em>emphasis</em></p><script>steal()</script>`))

	rich, err := resp.TextRich()
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(rich).To(ContainSubstring("<em>emphasis</em>"))
	g.Expect(rich).ToNot(ContainSubstring("onclick"))
	g.Expect(rich).ToNot(ContainSubstring("steal"))
}

func TestResponseSetCookies(t *testing.T) {
	g := NewGomegaWithT(t)

	u, _ := url.Parse("https://shop.example.com/cart")
	cookies := parseSetCookies(u, []string{
		"item=42; Path=/cart; Secure",
		"pref=dark; Domain=example.com",
		"%%%garbage",
	})

	g.Expect(cookies).To(HaveLen(2))
	g.Expect(cookies[0].Name).To(Equal("item"))
	g.Expect(cookies[0].Path).To(Equal("/cart"))
	g.Expect(cookies[0].Secure).To(BeTrue())
	g.Expect(cookies[0].HostOnly).To(BeTrue())
	g.Expect(cookies[1].Domain).To(Equal("example.com"))
	g.Expect(cookies[1].HostOnly).To(BeFalse())
}
