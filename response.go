package primp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/neverl805/never-primp/internal/textextract"
)

// Response is the fully-read result of a request. The body is already
// content-decoded (gzip, deflate, brotli, zstd); Text and JSON work on the
// decoded bytes.
type Response struct {
	// StatusCode is the HTTP status of the final response.
	StatusCode int
	// URL is the final URL after any redirects.
	URL *url.URL

	headers    *HeaderSet
	body       []byte
	setCookies []Cookie
	jar        *Jar
}

// Headers returns the response headers in wire order.
func (r *Response) Headers() []Header {
	return r.headers.Snapshot()
}

// Header returns the first value of the named header, case-insensitively.
// Empty when absent.
func (r *Response) Header(name string) string {
	v, _ := r.headers.Get(name)
	return v
}

// HeaderValues returns every value of the named header, in order.
func (r *Response) HeaderValues(name string) []string {
	return r.headers.Values(name)
}

// HasHeader reports whether the named header is present.
func (r *Response) HasHeader(name string) bool {
	return r.headers.Has(name)
}

// Bytes returns the decoded response body.
func (r *Response) Bytes() []byte {
	return r.body
}

// Text decodes the body to a string honoring the charset advertised in
// Content-Type (or sniffed from the content), transcoding to UTF-8.
func (r *Response) Text() (string, error) {
	contentType := r.Header("Content-Type")
	reader, err := charset.NewReader(bytes.NewReader(r.body), contentType)
	if err != nil {
		return "", &EncodingError{What: "charset", Err: err}
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", &EncodingError{What: "charset", Err: err}
	}
	return string(decoded), nil
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return &EncodingError{What: "json", Err: err}
	}
	return nil
}

// TextPlain extracts the readable plain text of an HTML body: markup,
// scripts and styles stripped, whitespace normalized.
func (r *Response) TextPlain() (string, error) {
	text, err := r.Text()
	if err != nil {
		return "", err
	}
	plain, err := textextract.PlainText(bytes.NewReader([]byte(text)))
	if err != nil {
		return "", &EncodingError{What: "html", Err: err}
	}
	return plain, nil
}

// TextRich returns the body with dangerous markup removed. Unlike TextPlain
// the safe formatting tags survive, so the result is still HTML.
func (r *Response) TextRich() (string, error) {
	text, err := r.Text()
	if err != nil {
		return "", err
	}
	return textextract.Sanitize(text), nil
}

// HTML parses the body as an HTML document for structured queries.
func (r *Response) HTML() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.body))
	if err != nil {
		return nil, &EncodingError{What: "html", Err: fmt.Errorf("failed to parse document: %w", err)}
	}
	return doc, nil
}

// SetCookies returns the cookies this response set, in arrival order.
func (r *Response) SetCookies() []Cookie {
	out := make([]Cookie, len(r.setCookies))
	copy(out, r.setCookies)
	return out
}

// Cookies returns the jar's current view for the response's URL: every
// cookie a follow-up request to the same URL would send.
func (r *Response) Cookies() map[string]string {
	if r.jar == nil || r.URL == nil {
		return map[string]string{}
	}
	out := make(map[string]string)
	for _, c := range r.jar.CookiesFor(r.URL) {
		out[c.Name] = c.Value
	}
	return out
}
