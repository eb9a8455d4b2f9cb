// Package transport provides the HTTP/TLS transport collaborator used by the
// client: an engine that sends requests with the TLS and HTTP/2 fingerprint
// of a real browser.
//
// This package wraps github.com/bogdanfinn/tls-client. The client core hands
// it a fully assembled fhttp.Request (final ordered header list, cookie
// header occurrences, body stream) and receives back the raw fhttp.Response.
// Everything above that line - header merging, cookie jar semantics, body
// encoding - lives in the root package; everything below it - ClientHello
// construction, HTTP/2 framing, connection pooling - lives in tls-client.
//
// Two implementations are provided:
//   - New: the fingerprinting transport backed by tls-client profiles.
//   - NewStd: a plain net/http transport used as an escape hatch when no
//     impersonation profile is configured, and as the seam test doubles
//     plug into.
//
// Example:
//
//	t, err := transport.New(transport.Options{
//	    Profile: "chrome_131",
//	    OS:      "windows",
//	    Verify:  true,
//	    Timeout: 30 * time.Second,
//	})
package transport
