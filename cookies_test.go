package primp

import (
	"fmt"
	"net/url"
	"sync"
	"testing"

	. "github.com/onsi/gomega"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad test url %q: %v", raw, err)
	}
	return u
}

func cookieNames(cookies []Cookie) []string {
	names := make([]string, len(cookies))
	for i, c := range cookies {
		names[i] = c.Name
	}
	return names
}

func TestJarRecordResponse(t *testing.T) {
	testCases := []struct {
		name      string
		url       string
		lines     []string
		wantURL   string
		wantPairs map[string]string
	}{
		{
			name:      "plain cookie scoped to origin host",
			url:       "https://example.com/login",
			lines:     []string{"session=abc123; Path=/; HttpOnly"},
			wantURL:   "https://example.com/",
			wantPairs: map[string]string{"session": "abc123"},
		},
		{
			name:      "later same-name value wins",
			url:       "https://example.com/",
			lines:     []string{"token=old", "token=new"},
			wantURL:   "https://example.com/",
			wantPairs: map[string]string{"token": "new"},
		},
		{
			name:      "domain attribute covers subdomains",
			url:       "https://www.example.com/",
			lines:     []string{"pref=1; Domain=example.com"},
			wantURL:   "https://api.example.com/",
			wantPairs: map[string]string{"pref": "1"},
		},
		{
			name:      "foreign domain rejected",
			url:       "https://example.com/",
			lines:     []string{"evil=1; Domain=other.com"},
			wantURL:   "https://other.com/",
			wantPairs: map[string]string{},
		},
		{
			name:      "public suffix domain rejected",
			url:       "https://example.co.uk/",
			lines:     []string{"broad=1; Domain=co.uk"},
			wantURL:   "https://example.co.uk/",
			wantPairs: map[string]string{},
		},
		{
			name:      "expired entry evicted not stored",
			url:       "https://example.com/",
			lines:     []string{"gone=1; Max-Age=0"},
			wantURL:   "https://example.com/",
			wantPairs: map[string]string{},
		},
		{
			name:      "path attribute scopes the cookie",
			url:       "https://example.com/app/login",
			lines:     []string{"scoped=1; Path=/app"},
			wantURL:   "https://example.com/other",
			wantPairs: map[string]string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGomegaWithT(t)

			jar := NewJar(true)
			jar.RecordResponse(mustParse(t, tc.url), tc.lines)

			got := map[string]string{}
			for _, c := range jar.CookiesFor(mustParse(t, tc.wantURL)) {
				got[c.Name] = c.Value
			}
			g.Expect(got).To(Equal(tc.wantPairs))
		})
	}
}

func TestJarPassiveModeIsInert(t *testing.T) {
	g := NewGomegaWithT(t)

	jar := NewJar(false)
	u := mustParse(t, "https://example.com/")

	jar.RecordResponse(u, []string{"session=abc"})
	g.Expect(jar.CookiesFor(u)).To(BeEmpty())

	// Manual operations still work in passive mode.
	jar.Set("example.com", "manual", "1")
	g.Expect(jar.Get("example.com")).To(Equal(map[string]string{"manual": "1"}))

	jar.Remove("example.com", "manual")
	g.Expect(jar.Get("example.com")).To(BeEmpty())
}

func TestJarManualSetScopes(t *testing.T) {
	g := NewGomegaWithT(t)

	jar := NewJar(true)
	jar.Set("example.com", "exact", "1")
	jar.Set(".example.com", "wide", "2")
	jar.Set("", "everywhere", "3")

	onHost := cookieNames(jar.CookiesFor(mustParse(t, "https://example.com/")))
	g.Expect(onHost).To(ContainElements("exact", "wide", "everywhere"))

	onSub := cookieNames(jar.CookiesFor(mustParse(t, "https://sub.example.com/")))
	g.Expect(onSub).To(ContainElements("wide", "everywhere"))
	g.Expect(onSub).ToNot(ContainElement("exact"))

	elsewhere := cookieNames(jar.CookiesFor(mustParse(t, "https://other.net/")))
	g.Expect(elsewhere).To(Equal([]string{"everywhere"}))
}

func TestJarSecureCookies(t *testing.T) {
	g := NewGomegaWithT(t)

	jar := NewJar(true)
	jar.RecordResponse(mustParse(t, "https://example.com/"), []string{"secret=1; Secure"})

	g.Expect(jar.CookiesFor(mustParse(t, "https://example.com/"))).To(HaveLen(1))
	g.Expect(jar.CookiesFor(mustParse(t, "http://example.com/"))).To(BeEmpty())
}

func TestJarClear(t *testing.T) {
	g := NewGomegaWithT(t)

	jar := NewJar(true)
	jar.Set("a.com", "x", "1")
	jar.Set("b.com", "y", "2")
	jar.Clear()

	g.Expect(jar.All()).To(BeEmpty())
}

func TestJarDeterministicOrder(t *testing.T) {
	g := NewGomegaWithT(t)

	jar := NewJar(true)
	jar.Set(".example.com", "broad", "1")
	jar.Set("www.example.com", "narrow", "2")

	u := mustParse(t, "https://www.example.com/")
	first := cookieNames(jar.CookiesFor(u))
	for i := 0; i < 20; i++ {
		g.Expect(cookieNames(jar.CookiesFor(u))).To(Equal(first))
	}
	// More specific domain sorts first.
	g.Expect(first).To(Equal([]string{"narrow", "broad"}))
}

// A reader running concurrently with active merges must observe each
// response's cookies either fully applied or not at all.
func TestJarConcurrentReadersAndWriters(t *testing.T) {
	g := NewGomegaWithT(t)

	jar := NewJar(true)
	u := mustParse(t, "https://example.com/")

	const writers = 4
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				// Both cookies of a response always carry the same round value.
				jar.RecordResponse(u, []string{
					fmt.Sprintf("pair_a=%d", i),
					fmt.Sprintf("pair_b=%d", i),
				})
			}
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writers*rounds; i++ {
			seen := map[string]string{}
			for _, c := range jar.CookiesFor(u) {
				seen[c.Name] = c.Value
			}
			if len(seen) == 0 {
				continue
			}
			g.Expect(seen).To(HaveLen(2))
			g.Expect(seen["pair_a"]).To(Equal(seen["pair_b"]))
		}
	}()

	wg.Wait()
}
