package primp

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"k8s.io/klog/v2"
)

// Cookie is a single stored cookie with its scoping attributes.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HttpOnly bool
	// HostOnly is set when the cookie came without a Domain attribute; such
	// cookies only match the exact host that set them.
	HostOnly bool
}

func (c Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Jar stores cookies per domain. In active mode every response's Set-Cookie
// entries are folded into the jar before the next matching request; in
// passive mode the jar never self-updates and only the manual operations
// (Set, Remove, Clear) mutate it.
//
// Domain and path scoping follows RFC 6265: a stored cookie applies to a host
// when the host equals the cookie domain, or (for non host-only cookies) is a
// subdomain of it; paths match on '/'-boundary prefixes. Cookies whose Domain
// attribute names a public suffix are rejected unless set by that exact host.
//
// Lookups and merges are mutually exclusive under the jar's lock, which is
// held only for the read/merge step, never across network I/O.
type Jar struct {
	mu      sync.RWMutex
	active  bool
	entries map[string][]Cookie
}

// NewJar creates a jar. Active jars record response cookies automatically.
func NewJar(active bool) *Jar {
	return &Jar{active: active, entries: make(map[string][]Cookie)}
}

// Active reports whether the jar records response cookies automatically.
func (j *Jar) Active() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.active
}

// SetActive toggles automatic recording. Stored cookies are unaffected.
func (j *Jar) SetActive(active bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.active = active
}

// RecordResponse parses each Set-Cookie line and merges it into the jar.
// Entries with an expiry in the past are removed rather than stored; a
// duplicate name for the same domain replaces the prior entry in place.
// No-op when the jar is passive.
func (j *Jar) RecordResponse(u *url.URL, setCookieLines []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.active {
		return
	}

	host := canonicalHost(u.Host)
	now := time.Now()
	for _, line := range setCookieLines {
		parsed, err := http.ParseSetCookie(line)
		if err != nil {
			klog.V(2).Infof("jar: dropping unparseable Set-Cookie from %s: %v", host, err)
			continue
		}

		domain := host
		hostOnly := true
		if parsed.Domain != "" {
			domain = strings.TrimPrefix(strings.ToLower(parsed.Domain), ".")
			hostOnly = false
			if !domainMatch(host, domain, false) {
				klog.V(2).Infof("jar: rejecting cookie %q for foreign domain %q (host %s)", parsed.Name, domain, host)
				continue
			}
			if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain && domain != host {
				klog.V(2).Infof("jar: rejecting cookie %q scoped to public suffix %q", parsed.Name, domain)
				continue
			}
		}

		expires := parsed.Expires
		if parsed.MaxAge > 0 {
			expires = now.Add(time.Duration(parsed.MaxAge) * time.Second)
		} else if parsed.MaxAge < 0 {
			expires = now.Add(-time.Second)
		}

		c := Cookie{
			Name:     parsed.Name,
			Value:    parsed.Value,
			Domain:   domain,
			Path:     defaultPath(parsed.Path, u.Path),
			Expires:  expires,
			Secure:   parsed.Secure,
			HttpOnly: parsed.HttpOnly,
			HostOnly: hostOnly,
		}

		if c.expired(now) {
			j.removeLocked(domain, c.Name)
			continue
		}
		j.upsertLocked(c)
	}
}

// CookiesFor returns the cookies applicable to the URL's host and path, in
// deterministic order: more specific domains first, then insertion order.
// Expired entries are evicted as they are encountered.
func (j *Jar) CookiesFor(u *url.URL) []Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	host := canonicalHost(u.Host)
	secure := u.Scheme == "https"
	now := time.Now()

	var domains []string
	for domain, cookies := range j.entries {
		for _, c := range cookies {
			if domainMatch(host, domain, c.HostOnly) {
				domains = append(domains, domain)
				break
			}
		}
	}
	// Longer (more specific) domains win the ordering; ties sort lexically so
	// concurrent callers observe the same sequence.
	sort.Slice(domains, func(a, b int) bool {
		if len(domains[a]) != len(domains[b]) {
			return len(domains[a]) > len(domains[b])
		}
		return domains[a] < domains[b]
	})

	var out []Cookie
	for _, domain := range domains {
		kept := j.entries[domain][:0]
		for _, c := range j.entries[domain] {
			if c.expired(now) {
				continue
			}
			kept = append(kept, c)
			if !domainMatch(host, domain, c.HostOnly) {
				continue
			}
			if c.Secure && !secure {
				continue
			}
			if !pathMatch(u.Path, c.Path) {
				continue
			}
			out = append(out, c)
		}
		j.entries[domain] = kept
	}
	return out
}

// Set stores a cookie by hand. An empty domain stores a wildcard cookie that
// applies to every host; a leading dot allows subdomain matching. Manual
// operations succeed regardless of active/passive mode and take precedence
// for the next outgoing request on that domain.
func (j *Jar) Set(domain, name, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	hostOnly := domain != "" && !strings.HasPrefix(domain, ".")
	j.upsertLocked(Cookie{
		Name:     name,
		Value:    value,
		Domain:   strings.TrimPrefix(strings.ToLower(domain), "."),
		Path:     "/",
		HostOnly: hostOnly,
	})
}

// Get returns the name→value mapping stored for a domain.
func (j *Jar) Get(domain string) map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]string)
	now := time.Now()
	for _, c := range j.entries[strings.TrimPrefix(strings.ToLower(domain), ".")] {
		if !c.expired(now) {
			out[c.Name] = c.Value
		}
	}
	return out
}

// Remove deletes a single cookie from a domain.
func (j *Jar) Remove(domain, name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.removeLocked(strings.TrimPrefix(strings.ToLower(domain), "."), name)
}

// Clear removes every cookie from the jar.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make(map[string][]Cookie)
}

// All returns every live cookie as a flat name→value mapping. Callers can
// serialize this view themselves; the jar defines no on-disk format.
func (j *Jar) All() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]string)
	now := time.Now()
	for _, cookies := range j.entries {
		for _, c := range cookies {
			if !c.expired(now) {
				out[c.Name] = c.Value
			}
		}
	}
	return out
}

func (j *Jar) upsertLocked(c Cookie) {
	cookies := j.entries[c.Domain]
	for i := range cookies {
		if cookies[i].Name == c.Name {
			cookies[i] = c
			return
		}
	}
	j.entries[c.Domain] = append(cookies, c)
}

func (j *Jar) removeLocked(domain, name string) {
	cookies := j.entries[domain]
	for i := range cookies {
		if cookies[i].Name == name {
			j.entries[domain] = append(cookies[:i], cookies[i+1:]...)
			return
		}
	}
}

func canonicalHost(host string) string {
	host = strings.ToLower(host)
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return host
}

func domainMatch(host, domain string, hostOnly bool) bool {
	if domain == "" {
		// Wildcard entries from manual Set("" , ...) apply everywhere.
		return true
	}
	if host == domain {
		return true
	}
	return !hostOnly && strings.HasSuffix(host, "."+domain)
}

func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == "" {
		reqPath = "/"
	}
	if cookiePath == "" || cookiePath == "/" {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return len(reqPath) == len(cookiePath) ||
		strings.HasSuffix(cookiePath, "/") ||
		reqPath[len(cookiePath)] == '/'
}

func defaultPath(cookiePath, reqPath string) string {
	if cookiePath != "" {
		return cookiePath
	}
	if reqPath == "" || !strings.HasPrefix(reqPath, "/") {
		return "/"
	}
	if i := strings.LastIndexByte(reqPath, '/'); i > 0 {
		return reqPath[:i]
	}
	return "/"
}
