package primp

import (
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Header is a single name/value pair. The name's casing is preserved on the
// wire even though lookups are case-insensitive.
type Header struct {
	Name  string
	Value string
}

// HeaderSet is an ordered header collection. Iteration order equals the
// caller-specified insertion order at the time of the most recent Replace or
// Merge. Names compare case-insensitively; the casing supplied by the caller
// is kept.
//
// A HeaderSet is safe for concurrent use. Snapshot returns a copy that is
// unaffected by later mutation, so an in-flight request never observes a
// concurrent config change.
type HeaderSet struct {
	mu      sync.Mutex
	entries []Header
}

// NewHeaderSet creates a HeaderSet with the given headers in order.
func NewHeaderSet(headers ...Header) *HeaderSet {
	h := &HeaderSet{}
	h.Merge(headers)
	return h
}

// Replace discards all current entries and installs headers in the given
// order.
func (h *HeaderSet) Replace(headers []Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
	for _, hdr := range headers {
		h.setLocked(hdr.Name, hdr.Value)
	}
}

// Merge overwrites values of already-present names in place (position
// unchanged) and appends new names at the end. The relative order of
// untouched headers is preserved.
func (h *HeaderSet) Merge(headers []Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, hdr := range headers {
		h.setLocked(hdr.Name, hdr.Value)
	}
}

// Set inserts or overwrites a single header.
func (h *HeaderSet) Set(name, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setLocked(name, value)
}

func (h *HeaderSet) setLocked(name, value string) {
	for i := range h.entries {
		if strings.EqualFold(h.entries[i].Name, name) {
			// Keep the original position and casing on overwrite.
			h.entries[i].Value = value
			return
		}
	}
	h.entries = append(h.entries, Header{Name: name, Value: value})
}

// Add appends a header without overwriting existing entries of the same
// name. Responses carry repeated names (Set-Cookie); request defaults go
// through Set/Merge instead.
func (h *HeaderSet) Add(name, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Header{Name: name, Value: value})
}

// Values returns every value recorded for name, in order.
func (h *HeaderSet) Values(name string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, hdr := range h.entries {
		if strings.EqualFold(hdr.Name, name) {
			out = append(out, hdr.Value)
		}
	}
	return out
}

// Get returns the value for name, comparing case-insensitively.
func (h *HeaderSet) Get(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, hdr := range h.entries {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present.
func (h *HeaderSet) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Del removes name from the set, preserving the order of the rest.
func (h *HeaderSet) Del(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = lo.Filter(h.entries, func(hdr Header, _ int) bool {
		return !strings.EqualFold(hdr.Name, name)
	})
}

// Len returns the number of headers in the set.
func (h *HeaderSet) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Snapshot returns an immutable ordered copy for one outgoing request.
func (h *HeaderSet) Snapshot() []Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Header, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clone returns an independent copy of the set.
func (h *HeaderSet) Clone() *HeaderSet {
	return NewHeaderSet(h.Snapshot()...)
}

// Names returns the lowercased header names in order. Used to build the wire
// header order.
func (h *HeaderSet) Names() []string {
	return lo.Map(h.Snapshot(), func(hdr Header, _ int) string {
		return strings.ToLower(hdr.Name)
	})
}
