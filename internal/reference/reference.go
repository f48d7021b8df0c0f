// Package reference resolves cross-record references to display strings
// during response assembly.
//
// Resolution order is: the pass cache, then the display hint carried on the
// reference, then one remote read of the target. Every result is cached for
// the rest of the pass, so N references to one target cost at most one read.
// A Pass is created per response and thrown away with it.
package reference

import (
	"context"
	"strings"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/platform/fhir"
	"github.com/ehr/fhirgateway/internal/platform/metrics"
)

// Reference is a typed pointer to another record.
type Reference struct {
	TargetType string
	TargetID   string
	// Display is the denormalized display hint stored with the reference.
	Display string
}

// Parse converts a wire reference. It accepts "Type/id", absolute URLs ending
// in "Type/id", and versioned "Type/id/_history/v" forms. Contained ("#id"),
// urn: and other references without a typed target come back unresolvable,
// keeping only the hint.
func Parse(ref fhir.Reference) Reference {
	r := Reference{Display: strings.TrimSpace(ref.Display)}

	s := strings.TrimSpace(ref.Reference)
	if s == "" || strings.HasPrefix(s, "#") || strings.HasPrefix(s, "urn:") {
		return r
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if n := len(parts); n >= 4 && parts[n-2] == "_history" {
		parts = parts[:n-2]
	}
	if len(parts) < 2 {
		return r
	}
	typ, id := parts[len(parts)-2], parts[len(parts)-1]
	if !isResourceType(typ) || id == "" {
		return r
	}
	if ref.Type != "" && ref.Type != typ {
		return r
	}
	r.TargetType = typ
	r.TargetID = id
	return r
}

func isResourceType(s string) bool {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for _, c := range s {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

// Resolvable reports whether the reference names a readable target.
func (r Reference) Resolvable() bool {
	return r.TargetType != "" && r.TargetID != ""
}

// Key identifies the target. Ids are only unique within a type.
func (r Reference) Key() string {
	return fhir.FormatReference(r.TargetType, r.TargetID)
}

// Cache maps a target key to its display for one resolution pass.
// It is not safe for concurrent use; a pass belongs to one request.
type Cache struct {
	entries map[string]string
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

func (c *Cache) Get(key string) (string, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache) Put(key, display string) {
	c.entries[key] = display
}

func (c *Cache) Len() int {
	return len(c.entries)
}

// FetchFunc reads a reference target and returns its display.
type FetchFunc func(ctx context.Context, ref Reference) (string, error)

// Resolve returns the display for ref using cache, then hint, then fetch.
// An unresolvable reference yields its hint (possibly "") without a fetch.
// A failed fetch is a DanglingReference and is not cached.
func Resolve(ctx context.Context, cache *Cache, ref Reference, fetch FetchFunc) (string, error) {
	if !ref.Resolvable() {
		return ref.Display, nil
	}
	key := ref.Key()
	if v, ok := cache.Get(key); ok {
		metrics.ReferenceResolutionsTotal.WithLabelValues("cache").Inc()
		return v, nil
	}
	if ref.Display != "" {
		cache.Put(key, ref.Display)
		metrics.ReferenceResolutionsTotal.WithLabelValues("hint").Inc()
		return ref.Display, nil
	}

	display, err := fetch(ctx, ref)
	if err != nil {
		metrics.ReferenceResolutionsTotal.WithLabelValues("failed").Inc()
		return "", apperror.DanglingReference(err, "reference %s cannot be resolved", key)
	}
	cache.Put(key, display)
	metrics.ReferenceResolutionsTotal.WithLabelValues("remote").Inc()
	return display, nil
}
