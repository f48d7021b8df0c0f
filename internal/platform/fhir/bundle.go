package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// Link relations used by searchset bundles.
const (
	LinkSelf     = "self"
	LinkNext     = "next"
	LinkPrevious = "previous"
)

// LinkURL returns the URL of the link with the given relation, or "".
// "prev" is accepted as an alias for "previous".
func (b *Bundle) LinkURL(relation string) string {
	for _, l := range b.Link {
		if l.Relation == relation {
			return l.URL
		}
		if relation == LinkPrevious && l.Relation == "prev" {
			return l.URL
		}
	}
	return ""
}

// NextURL returns the server-issued next link, or "" when this is the last page.
func (b *Bundle) NextURL() string {
	return b.LinkURL(LinkNext)
}

// TotalItems returns the total match count reported by the server.
// ok is false when the server did not report a total.
func (b *Bundle) TotalItems() (total int, ok bool) {
	if b.Total == nil {
		return 0, false
	}
	return *b.Total, true
}

// Matches returns the raw resources of the entries that matched the search.
// Entries added by _include (mode "include") and OperationOutcome entries
// (mode "outcome") are skipped. Entries without a search mode count as matches.
func (b *Bundle) Matches() []json.RawMessage {
	out := make([]json.RawMessage, 0, len(b.Entry))
	for _, e := range b.Entry {
		if len(e.Resource) == 0 {
			continue
		}
		if e.Search != nil && e.Search.Mode != "" && e.Search.Mode != "match" {
			continue
		}
		out = append(out, e.Resource)
	}
	return out
}

// SearchBundleParams holds pagination and link information for a search bundle.
type SearchBundleParams struct {
	ID      string
	Total   int
	SelfURL string
	NextURL string
	PrevURL string
}

// NewSearchBundle creates a searchset Bundle from raw resources.
// It populates fullUrl for each entry and sets the self/next/previous links
// that are non-empty in params.
func NewSearchBundle(resources []json.RawMessage, params SearchBundleParams) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		entries[i] = BundleEntry{
			FullURL:  extractFullURL(r),
			Resource: r,
			Search: &BundleSearch{
				Mode: "match",
			},
		}
	}

	total := params.Total
	return &Bundle{
		ResourceType: "Bundle",
		ID:           params.ID,
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         buildPaginationLinks(params),
		Entry:        entries,
	}
}

// extractFullURL builds a relative fullUrl from a resource's resourceType and id.
func extractFullURL(raw json.RawMessage) string {
	var r Resource
	if err := json.Unmarshal(raw, &r); err != nil {
		return ""
	}
	if r.ResourceType != "" && r.ID != "" {
		return FormatReference(r.ResourceType, r.ID)
	}
	return ""
}

// buildPaginationLinks creates self, next, and previous links for searchset bundles.
func buildPaginationLinks(params SearchBundleParams) []BundleLink {
	var links []BundleLink
	if params.SelfURL != "" {
		links = append(links, BundleLink{Relation: LinkSelf, URL: params.SelfURL})
	}
	if params.NextURL != "" {
		links = append(links, BundleLink{Relation: LinkNext, URL: params.NextURL})
	}
	if params.PrevURL != "" {
		links = append(links, BundleLink{Relation: LinkPrevious, URL: params.PrevURL})
	}
	return links
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}
