// Package query builds validated search descriptors for remote collections.
//
// A Builder checks every filter key against the collection's whitelist and
// normalizes the page size; the resulting Query is immutable and renders the
// FHIR search parameters sent to the remote server.
package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
)

// Filter is one validated predicate.
type Filter struct {
	Param string
	Kind  MatchKind
	Value string
}

// Builder accumulates criteria for one Query. The first invalid criterion
// is remembered and returned by Build.
type Builder struct {
	coll     Collection
	filters  []Filter
	sort     []string
	pageSize int
	err      error
}

// NewBuilder returns a Builder for the collection.
func NewBuilder(c Collection) *Builder {
	return &Builder{coll: c}
}

// Where adds a filter. The key must be one of the collection's params and the
// value must not be blank.
func (b *Builder) Where(key, value string) *Builder {
	if b.err != nil {
		return b
	}
	kind, ok := b.coll.Params[key]
	if !ok {
		b.err = apperror.BadRequest("unknown filter %q for %s", key, b.coll.Type)
		return b
	}
	value = strings.TrimSpace(value)
	if value == "" {
		b.err = apperror.BadRequest("filter %q requires a value", key)
		return b
	}
	b.filters = append(b.filters, Filter{Param: key, Kind: kind, Value: value})
	return b
}

// WhereAll adds every criterion in the map, in key order.
func (b *Builder) WhereAll(criteria map[string]string) *Builder {
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Where(k, criteria[k])
	}
	return b
}

// SortBy overrides the collection's default sort. A leading "-" sorts descending.
func (b *Builder) SortBy(fields ...string) *Builder {
	b.sort = append([]string(nil), fields...)
	return b
}

// PageSize requests a page size. Values outside [1, max] fall back to the
// collection default.
func (b *Builder) PageSize(n int) *Builder {
	b.pageSize = n
	return b
}

// Build returns the Query or the first validation error.
func (b *Builder) Build() (Query, error) {
	if b.err != nil {
		return Query{}, b.err
	}

	size := b.pageSize
	if size < 1 || size > b.coll.MaxPageSize {
		size = b.coll.DefaultPageSize
	}
	sortFields := b.sort
	if sortFields == nil {
		sortFields = b.coll.DefaultSort
	}

	return Query{
		resourceType: b.coll.Type,
		filters:      append([]Filter(nil), b.filters...),
		sort:         append([]string(nil), sortFields...),
		pageSize:     size,
	}, nil
}

// Query is an immutable search descriptor.
type Query struct {
	resourceType string
	filters      []Filter
	sort         []string
	pageSize     int
}

func (q Query) ResourceType() string { return q.resourceType }
func (q Query) PageSize() int        { return q.pageSize }

// Filters returns a copy of the filters.
func (q Query) Filters() []Filter {
	return append([]Filter(nil), q.filters...)
}

// Sort returns a copy of the sort fields.
func (q Query) Sort() []string {
	return append([]string(nil), q.sort...)
}

// WithPageSize returns a copy with a different page size. It is not clamped
// to the collection maximum: the aggregate path uses the remote server's own
// ceiling instead.
func (q Query) WithPageSize(n int) Query {
	if n < 1 {
		n = 1
	}
	c := q
	c.pageSize = n
	return c
}

// Params renders the FHIR search parameters. An accurate total is always
// requested because page arithmetic depends on it.
func (q Query) Params() url.Values {
	params := url.Values{}
	for _, f := range q.filters {
		key := f.Param
		switch f.Kind {
		case MatchExact:
			key += ":exact"
		case MatchContains:
			key += ":contains"
		}
		params[key] = append(params[key], f.Value)
	}
	if len(q.sort) > 0 {
		params["_sort"] = []string{strings.Join(q.sort, ",")}
	}
	params["_count"] = []string{strconv.Itoa(q.pageSize)}
	params["_total"] = []string{"accurate"}
	return params
}
