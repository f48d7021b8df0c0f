package paging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/platform/fhir"
	"github.com/ehr/fhirgateway/internal/query"
)

// Remote is the part of the remote collection API used for paging.
// *fhirclient.Client implements it.
type Remote interface {
	Search(ctx context.Context, resourceType string, params url.Values) (*fhir.Bundle, error)
	Follow(ctx context.Context, link string) (*fhir.Bundle, error)
	GetPages(ctx context.Context, bundleID string, offset, count int) (*fhir.Bundle, error)
}

// Converter turns one raw search entry into its domain representation.
type Converter[T any] func(raw json.RawMessage) (T, error)

// Fetcher executes a query once against the remote collection.
type Fetcher struct {
	remote Remote
}

func NewFetcher(remote Remote) *Fetcher {
	return &Fetcher{remote: remote}
}

// First fetches the first page of q. A first page without matches is
// reported as NotFound; list callers translate that into an empty page.
func (f *Fetcher) First(ctx context.Context, q query.Query) (*fhir.Bundle, error) {
	b, err := f.remote.Search(ctx, q.ResourceType(), q.Params())
	if err != nil {
		return nil, err
	}
	if len(b.Matches()) == 0 {
		return nil, apperror.NotFound("no %s matches the query", q.ResourceType())
	}
	return b, nil
}

func convertAll[T any](raws []json.RawMessage, convert Converter[T]) ([]T, error) {
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		v, err := convert(raw)
		if err != nil {
			return nil, fmt.Errorf("convert entry %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
