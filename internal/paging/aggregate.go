package paging

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/platform/metrics"
	"github.com/ehr/fhirgateway/internal/query"
)

// ResultAggregator materializes a whole search into memory. It is the only
// path that reads every page, so it refuses searches larger than limit.
type ResultAggregator struct {
	fetcher     *Fetcher
	remote      Remote
	maxPageSize int
	limit       int
	logger      zerolog.Logger
}

// NewResultAggregator walks searches using maxPageSize entries per remote
// page and fails searches matching more than limit records.
func NewResultAggregator(remote Remote, maxPageSize, limit int, logger zerolog.Logger) *ResultAggregator {
	return &ResultAggregator{
		fetcher:     NewFetcher(remote),
		remote:      remote,
		maxPageSize: maxPageSize,
		limit:       limit,
		logger:      logger.With().Str("component", "aggregator").Logger(),
	}
}

// All returns every matching raw entry in server order. A search without
// matches yields an empty list.
func (a *ResultAggregator) All(ctx context.Context, q query.Query) ([]json.RawMessage, error) {
	first, err := a.fetcher.First(ctx, q.WithPageSize(a.maxPageSize))
	if apperror.Is(err, apperror.KindNotFound) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	if total, ok := first.TotalItems(); ok && a.limit > 0 && total > a.limit {
		return nil, a.tooLarge(q, total)
	}

	var out []json.RawMessage
	w := NewCursorWalker(a.remote, first)
	for {
		page, ok, err := w.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, page.Matches()...)
		if a.limit > 0 && len(out) > a.limit {
			return nil, a.tooLarge(q, len(out))
		}
	}

	metrics.PagerPagesWalked.Observe(float64(w.Pages()))
	a.logger.Debug().
		Str("resource_type", q.ResourceType()).
		Int("pages", w.Pages()).
		Int("items", len(out)).
		Msg("aggregated search")
	return out, nil
}

func (a *ResultAggregator) tooLarge(q query.Query, n int) error {
	return apperror.BadRequest("%d %s records match, more than the %d that can be listed at once; narrow the filter", n, q.ResourceType(), a.limit)
}

// Aggregate returns every match of q converted to T.
func Aggregate[T any](ctx context.Context, a *ResultAggregator, q query.Query, convert Converter[T]) ([]T, error) {
	raws, err := a.All(ctx, q)
	if err != nil {
		return nil, err
	}
	return convertAll(raws, convert)
}
