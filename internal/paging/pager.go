package paging

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/platform/metrics"
	"github.com/ehr/fhirgateway/internal/query"
)

// Strategy names how Pager produced a page.
type Strategy string

const (
	StrategyOffset    Strategy = "offset"
	StrategyAggregate Strategy = "aggregate"
)

// Request is one paged read.
type Request[T any] struct {
	Query query.Query

	// PageNumber is 1-based; values below 1 mean the first page.
	PageNumber int

	// ShowAll returns every match as one page.
	ShowAll bool

	// Filter is a predicate the remote query cannot express. It runs over
	// the converted items.
	Filter func(T) bool

	// Compare re-orders the converted items before slicing.
	Compare func(a, b T) int

	// Enrich completes an item during response assembly, typically by
	// resolving reference displays. It runs on the returned items only,
	// unless Filter or Compare is set, in which case it runs on every item
	// first so they can see the enriched fields.
	Enrich func(ctx context.Context, item T) (T, error)
}

// Strategy reports which path the request takes. Anything that has to see
// the complete result set before slicing forces aggregation.
func (r Request[T]) Strategy() Strategy {
	if r.ShowAll || r.Filter != nil || r.Compare != nil {
		return StrategyAggregate
	}
	return StrategyOffset
}

// Pager serves pages of one collection type.
//
// Every Pager call has list semantics: a search without matches returns an
// empty page, never NotFound. A page number past the last page is NotFound on
// both paths.
type Pager[T any] struct {
	fetcher    *Fetcher
	locator    *OffsetPageLocator
	aggregator *ResultAggregator
	convert    Converter[T]
	logger     zerolog.Logger
}

func NewPager[T any](remote Remote, aggregator *ResultAggregator, convert Converter[T], logger zerolog.Logger) *Pager[T] {
	return &Pager[T]{
		fetcher:    NewFetcher(remote),
		locator:    NewOffsetPageLocator(remote),
		aggregator: aggregator,
		convert:    convert,
		logger:     logger.With().Str("component", "pager").Logger(),
	}
}

// GetPage returns the requested page.
func (p *Pager[T]) GetPage(ctx context.Context, req Request[T]) (Page[T], error) {
	strategy := req.Strategy()
	if strategy == StrategyOffset {
		page, err := p.offsetPage(ctx, req)
		if !errors.Is(err, errOffsetUnsupported) {
			p.record(req, strategy)
			return page, err
		}
		p.logger.Debug().Err(err).Str("resource_type", req.Query.ResourceType()).Msg("offset paging unavailable, aggregating")
		strategy = StrategyAggregate
	}
	p.record(req, strategy)
	return p.aggregatePage(ctx, req)
}

// GetAll returns every match, enriched, filtered and ordered as the request
// asks.
func (p *Pager[T]) GetAll(ctx context.Context, req Request[T]) ([]T, error) {
	items, err := p.collect(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Filter == nil && req.Compare == nil {
		if err := enrichAll(ctx, items, req.Enrich); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// collect aggregates, then filters and sorts. Items are enriched first only
// when a filter or sort needs them.
func (p *Pager[T]) collect(ctx context.Context, req Request[T]) ([]T, error) {
	items, err := Aggregate(ctx, p.aggregator, req.Query, p.convert)
	if err != nil {
		return nil, err
	}
	if req.Filter != nil || req.Compare != nil {
		if err := enrichAll(ctx, items, req.Enrich); err != nil {
			return nil, err
		}
	}
	if req.Filter != nil {
		items = slices.DeleteFunc(items, func(v T) bool { return !req.Filter(v) })
	}
	if req.Compare != nil {
		slices.SortStableFunc(items, req.Compare)
	}
	return items, nil
}

func (p *Pager[T]) offsetPage(ctx context.Context, req Request[T]) (Page[T], error) {
	size := req.Query.PageSize()

	first, err := p.fetcher.First(ctx, req.Query)
	if apperror.Is(err, apperror.KindNotFound) {
		return EmptyPage[T](req.PageNumber, size), nil
	}
	if err != nil {
		return Page[T]{}, err
	}

	bundle, err := p.locator.Locate(ctx, first, req.PageNumber, size)
	if err != nil {
		return Page[T]{}, err
	}
	// A server that caps _count below size returns short pages, and the
	// offsets of later pages no longer line up with size.
	total, _ := first.TotalItems()
	matches := bundle.Matches()
	if want := min(size, total-Offset(req.PageNumber, size)); len(matches) < want {
		return Page[T]{}, fmt.Errorf("%w: page holds %d of %d entries", errOffsetUnsupported, len(matches), want)
	}

	items, err := convertAll(matches, p.convert)
	if err != nil {
		return Page[T]{}, err
	}
	if err := enrichAll(ctx, items, req.Enrich); err != nil {
		return Page[T]{}, err
	}

	return Page[T]{
		Items:       items,
		PageSize:    size,
		TotalPages:  TotalPages(total, size),
		CurrentPage: clampPage(req.PageNumber),
		ItemCount:   len(items),
		TotalItems:  total,
	}, nil
}

func (p *Pager[T]) aggregatePage(ctx context.Context, req Request[T]) (Page[T], error) {
	items, err := p.collect(ctx, req)
	if err != nil {
		return Page[T]{}, err
	}
	page, err := Slice(items, req.PageNumber, req.Query.PageSize(), req.ShowAll)
	if err != nil {
		return Page[T]{}, err
	}
	if req.Filter == nil && req.Compare == nil {
		if err := enrichAll(ctx, page.Items, req.Enrich); err != nil {
			return Page[T]{}, err
		}
	}
	return page, nil
}

func enrichAll[T any](ctx context.Context, items []T, enrich func(context.Context, T) (T, error)) error {
	if enrich == nil {
		return nil
	}
	for i := range items {
		v, err := enrich(ctx, items[i])
		if err != nil {
			return err
		}
		items[i] = v
	}
	return nil
}

func (p *Pager[T]) record(req Request[T], strategy Strategy) {
	metrics.PagerRequestsTotal.WithLabelValues(string(strategy)).Inc()
	p.logger.Debug().
		Str("resource_type", req.Query.ResourceType()).
		Str("strategy", string(strategy)).
		Int("page", clampPage(req.PageNumber)).
		Int("page_size", req.Query.PageSize()).
		Bool("show_all", req.ShowAll).
		Msg("paged read")
}
