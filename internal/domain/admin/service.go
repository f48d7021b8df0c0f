package admin

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/paging"
	"github.com/ehr/fhirgateway/internal/query"
	"github.com/ehr/fhirgateway/internal/reference"
	"github.com/ehr/fhirgateway/pkg/pagination"
)

// Remote is the part of the FHIR server API the admin services use.
type Remote interface {
	paging.Remote
	reference.Reader
}

type Service struct {
	remote        Remote
	registry      *query.Registry
	aggregator    *paging.ResultAggregator
	organizations *paging.Pager[*Organization]
	resolver      *reference.Resolver
	logger        zerolog.Logger
}

func NewService(remote Remote, registry *query.Registry, aggregator *paging.ResultAggregator, resolver *reference.Resolver, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "admin").Logger()
	return &Service{
		remote:        remote,
		registry:      registry,
		aggregator:    aggregator,
		organizations: paging.NewPager[*Organization](remote, aggregator, OrganizationFromFHIR, logger),
		resolver:      resolver,
		logger:        logger,
	}
}

// -- Organization --

func (s *Service) ListOrganizations(ctx context.Context, params pagination.Params, criteria map[string]string) (paging.Page[*Organization], error) {
	q, err := s.registry.Query("Organization", criteria, params.PageSize)
	if err != nil {
		return paging.Page[*Organization]{}, err
	}
	return s.organizations.GetPage(ctx, paging.Request[*Organization]{
		Query:      q,
		PageNumber: params.Page,
		ShowAll:    params.ShowAll,
		Enrich:     enrichOrganization(s.resolver.NewPass()),
	})
}

func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	raw, err := s.remote.Read(ctx, "Organization", id)
	if err != nil {
		return nil, err
	}
	o, err := OrganizationFromFHIR(raw)
	if err != nil {
		return nil, err
	}
	return enrichOrganization(s.resolver.NewPass())(ctx, o)
}

// enrichOrganization resolves the parent organization's name.
func enrichOrganization(pass *reference.Pass) func(context.Context, *Organization) (*Organization, error) {
	return func(ctx context.Context, o *Organization) (*Organization, error) {
		if o.partOf == nil {
			return o, nil
		}
		name, err := pass.Resolve(ctx, *o.partOf)
		if err != nil {
			return nil, err
		}
		o.ParentOrgName = name
		return o, nil
	}
}

// -- Provider directory --

// ListProviders merges organizations and practitioners whose name matches
// into one list ordered by display name. Both collections are aggregated,
// so the directory is bounded by the aggregate limit of each.
func (s *Service) ListProviders(ctx context.Context, params pagination.Params, name string) (paging.Page[Provider], error) {
	criteria := map[string]string{}
	if name = strings.TrimSpace(name); name != "" {
		criteria["name"] = name
	}

	var merged []Provider
	var pageSize int
	for _, src := range []struct{ resourceType, kind string }{
		{"Organization", ProviderOrganization},
		{"Practitioner", ProviderPractitioner},
	} {
		q, err := s.registry.Query(src.resourceType, criteria, params.PageSize)
		if err != nil {
			return paging.Page[Provider]{}, err
		}
		if pageSize == 0 {
			pageSize = q.PageSize()
		}
		items, err := paging.Aggregate(ctx, s.aggregator, q, paging.Converter[Provider](providerConverter(src.resourceType, src.kind)))
		if err != nil {
			return paging.Page[Provider]{}, err
		}
		merged = append(merged, items...)
	}

	slices.SortStableFunc(merged, compareProviders)
	s.logger.Debug().Int("providers", len(merged)).Str("name", name).Msg("provider directory assembled")
	return paging.Slice(merged, params.Page, pageSize, params.ShowAll)
}

func compareProviders(a, b Provider) int {
	return cmp.Or(
		cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)),
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.ID, b.ID),
	)
}
