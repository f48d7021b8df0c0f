package encounter

import (
	"context"
	"maps"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/paging"
	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/query"
	"github.com/ehr/fhirgateway/internal/reference"
	"github.com/ehr/fhirgateway/pkg/fhirmodels"
	"github.com/ehr/fhirgateway/pkg/pagination"
)

// ParamPractitionerName filters on the resolved participant names. The
// remote server cannot evaluate it, so it forces aggregation.
const ParamPractitionerName = "practitioner_name"

// Remote is the part of the FHIR server API the encounter service uses.
type Remote interface {
	paging.Remote
	reference.Reader
}

type Service struct {
	remote   Remote
	registry *query.Registry
	pager    *paging.Pager[*Encounter]
	resolver *reference.Resolver
	logger   zerolog.Logger
}

func NewService(remote Remote, registry *query.Registry, aggregator *paging.ResultAggregator, resolver *reference.Resolver, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "encounter").Logger()
	return &Service{
		remote:   remote,
		registry: registry,
		pager:    paging.NewPager[*Encounter](remote, aggregator, FromFHIR, logger),
		resolver: resolver,
		logger:   logger,
	}
}

func (s *Service) ListEncounters(ctx context.Context, params pagination.Params, criteria map[string]string) (paging.Page[*Encounter], error) {
	remote := maps.Clone(criteria)
	if remote == nil {
		remote = map[string]string{}
	}
	practitionerName, byName := remote[ParamPractitionerName]
	delete(remote, ParamPractitionerName)
	practitionerName = strings.TrimSpace(practitionerName)
	if byName && practitionerName == "" {
		return paging.Page[*Encounter]{}, apperror.BadRequest("filter %q requires a value", ParamPractitionerName)
	}

	if status, ok := remote["status"]; ok {
		for _, st := range strings.Split(status, ",") {
			if !fhirmodels.ValidEncounterStatus(strings.TrimSpace(st)) {
				return paging.Page[*Encounter]{}, apperror.BadRequest("invalid encounter status %q", st)
			}
		}
	}

	q, err := s.registry.Query("Encounter", remote, params.PageSize)
	if err != nil {
		return paging.Page[*Encounter]{}, err
	}
	pass := s.resolver.NewPass()
	req := paging.Request[*Encounter]{
		Query:      q,
		PageNumber: params.Page,
		ShowAll:    params.ShowAll,
		Enrich:     enrich(pass),
	}
	if byName {
		req.Filter = participantNamed(practitionerName)
	}
	page, err := s.pager.GetPage(ctx, req)
	if err != nil {
		return paging.Page[*Encounter]{}, err
	}
	s.logger.Debug().Int("items", len(page.Items)).Int("resolved_targets", pass.Cached()).Msg("encounter page resolved")
	return page, nil
}

func (s *Service) GetEncounter(ctx context.Context, id string) (*Encounter, error) {
	raw, err := s.remote.Read(ctx, "Encounter", id)
	if err != nil {
		return nil, err
	}
	e, err := FromFHIR(raw)
	if err != nil {
		return nil, err
	}
	return enrich(s.resolver.NewPass())(ctx, e)
}

// participantNamed matches encounters with a participant whose resolved name
// contains name, ignoring case.
func participantNamed(name string) func(*Encounter) bool {
	name = strings.ToLower(name)
	return func(e *Encounter) bool {
		for _, p := range e.Participants {
			if strings.Contains(strings.ToLower(p.Name), name) {
				return true
			}
		}
		return false
	}
}

// enrich resolves every reference on the encounter through one pass, so
// encounters sharing a patient or practitioner read it once.
func enrich(pass *reference.Pass) func(context.Context, *Encounter) (*Encounter, error) {
	return func(ctx context.Context, e *Encounter) (*Encounter, error) {
		var err error
		if e.subject != nil {
			if e.PatientName, err = pass.Resolve(ctx, *e.subject); err != nil {
				return nil, err
			}
		}
		for i := range e.Participants {
			if e.Participants[i].Name, err = pass.Resolve(ctx, e.Participants[i].ref); err != nil {
				return nil, err
			}
		}
		if e.serviceProvider != nil {
			if e.ServiceProviderName, err = pass.Resolve(ctx, *e.serviceProvider); err != nil {
				return nil, err
			}
		}
		for i, ref := range e.locations {
			if e.Locations[i], err = pass.Resolve(ctx, ref); err != nil {
				return nil, err
			}
		}
		return e, nil
	}
}
