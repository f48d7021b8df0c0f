package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/dedup"
	"github.com/ehr/fhirgateway/internal/paging"
	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/query"
	"github.com/ehr/fhirgateway/internal/reference"
	"github.com/ehr/fhirgateway/pkg/fhirmodels"
	"github.com/ehr/fhirgateway/pkg/pagination"
)

// Remote is the part of the FHIR server API the identity services use.
type Remote interface {
	paging.Remote
	reference.Reader
	Create(ctx context.Context, resourceType string, resource json.RawMessage) (string, error)
	Update(ctx context.Context, resourceType, id string, resource json.RawMessage) error
}

type Service struct {
	remote          Remote
	registry        *query.Registry
	patients        *paging.Pager[*Patient]
	practitioners   *paging.Pager[*Practitioner]
	resolver        *reference.Resolver
	dedup           *dedup.Checker
	secondarySystem string
	logger          zerolog.Logger
}

func NewService(
	remote Remote,
	registry *query.Registry,
	aggregator *paging.ResultAggregator,
	resolver *reference.Resolver,
	checker *dedup.Checker,
	secondarySystem string,
	logger zerolog.Logger,
) *Service {
	logger = logger.With().Str("component", "identity").Logger()
	return &Service{
		remote:   remote,
		registry: registry,
		patients: paging.NewPager[*Patient](remote, aggregator, func(raw json.RawMessage) (*Patient, error) {
			return PatientFromFHIR(raw, secondarySystem)
		}, logger),
		practitioners:   paging.NewPager[*Practitioner](remote, aggregator, PractitionerFromFHIR, logger),
		resolver:        resolver,
		dedup:           checker,
		secondarySystem: secondarySystem,
		logger:          logger,
	}
}

// -- Patient --

func (s *Service) ListPatients(ctx context.Context, params pagination.Params, criteria map[string]string) (paging.Page[*Patient], error) {
	if g, ok := criteria["gender"]; ok && !fhirmodels.ValidGender(g) {
		return paging.Page[*Patient]{}, apperror.BadRequest("invalid gender %q", g)
	}
	q, err := s.registry.Query("Patient", criteria, params.PageSize)
	if err != nil {
		return paging.Page[*Patient]{}, err
	}
	return s.patients.GetPage(ctx, paging.Request[*Patient]{
		Query:      q,
		PageNumber: params.Page,
		ShowAll:    params.ShowAll,
		Enrich:     s.enrichPatient(s.resolver.NewPass()),
	})
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	raw, err := s.remote.Read(ctx, "Patient", id)
	if err != nil {
		return nil, err
	}
	p, err := PatientFromFHIR(raw, s.secondarySystem)
	if err != nil {
		return nil, err
	}
	return s.enrichPatient(s.resolver.NewPass())(ctx, p)
}

// CreatePatient writes a new Patient. A duplicate of an existing record is
// still created, but carries the existing record's secondary identifier.
func (s *Service) CreatePatient(ctx context.Context, p *Patient) (*Patient, error) {
	if err := validatePatient(p); err != nil {
		return nil, err
	}
	p.ID = ""
	p.managingOrg = nil
	if _, err := s.enrichPatient(s.resolver.NewPass())(ctx, p); err != nil {
		return nil, err
	}

	candidate, err := s.candidate(p)
	if err != nil {
		return nil, err
	}
	decision, err := s.dedup.PrepareCreate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	p.SecondaryID = decision.SecondaryID
	p.DuplicateOf = decision.DuplicateOf

	body, err := json.Marshal(p.ToFHIR(s.secondarySystem))
	if err != nil {
		return nil, fmt.Errorf("encode patient: %w", err)
	}
	id, err := s.remote.Create(ctx, "Patient", body)
	if err != nil {
		return nil, err
	}
	p.ID = id

	s.logger.Info().
		Str("patient_id", id).
		Bool("secondary_id_reused", decision.Reused()).
		Msg("patient created")
	return p, nil
}

// UpdatePatient replaces Patient id. The update is refused when it would make
// the record a duplicate of a different one.
func (s *Service) UpdatePatient(ctx context.Context, id string, p *Patient) (*Patient, error) {
	if err := validatePatient(p); err != nil {
		return nil, err
	}
	existing, err := s.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	p.ID = id
	// The secondary id is assigned at creation and never taken from a body.
	p.SecondaryID = existing.SecondaryID
	p.managingOrg = nil
	if _, err := s.enrichPatient(s.resolver.NewPass())(ctx, p); err != nil {
		return nil, err
	}

	candidate, err := s.candidate(p)
	if err != nil {
		return nil, err
	}
	if err := s.dedup.CheckUpdate(ctx, id, candidate); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.ToFHIR(s.secondarySystem))
	if err != nil {
		return nil, fmt.Errorf("encode patient: %w", err)
	}
	if err := s.remote.Update(ctx, "Patient", id, body); err != nil {
		return nil, err
	}
	return p, nil
}

// MatchPatient reports an existing record that p duplicates under the given
// fields, or under the default policy when fields is empty.
func (s *Service) MatchPatient(ctx context.Context, p *Patient, fields []dedup.Field) (string, bool, error) {
	candidate, err := s.candidate(p)
	if err != nil {
		return "", false, err
	}
	return s.dedup.CheckDuplicate(ctx, candidate, fields...)
}

func (s *Service) candidate(p *Patient) (dedup.Candidate, error) {
	raw, err := json.Marshal(p.ToFHIR(s.secondarySystem))
	if err != nil {
		return dedup.Candidate{}, fmt.Errorf("encode patient: %w", err)
	}
	return dedup.FromPatient(raw, s.secondarySystem)
}

// enrichPatient resolves the managing organization's name. A Patient decoded
// from the server resolves its stored reference; one built from a request
// body resolves ManagingOrgID.
func (s *Service) enrichPatient(pass *reference.Pass) func(context.Context, *Patient) (*Patient, error) {
	return func(ctx context.Context, p *Patient) (*Patient, error) {
		if p.managingOrg == nil && p.ManagingOrgID != "" {
			p.managingOrg = &reference.Reference{TargetType: "Organization", TargetID: p.ManagingOrgID}
		}
		if p.managingOrg == nil {
			return p, nil
		}
		name, err := pass.Resolve(ctx, *p.managingOrg)
		if err != nil {
			return nil, err
		}
		p.ManagingOrgName = name
		return p, nil
	}
}

func validatePatient(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return apperror.BadRequest("first_name and last_name are required")
	}
	if p.Gender != "" && !fhirmodels.ValidGender(p.Gender) {
		return apperror.BadRequest("invalid gender %q", p.Gender)
	}
	if p.BirthDate != "" {
		if _, err := time.Parse("2006-01-02", p.BirthDate); err != nil {
			return apperror.BadRequest("birth_date must be YYYY-MM-DD, got %q", p.BirthDate)
		}
	}
	for _, id := range p.Identifiers {
		if strings.TrimSpace(id.Value) == "" {
			return apperror.BadRequest("identifier value is required")
		}
	}
	return nil
}

// -- Practitioner --

func (s *Service) ListPractitioners(ctx context.Context, params pagination.Params, criteria map[string]string) (paging.Page[*Practitioner], error) {
	q, err := s.registry.Query("Practitioner", criteria, params.PageSize)
	if err != nil {
		return paging.Page[*Practitioner]{}, err
	}
	return s.practitioners.GetPage(ctx, paging.Request[*Practitioner]{
		Query:      q,
		PageNumber: params.Page,
		ShowAll:    params.ShowAll,
	})
}

func (s *Service) GetPractitioner(ctx context.Context, id string) (*Practitioner, error) {
	raw, err := s.remote.Read(ctx, "Practitioner", id)
	if err != nil {
		return nil, err
	}
	return PractitionerFromFHIR(raw)
}
