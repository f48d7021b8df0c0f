package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/paging"
	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/platform/fhir"
	"github.com/ehr/fhirgateway/internal/platform/metrics"
	"github.com/ehr/fhirgateway/internal/query"
)

// Config controls secondary identifier handling.
type Config struct {
	// SecondaryIDSystem is the identifier system holding the secondary id.
	SecondaryIDSystem string
	SecondaryIDPrefix string
	SecondaryIDLength int
}

// coarseCollection narrows Patients on fields whose remote comparison needs
// no normalization.
var coarseCollection = query.Collection{
	Type:            "Patient",
	DefaultPageSize: 100,
	MaxPageSize:     100,
	Params: map[string]query.MatchKind{
		"birthdate":  query.MatchCode,
		"gender":     query.MatchCode,
		"identifier": query.MatchCode,
	},
}

// Checker runs duplicate checks for Patient writes.
type Checker struct {
	aggregator *paging.ResultAggregator
	matcher    *Matcher
	cfg        Config
	logger     zerolog.Logger
}

// NewChecker builds a Checker using the default policy.
func NewChecker(aggregator *paging.ResultAggregator, cfg Config, logger zerolog.Logger) *Checker {
	m, _ := NewMatcher()
	return &Checker{
		aggregator: aggregator,
		matcher:    m,
		cfg:        cfg,
		logger:     logger.With().Str("component", "dedup").Logger(),
	}
}

// CheckDuplicate looks for an existing record matching candidate on fields
// (the default policy when none are given). The candidate itself, identified
// by its ID, is never reported as its own duplicate.
func (c *Checker) CheckDuplicate(ctx context.Context, candidate Candidate, fields ...Field) (existingID string, found bool, err error) {
	m := c.matcher
	if len(fields) > 0 {
		if m, err = NewMatcher(fields...); err != nil {
			return "", false, apperror.BadRequest("%v", err)
		}
	}
	match, found, err := c.find(ctx, m, candidate)
	if err != nil {
		return "", false, err
	}
	if !found {
		metrics.DuplicateChecksTotal.WithLabelValues("no_match").Inc()
		return "", false, nil
	}
	metrics.DuplicateChecksTotal.WithLabelValues("match").Inc()
	return match.ID, true, nil
}

// CreateDecision is the outcome of a duplicate check before a create.
type CreateDecision struct {
	// SecondaryID is the secondary identifier the new record must carry.
	SecondaryID string
	// DuplicateOf is the id of the matched record, if any.
	DuplicateOf string
}

// Reused reports whether the secondary id came from an existing record.
func (d CreateDecision) Reused() bool {
	return d.DuplicateOf != ""
}

// PrepareCreate decides the secondary identifier for a new record: a
// duplicate's identifier is reused, otherwise a new one is minted.
func (c *Checker) PrepareCreate(ctx context.Context, candidate Candidate) (CreateDecision, error) {
	match, found, err := c.find(ctx, c.matcher, candidate)
	if err != nil {
		return CreateDecision{}, err
	}
	if found && match.SecondaryID != "" {
		metrics.DuplicateChecksTotal.WithLabelValues("match").Inc()
		c.logger.Info().Str("duplicate_of", match.ID).Msg("create matches an existing patient, reusing secondary id")
		return CreateDecision{SecondaryID: match.SecondaryID, DuplicateOf: match.ID}, nil
	}

	id, err := MintSecondaryID(c.cfg.SecondaryIDPrefix, c.cfg.SecondaryIDLength)
	if err != nil {
		return CreateDecision{}, err
	}
	if found {
		// The match carries no secondary id to reuse.
		metrics.DuplicateChecksTotal.WithLabelValues("match").Inc()
		return CreateDecision{SecondaryID: id, DuplicateOf: match.ID}, nil
	}
	metrics.DuplicateChecksTotal.WithLabelValues("no_match").Inc()
	return CreateDecision{SecondaryID: id}, nil
}

// CheckUpdate rejects an update that would make record id a duplicate of a
// different record. Matching the record itself is allowed.
func (c *Checker) CheckUpdate(ctx context.Context, id string, candidate Candidate) error {
	candidate.ID = id
	match, found, err := c.find(ctx, c.matcher, candidate)
	if err != nil {
		return err
	}
	if found {
		metrics.DuplicateChecksTotal.WithLabelValues("conflict").Inc()
		return apperror.DuplicateConflict("patient %s would duplicate existing patient %s", id, match.ID)
	}
	metrics.DuplicateChecksTotal.WithLabelValues("no_match").Inc()
	return nil
}

// find fetches the coarse candidate set and applies m. The record carrying
// the candidate's own ID is skipped.
func (c *Checker) find(ctx context.Context, m *Matcher, candidate Candidate) (Candidate, bool, error) {
	q, ok, err := c.coarseQuery(m, candidate)
	if err != nil || !ok {
		return Candidate{}, false, err
	}

	set, err := paging.Aggregate(ctx, c.aggregator, q, func(raw json.RawMessage) (Candidate, error) {
		return FromPatient(raw, c.cfg.SecondaryIDSystem)
	})
	if err != nil {
		return Candidate{}, false, fmt.Errorf("load duplicate candidates: %w", err)
	}
	if candidate.ID != "" {
		set = slices.DeleteFunc(set, func(s Candidate) bool { return s.ID == candidate.ID })
	}

	match, found := m.FindMatch(candidate, set)
	if found {
		c.logger.Debug().Str("match", match.ID).Int("candidates", len(set)).Msg("duplicate found")
	}
	return match, found, nil
}

// coarseQuery narrows on birthdate and gender when the policy uses them.
// Identifiers are searched remotely only when neither is available, since the
// remote token match is exact and misses punctuation variants that Normalize
// folds together. ok is false when a required field is blank on the
// candidate, since such a candidate cannot match anything.
func (c *Checker) coarseQuery(m *Matcher, candidate Candidate) (query.Query, bool, error) {
	b := query.NewBuilder(coarseCollection).SortBy("_id")
	narrowed := false
	for _, f := range m.Fields() {
		switch f {
		case FieldIdentifier:
			if len(candidate.Identifiers) == 0 {
				return query.Query{}, false, nil
			}
		case FieldGiven:
			if Normalize(candidate.Given) == "" {
				return query.Query{}, false, nil
			}
		case FieldFamily:
			if Normalize(candidate.Family) == "" {
				return query.Query{}, false, nil
			}
		case FieldBirthDate:
			if candidate.BirthDate == "" {
				return query.Query{}, false, nil
			}
			b.Where("birthdate", candidate.BirthDate)
			narrowed = true
		case FieldGender:
			if Normalize(candidate.Gender) == "" {
				return query.Query{}, false, nil
			}
			b.Where("gender", Normalize(candidate.Gender))
			narrowed = true
		}
	}
	if !narrowed && slices.Contains(m.Fields(), FieldIdentifier) {
		if tokens, ok := identifierTokens(candidate.Identifiers); ok {
			b.Where("identifier", tokens)
		}
	}
	q, err := b.Build()
	return q, err == nil, err
}

// identifierTokens renders ids as an ORed identifier search value. ok is
// false when a value would need escaping.
func identifierTokens(ids []fhir.Identifier) (string, bool) {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		value := strings.TrimSpace(id.Value)
		if value == "" {
			continue
		}
		if strings.ContainsAny(value, ",|$\\") || strings.ContainsAny(id.System, ",|$\\") {
			return "", false
		}
		if id.System != "" {
			value = id.System + "|" + value
		}
		tokens = append(tokens, value)
	}
	return strings.Join(tokens, ","), len(tokens) > 0
}
