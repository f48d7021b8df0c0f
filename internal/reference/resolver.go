package reference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/platform/fhir"
)

// Reader reads one record from the remote collection.
type Reader interface {
	Read(ctx context.Context, resourceType, id string) (json.RawMessage, error)
}

// Resolver hands out resolution passes backed by remote reads.
type Resolver struct {
	reader Reader
	logger zerolog.Logger
}

func NewResolver(reader Reader, logger zerolog.Logger) *Resolver {
	return &Resolver{
		reader: reader,
		logger: logger.With().Str("component", "reference-resolver").Logger(),
	}
}

// NewPass starts a resolution pass with an empty cache.
func (r *Resolver) NewPass() *Pass {
	return &Pass{resolver: r, cache: NewCache()}
}

// Pass resolves references for one response.
type Pass struct {
	resolver *Resolver
	cache    *Cache
}

// Display resolves a wire reference. A nil reference resolves to "".
func (p *Pass) Display(ctx context.Context, ref *fhir.Reference) (string, error) {
	if ref == nil {
		return "", nil
	}
	return p.Resolve(ctx, Parse(*ref))
}

// Resolve resolves a parsed reference.
func (p *Pass) Resolve(ctx context.Context, ref Reference) (string, error) {
	return Resolve(ctx, p.cache, ref, p.resolver.fetch)
}

// Cached returns how many targets this pass has resolved.
func (p *Pass) Cached() int {
	return p.cache.Len()
}

func (r *Resolver) fetch(ctx context.Context, ref Reference) (string, error) {
	raw, err := r.reader.Read(ctx, ref.TargetType, ref.TargetID)
	if err != nil {
		r.logger.Warn().Err(err).Str("reference", ref.Key()).Msg("reference target read failed")
		return "", err
	}
	display, err := DisplayOf(ref.TargetType, raw)
	if err != nil {
		return "", err
	}
	if display == "" {
		display = ref.Key()
	}
	return display, nil
}

// DisplayOf extracts the canonical display of a record: the preferred human
// name for people, name for places and organizations, device name for
// devices. Other types and records without such a field yield "".
func DisplayOf(resourceType string, raw json.RawMessage) (string, error) {
	switch resourceType {
	case "Patient", "Practitioner", "RelatedPerson":
		var rec struct {
			Name []fhir.HumanName `json:"name"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return "", fmt.Errorf("decode %s: %w", resourceType, err)
		}
		if n, ok := fhir.PreferredName(rec.Name); ok {
			return n.Format(), nil
		}
	case "Organization", "Location", "HealthcareService":
		var rec struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return "", fmt.Errorf("decode %s: %w", resourceType, err)
		}
		return strings.TrimSpace(rec.Name), nil
	case "Device":
		var rec struct {
			DeviceName []struct {
				Name string `json:"name"`
			} `json:"deviceName"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return "", fmt.Errorf("decode %s: %w", resourceType, err)
		}
		for _, dn := range rec.DeviceName {
			if s := strings.TrimSpace(dn.Name); s != "" {
				return s, nil
			}
		}
	}
	return "", nil
}
