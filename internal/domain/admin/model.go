package admin

import (
	"encoding/json"
	"fmt"

	"github.com/ehr/fhirgateway/internal/platform/fhir"
	"github.com/ehr/fhirgateway/internal/reference"
)

// NPISystem is the US National Provider Identifier system.
const NPISystem = "http://hl7.org/fhir/sid/us-npi"

// Organization is the gateway view of a remote Organization record.
type Organization struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Aliases       []string `json:"aliases,omitempty"`
	TypeCode      string   `json:"type_code,omitempty"`
	TypeLabel     string   `json:"type_label,omitempty"`
	Active        bool     `json:"active"`
	NPINumber     string   `json:"npi_number,omitempty"`
	AddressLine1  string   `json:"address_line1,omitempty"`
	City          string   `json:"city,omitempty"`
	State         string   `json:"state,omitempty"`
	PostalCode    string   `json:"postal_code,omitempty"`
	Country       string   `json:"country,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	Email         string   `json:"email,omitempty"`
	Website       string   `json:"website,omitempty"`
	ParentOrgID   string   `json:"parent_org_id,omitempty"`
	ParentOrgName string   `json:"parent_org_name,omitempty"`

	partOf *reference.Reference
}

// OrganizationFromFHIR decodes an Organization resource.
func OrganizationFromFHIR(raw json.RawMessage) (*Organization, error) {
	var r struct {
		ID         string                 `json:"id"`
		Active     *bool                  `json:"active"`
		Name       string                 `json:"name"`
		Alias      []string               `json:"alias"`
		Type       []fhir.CodeableConcept `json:"type"`
		Identifier []fhir.Identifier      `json:"identifier"`
		Telecom    []fhir.ContactPoint    `json:"telecom"`
		Address    []fhir.Address         `json:"address"`
		PartOf     *fhir.Reference        `json:"partOf"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode organization: %w", err)
	}

	o := &Organization{
		ID:      r.ID,
		Name:    r.Name,
		Aliases: r.Alias,
		Active:  r.Active == nil || *r.Active,
	}
	if len(r.Type) > 0 {
		o.TypeLabel = r.Type[0].Label()
		if len(r.Type[0].Coding) > 0 {
			o.TypeCode = r.Type[0].Coding[0].Code
		}
	}
	for _, id := range r.Identifier {
		if id.System == NPISystem {
			o.NPINumber = id.Value
			break
		}
	}
	for _, cp := range r.Telecom {
		switch {
		case cp.System == "phone" && o.Phone == "":
			o.Phone = cp.Value
		case cp.System == "email" && o.Email == "":
			o.Email = cp.Value
		case cp.System == "url" && o.Website == "":
			o.Website = cp.Value
		}
	}
	if len(r.Address) > 0 {
		a := r.Address[0]
		if len(a.Line) > 0 {
			o.AddressLine1 = a.Line[0]
		}
		o.City, o.State, o.PostalCode, o.Country = a.City, a.State, a.PostalCode, a.Country
	}
	if r.PartOf != nil {
		ref := reference.Parse(*r.PartOf)
		o.partOf = &ref
		o.ParentOrgID = ref.TargetID
		o.ParentOrgName = ref.Display
	}
	return o, nil
}

// Provider kinds in the merged directory.
const (
	ProviderOrganization = "organization"
	ProviderPractitioner = "practitioner"
)

// Provider is one entry of the provider directory, which lists
// organizations and practitioners together.
type Provider struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	NPI         string `json:"npi,omitempty"`
	Active      bool   `json:"active"`
}

// providerConverter decodes directory entries of one resource type. The
// display name is the type's canonical display.
func providerConverter(resourceType, kind string) func(json.RawMessage) (Provider, error) {
	return func(raw json.RawMessage) (Provider, error) {
		var r struct {
			ID         string            `json:"id"`
			Active     *bool             `json:"active"`
			Identifier []fhir.Identifier `json:"identifier"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return Provider{}, fmt.Errorf("decode %s: %w", resourceType, err)
		}
		display, err := reference.DisplayOf(resourceType, raw)
		if err != nil {
			return Provider{}, err
		}
		if display == "" {
			display = fhir.FormatReference(resourceType, r.ID)
		}
		p := Provider{
			Kind:        kind,
			ID:          r.ID,
			DisplayName: display,
			Active:      r.Active == nil || *r.Active,
		}
		for _, id := range r.Identifier {
			if id.System == NPISystem {
				p.NPI = id.Value
				break
			}
		}
		return p, nil
	}
}
