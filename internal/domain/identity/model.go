package identity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ehr/fhirgateway/internal/platform/fhir"
	"github.com/ehr/fhirgateway/internal/reference"
)

// Identifier is a business identifier such as an MRN or NPI.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value"`
	Use    string `json:"use,omitempty"`
}

// Patient is the gateway view of a remote Patient record.
type Patient struct {
	ID          string       `json:"id"`
	Active      bool         `json:"active"`
	SecondaryID string       `json:"secondary_id,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
	Prefix      string       `json:"prefix,omitempty"`
	FirstName   string       `json:"first_name"`
	MiddleName  string       `json:"middle_name,omitempty"`
	LastName    string       `json:"last_name"`
	Suffix      string       `json:"suffix,omitempty"`
	BirthDate   string       `json:"birth_date,omitempty"`
	Gender      string       `json:"gender,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Email       string       `json:"email,omitempty"`
	City        string       `json:"city,omitempty"`
	State       string       `json:"state,omitempty"`
	PostalCode  string       `json:"postal_code,omitempty"`

	ManagingOrgID   string `json:"managing_org_id,omitempty"`
	ManagingOrgName string `json:"managing_org_name,omitempty"`

	// DuplicateOf is set on create when the record matched an existing one
	// and took over its secondary identifier.
	DuplicateOf string `json:"duplicate_of,omitempty"`

	managingOrg *reference.Reference
}

type patientResource struct {
	ID                   string              `json:"id"`
	Active               *bool               `json:"active"`
	Identifier           []fhir.Identifier   `json:"identifier"`
	Name                 []fhir.HumanName    `json:"name"`
	BirthDate            string              `json:"birthDate"`
	Gender               string              `json:"gender"`
	Telecom              []fhir.ContactPoint `json:"telecom"`
	Address              []fhir.Address      `json:"address"`
	ManagingOrganization *fhir.Reference     `json:"managingOrganization"`
}

// PatientFromFHIR decodes a Patient resource. The identifier in
// secondarySystem becomes SecondaryID.
func PatientFromFHIR(raw json.RawMessage, secondarySystem string) (*Patient, error) {
	var r patientResource
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode patient: %w", err)
	}

	p := &Patient{
		ID:        r.ID,
		Active:    r.Active == nil || *r.Active,
		BirthDate: r.BirthDate,
		Gender:    r.Gender,
	}
	for _, id := range r.Identifier {
		if secondarySystem != "" && id.System == secondarySystem {
			p.SecondaryID = id.Value
			continue
		}
		p.Identifiers = append(p.Identifiers, Identifier{System: id.System, Value: id.Value, Use: id.Use})
	}
	if n, ok := fhir.PreferredName(r.Name); ok {
		p.Prefix = first(n.Prefix)
		p.FirstName = first(n.Given)
		if len(n.Given) > 1 {
			p.MiddleName = strings.Join(n.Given[1:], " ")
		}
		p.LastName = n.Family
		p.Suffix = first(n.Suffix)
	}
	p.Phone, p.Email = contacts(r.Telecom)
	if len(r.Address) > 0 {
		a := r.Address[0]
		p.City, p.State, p.PostalCode = a.City, a.State, a.PostalCode
	}
	if r.ManagingOrganization != nil {
		ref := reference.Parse(*r.ManagingOrganization)
		p.managingOrg = &ref
		p.ManagingOrgID = ref.TargetID
		p.ManagingOrgName = ref.Display
	}
	return p, nil
}

// ToFHIR renders the Patient resource, with SecondaryID stored under
// secondarySystem.
func (p *Patient) ToFHIR(secondarySystem string) map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "Patient",
		"active":       p.Active,
	}
	if p.ID != "" {
		result["id"] = p.ID
	}

	name := fhir.HumanName{Use: "official", Family: p.LastName, Given: []string{p.FirstName}}
	if p.MiddleName != "" {
		name.Given = append(name.Given, strings.Fields(p.MiddleName)...)
	}
	if p.Prefix != "" {
		name.Prefix = []string{p.Prefix}
	}
	if p.Suffix != "" {
		name.Suffix = []string{p.Suffix}
	}
	result["name"] = []fhir.HumanName{name}

	var identifiers []fhir.Identifier
	for _, id := range p.Identifiers {
		identifiers = append(identifiers, fhir.Identifier{System: id.System, Value: id.Value, Use: id.Use})
	}
	if p.SecondaryID != "" && secondarySystem != "" {
		identifiers = append(identifiers, fhir.Identifier{Use: "secondary", System: secondarySystem, Value: p.SecondaryID})
	}
	if len(identifiers) > 0 {
		result["identifier"] = identifiers
	}

	if p.BirthDate != "" {
		result["birthDate"] = p.BirthDate
	}
	if p.Gender != "" {
		result["gender"] = p.Gender
	}
	if telecom := telecom(p.Phone, p.Email); len(telecom) > 0 {
		result["telecom"] = telecom
	}
	if p.City != "" || p.State != "" || p.PostalCode != "" {
		result["address"] = []fhir.Address{{City: p.City, State: p.State, PostalCode: p.PostalCode}}
	}
	if p.ManagingOrgID != "" {
		result["managingOrganization"] = fhir.Reference{
			Reference: fhir.FormatReference("Organization", p.ManagingOrgID),
			Display:   p.ManagingOrgName,
		}
	}
	return result
}

// Practitioner is the gateway view of a remote Practitioner record.
type Practitioner struct {
	ID          string       `json:"id"`
	Active      bool         `json:"active"`
	DisplayName string       `json:"display_name"`
	Prefix      string       `json:"prefix,omitempty"`
	FirstName   string       `json:"first_name"`
	LastName    string       `json:"last_name"`
	Suffix      string       `json:"suffix,omitempty"`
	NPI         string       `json:"npi,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
	Gender      string       `json:"gender,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Email       string       `json:"email,omitempty"`
	Specialty   string       `json:"specialty,omitempty"`
}

// NPISystem is the US National Provider Identifier system.
const NPISystem = "http://hl7.org/fhir/sid/us-npi"

// PractitionerFromFHIR decodes a Practitioner resource.
func PractitionerFromFHIR(raw json.RawMessage) (*Practitioner, error) {
	var r struct {
		ID            string              `json:"id"`
		Active        *bool               `json:"active"`
		Identifier    []fhir.Identifier   `json:"identifier"`
		Name          []fhir.HumanName    `json:"name"`
		Gender        string              `json:"gender"`
		Telecom       []fhir.ContactPoint `json:"telecom"`
		Qualification []struct {
			Code fhir.CodeableConcept `json:"code"`
		} `json:"qualification"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode practitioner: %w", err)
	}

	p := &Practitioner{ID: r.ID, Active: r.Active == nil || *r.Active, Gender: r.Gender}
	if n, ok := fhir.PreferredName(r.Name); ok {
		p.DisplayName = n.Format()
		p.Prefix = first(n.Prefix)
		p.FirstName = first(n.Given)
		p.LastName = n.Family
		p.Suffix = first(n.Suffix)
	}
	for _, id := range r.Identifier {
		if id.System == NPISystem && p.NPI == "" {
			p.NPI = id.Value
		}
		p.Identifiers = append(p.Identifiers, Identifier{System: id.System, Value: id.Value, Use: id.Use})
	}
	p.Phone, p.Email = contacts(r.Telecom)
	if len(r.Qualification) > 0 {
		p.Specialty = r.Qualification[0].Code.Label()
	}
	return p, nil
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

func contacts(points []fhir.ContactPoint) (phone, email string) {
	for _, cp := range points {
		switch {
		case cp.System == "phone" && phone == "":
			phone = cp.Value
		case cp.System == "email" && email == "":
			email = cp.Value
		}
	}
	return phone, email
}

func telecom(phone, email string) []fhir.ContactPoint {
	var out []fhir.ContactPoint
	if phone != "" {
		out = append(out, fhir.ContactPoint{System: "phone", Value: phone})
	}
	if email != "" {
		out = append(out, fhir.ContactPoint{System: "email", Value: email})
	}
	return out
}
