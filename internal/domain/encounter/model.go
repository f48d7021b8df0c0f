package encounter

import (
	"encoding/json"
	"fmt"

	"github.com/ehr/fhirgateway/internal/platform/fhir"
	"github.com/ehr/fhirgateway/internal/reference"
)

// Participant is one practitioner taking part in an encounter.
type Participant struct {
	PractitionerID string `json:"practitioner_id,omitempty"`
	Name           string `json:"name"`
	TypeCode       string `json:"type_code,omitempty"`
	TypeDisplay    string `json:"type_display,omitempty"`

	ref reference.Reference
}

// Encounter is the gateway view of a remote Encounter record, with the
// subject, participants, service provider and locations denormalized to
// display names.
type Encounter struct {
	ID                  string        `json:"id"`
	Status              string        `json:"status"`
	ClassCode           string        `json:"class_code,omitempty"`
	ClassDisplay        string        `json:"class_display,omitempty"`
	TypeCode            string        `json:"type_code,omitempty"`
	TypeDisplay         string        `json:"type_display,omitempty"`
	ServiceType         string        `json:"service_type,omitempty"`
	PatientID           string        `json:"patient_id,omitempty"`
	PatientName         string        `json:"patient_name,omitempty"`
	Participants        []Participant `json:"participants"`
	ServiceProviderID   string        `json:"service_provider_id,omitempty"`
	ServiceProviderName string        `json:"service_provider_name,omitempty"`
	Locations           []string      `json:"locations,omitempty"`
	PeriodStart         string        `json:"period_start,omitempty"`
	PeriodEnd           string        `json:"period_end,omitempty"`
	ReasonText          string        `json:"reason_text,omitempty"`

	subject         *reference.Reference
	serviceProvider *reference.Reference
	locations       []reference.Reference
}

// FromFHIR decodes an Encounter resource. Reference displays hold the stored
// hints until the encounter is enriched.
func FromFHIR(raw json.RawMessage) (*Encounter, error) {
	var r struct {
		ID          string                 `json:"id"`
		Status      string                 `json:"status"`
		Class       *fhir.Coding           `json:"class"`
		Type        []fhir.CodeableConcept `json:"type"`
		ServiceType *fhir.CodeableConcept  `json:"serviceType"`
		Subject     *fhir.Reference        `json:"subject"`
		Participant []struct {
			Type       []fhir.CodeableConcept `json:"type"`
			Individual *fhir.Reference        `json:"individual"`
		} `json:"participant"`
		Period          *fhir.Period           `json:"period"`
		ReasonCode      []fhir.CodeableConcept `json:"reasonCode"`
		ServiceProvider *fhir.Reference        `json:"serviceProvider"`
		Location        []struct {
			Location fhir.Reference `json:"location"`
		} `json:"location"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode encounter: %w", err)
	}

	e := &Encounter{ID: r.ID, Status: r.Status, Participants: []Participant{}}
	if r.Class != nil {
		e.ClassCode, e.ClassDisplay = r.Class.Code, r.Class.Display
	}
	if len(r.Type) > 0 {
		e.TypeDisplay = r.Type[0].Label()
		if len(r.Type[0].Coding) > 0 {
			e.TypeCode = r.Type[0].Coding[0].Code
		}
	}
	e.ServiceType = r.ServiceType.Label()
	if r.Subject != nil {
		ref := reference.Parse(*r.Subject)
		e.subject = &ref
		e.PatientID, e.PatientName = ref.TargetID, ref.Display
	}
	for _, p := range r.Participant {
		if p.Individual == nil {
			continue
		}
		ref := reference.Parse(*p.Individual)
		part := Participant{PractitionerID: ref.TargetID, Name: ref.Display, ref: ref}
		if len(p.Type) > 0 {
			part.TypeDisplay = p.Type[0].Label()
			if len(p.Type[0].Coding) > 0 {
				part.TypeCode = p.Type[0].Coding[0].Code
			}
		}
		e.Participants = append(e.Participants, part)
	}
	if r.ServiceProvider != nil {
		ref := reference.Parse(*r.ServiceProvider)
		e.serviceProvider = &ref
		e.ServiceProviderID, e.ServiceProviderName = ref.TargetID, ref.Display
	}
	for _, l := range r.Location {
		ref := reference.Parse(l.Location)
		e.locations = append(e.locations, ref)
		e.Locations = append(e.Locations, ref.Display)
	}
	if r.Period != nil {
		e.PeriodStart, e.PeriodEnd = r.Period.Start, r.Period.End
	}
	if len(r.ReasonCode) > 0 {
		e.ReasonText = r.ReasonCode[0].Label()
	}
	return e, nil
}
