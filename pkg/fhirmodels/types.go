package fhirmodels

// Common FHIR value set constants used across the application.

// EncounterStatus values per FHIR R4.
const (
	EncounterStatusPlanned        = "planned"
	EncounterStatusArrived        = "arrived"
	EncounterStatusTriaged        = "triaged"
	EncounterStatusInProgress     = "in-progress"
	EncounterStatusOnLeave        = "onleave"
	EncounterStatusFinished       = "finished"
	EncounterStatusCancelled      = "cancelled"
	EncounterStatusEnteredInError = "entered-in-error"
	EncounterStatusUnknown        = "unknown"
)

var encounterStatuses = map[string]bool{
	EncounterStatusPlanned:        true,
	EncounterStatusArrived:        true,
	EncounterStatusTriaged:        true,
	EncounterStatusInProgress:     true,
	EncounterStatusOnLeave:        true,
	EncounterStatusFinished:       true,
	EncounterStatusCancelled:      true,
	EncounterStatusEnteredInError: true,
	EncounterStatusUnknown:        true,
}

// ValidEncounterStatus reports whether s is an R4 Encounter.status code.
func ValidEncounterStatus(s string) bool {
	return encounterStatuses[s]
}

// ParticipantType codes.
const (
	ParticipantAttender   = "ATND"
	ParticipantAdmitter   = "ADM"
	ParticipantConsultant = "CON"
	ParticipantReferrer   = "REF"
	ParticipantPrimary    = "PPRF"
)

// AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// ValidGender reports whether s is an AdministrativeGender code.
func ValidGender(s string) bool {
	switch s {
	case GenderMale, GenderFemale, GenderOther, GenderUnknown:
		return true
	}
	return false
}
