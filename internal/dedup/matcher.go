// Package dedup detects records that describe the same real-world person
// before they are written.
//
// Identity is a conjunction of normalized field equalities. A coarse remote
// search narrows the collection to a small candidate set, and Matcher applies
// the full policy in memory, where normalization the remote server cannot do
// is possible.
package dedup

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/ehr/fhirgateway/internal/platform/fhir"
)

// Field is one predicate of a duplicate policy.
type Field string

const (
	FieldIdentifier Field = "identifier"
	FieldGiven      Field = "given"
	FieldFamily     Field = "family"
	FieldBirthDate  Field = "birthdate"
	FieldGender     Field = "gender"
)

// DefaultFields is the create/update policy.
var DefaultFields = []Field{FieldIdentifier, FieldGiven, FieldBirthDate, FieldGender}

// Candidate is the part of a person record that matching looks at.
type Candidate struct {
	ID          string
	Identifiers []fhir.Identifier // excludes the secondary identifier
	Given       string
	Family      string
	BirthDate   string
	Gender      string
	SecondaryID string
}

// FromPatient extracts a Candidate from a Patient resource. Identifiers in
// secondarySystem are treated as the secondary identifier.
func FromPatient(raw json.RawMessage, secondarySystem string) (Candidate, error) {
	var p struct {
		ID         string            `json:"id"`
		Identifier []fhir.Identifier `json:"identifier"`
		Name       []fhir.HumanName  `json:"name"`
		BirthDate  string            `json:"birthDate"`
		Gender     string            `json:"gender"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Candidate{}, fmt.Errorf("decode patient: %w", err)
	}

	c := Candidate{ID: p.ID, BirthDate: strings.TrimSpace(p.BirthDate), Gender: p.Gender}
	for _, id := range p.Identifier {
		if secondarySystem != "" && id.System == secondarySystem {
			c.SecondaryID = id.Value
			continue
		}
		c.Identifiers = append(c.Identifiers, id)
	}
	if n, ok := fhir.PreferredName(p.Name); ok {
		c.Family = n.Family
		if len(n.Given) > 0 {
			c.Given = n.Given[0]
		}
	}
	return c, nil
}

// Normalize case-folds s and strips whitespace and punctuation, so that
// "123-45 6789" and "123456789" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// A predicate never matches on an empty value: a missing field cannot
// establish identity.
type predicate func(a, b Candidate) bool

var predicates = map[Field]predicate{
	FieldIdentifier: identifierEqual,
	FieldGiven:      func(a, b Candidate) bool { return normalizedEqual(a.Given, b.Given) },
	FieldFamily:     func(a, b Candidate) bool { return normalizedEqual(a.Family, b.Family) },
	FieldBirthDate:  func(a, b Candidate) bool { return a.BirthDate != "" && a.BirthDate == b.BirthDate },
	FieldGender:     func(a, b Candidate) bool { return normalizedEqual(a.Gender, b.Gender) },
}

func normalizedEqual(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

func identifierEqual(a, b Candidate) bool {
	for _, x := range a.Identifiers {
		for _, y := range b.Identifiers {
			if normalizedEqual(x.Value, y.Value) && Normalize(x.System) == Normalize(y.System) {
				return true
			}
		}
	}
	return false
}

// Matcher applies a conjunction of field predicates.
type Matcher struct {
	fields []Field
}

// NewMatcher builds a matcher for fields, or DefaultFields when none are given.
func NewMatcher(fields ...Field) (*Matcher, error) {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	for _, f := range fields {
		if _, ok := predicates[f]; !ok {
			return nil, fmt.Errorf("unknown duplicate field %q", f)
		}
	}
	return &Matcher{fields: append([]Field(nil), fields...)}, nil
}

// Fields returns the policy fields.
func (m *Matcher) Fields() []Field {
	return append([]Field(nil), m.fields...)
}

// Match reports whether a and b are the same person under the policy.
func (m *Matcher) Match(a, b Candidate) bool {
	for _, f := range m.fields {
		if !predicates[f](a, b) {
			return false
		}
	}
	return true
}

// FindMatch returns the first record in set that matches c.
func (m *Matcher) FindMatch(c Candidate, set []Candidate) (Candidate, bool) {
	for _, s := range set {
		if m.Match(c, s) {
			return s, true
		}
	}
	return Candidate{}, false
}
