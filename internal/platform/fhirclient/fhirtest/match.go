package fhirtest

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Matches reports whether a resource satisfies the search parameters in q.
// It understands the parameters the gateway sends: name, family, given,
// identifier, birthdate, gender, status, date, patient/subject, practitioner,
// organization and _id. String parameters match by case-insensitive prefix,
// or substring with the :contains modifier, and :exact compares verbatim.
// Result parameters (those starting with "_" other than _id) and unknown
// parameters are ignored.
func Matches(resource json.RawMessage, q url.Values) bool {
	var obj map[string]any
	if err := json.Unmarshal(resource, &obj); err != nil {
		return false
	}
	for _, key := range sortedKeys(q) {
		name, modifier, _ := strings.Cut(key, ":")
		for _, value := range q[key] {
			if !matchParam(obj, name, modifier, value) {
				return false
			}
		}
	}
	return true
}

func matchParam(obj map[string]any, name, modifier, value string) bool {
	// Comma-separated values are ORed.
	for _, v := range strings.Split(value, ",") {
		if matchOne(obj, name, modifier, v) {
			return true
		}
	}
	return false
}

func matchOne(obj map[string]any, name, modifier, value string) bool {
	switch name {
	case "_id":
		return str(obj["id"]) == value
	case "name":
		return anyString(nameStrings(obj, true, true), modifier, value)
	case "family":
		return anyString(nameStrings(obj, true, false), modifier, value)
	case "given":
		return anyString(nameStrings(obj, false, true), modifier, value)
	case "identifier":
		return matchIdentifier(obj, value)
	case "birthdate":
		return str(obj["birthDate"]) == value
	case "date":
		// Day-level equality against the start of the period.
		period, _ := obj["period"].(map[string]any)
		return strings.HasPrefix(str(period["start"]), value)
	case "gender", "status":
		return str(obj[name]) == value
	case "patient", "subject":
		return matchReference(obj["subject"], "Patient", value)
	case "practitioner":
		for _, p := range list(obj["participant"]) {
			if m, ok := p.(map[string]any); ok && matchReference(m["individual"], "Practitioner", value) {
				return true
			}
		}
		return false
	case "organization":
		return matchReference(obj["managingOrganization"], "Organization", value)
	}
	return true
}

func matchIdentifier(obj map[string]any, value string) bool {
	system, code, hasSystem := strings.Cut(value, "|")
	if !hasSystem {
		code = value
	}
	for _, item := range list(obj["identifier"]) {
		id, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if hasSystem && system != "" && str(id["system"]) != system {
			continue
		}
		if str(id["value"]) == code {
			return true
		}
	}
	return false
}

func matchReference(ref any, resourceType, value string) bool {
	m, ok := ref.(map[string]any)
	if !ok {
		return false
	}
	r := str(m["reference"])
	return r == value || r == resourceType+"/"+value || strings.HasSuffix(r, "/"+resourceType+"/"+value)
}

func nameStrings(obj map[string]any, family, given bool) []string {
	var out []string
	if s, ok := obj["name"].(string); ok && family && given {
		// Organization, Location and similar carry a plain string name.
		return []string{s}
	}
	for _, item := range list(obj["name"]) {
		n, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if family {
			if f := str(n["family"]); f != "" {
				out = append(out, f)
			}
		}
		if given {
			for _, g := range list(n["given"]) {
				out = append(out, str(g))
			}
		}
		if family && given {
			if t := str(n["text"]); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func anyString(candidates []string, modifier, value string) bool {
	for _, c := range candidates {
		switch modifier {
		case "exact":
			if c == value {
				return true
			}
		case "contains":
			if strings.Contains(strings.ToLower(c), strings.ToLower(value)) {
				return true
			}
		default:
			if strings.HasPrefix(strings.ToLower(c), strings.ToLower(value)) {
				return true
			}
		}
	}
	return false
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
