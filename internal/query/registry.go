package query

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// MatchKind is how a filter value is compared by the remote server.
type MatchKind string

const (
	// MatchExact compares strings verbatim (FHIR ":exact").
	MatchExact MatchKind = "exact"
	// MatchContains matches a substring anywhere in the field (FHIR ":contains").
	MatchContains MatchKind = "contains"
	// MatchCode sends the value without a modifier. Used for tokens, dates
	// and references, whose default FHIR comparison is already equality.
	MatchCode MatchKind = "code"
)

func (k MatchKind) valid() bool {
	switch k {
	case MatchExact, MatchContains, MatchCode:
		return true
	}
	return false
}

// Collection describes one remote collection type: the filter keys callers
// may use and its page size limits.
type Collection struct {
	Type            string               `yaml:"type"`
	DefaultPageSize int                  `yaml:"default_page_size"`
	MaxPageSize     int                  `yaml:"max_page_size"`
	DefaultSort     []string             `yaml:"default_sort"`
	Params          map[string]MatchKind `yaml:"params"`
}

// Validate checks the collection definition.
func (c Collection) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("collection type is required")
	}
	if c.DefaultPageSize < 1 {
		return fmt.Errorf("%s: default_page_size must be positive", c.Type)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("%s: max_page_size (%d) must be >= default_page_size (%d)", c.Type, c.MaxPageSize, c.DefaultPageSize)
	}
	for name, kind := range c.Params {
		if !kind.valid() {
			return fmt.Errorf("%s: param %q has unknown match kind %q", c.Type, name, kind)
		}
	}
	return nil
}

// Registry holds the known collections, keyed by resource type.
type Registry struct {
	collections map[string]Collection
}

// DefaultRegistry returns the built-in collection definitions.
func DefaultRegistry() *Registry {
	r := &Registry{collections: make(map[string]Collection)}
	for _, c := range builtinCollections() {
		r.collections[c.Type] = c
	}
	return r
}

func builtinCollections() []Collection {
	return []Collection{
		{
			Type:            "Patient",
			DefaultPageSize: 20,
			MaxPageSize:     100,
			DefaultSort:     []string{"family", "given"},
			Params: map[string]MatchKind{
				"name":       MatchContains,
				"family":     MatchContains,
				"given":      MatchContains,
				"birthdate":  MatchCode,
				"gender":     MatchCode,
				"identifier": MatchCode,
			},
		},
		{
			Type:            "Practitioner",
			DefaultPageSize: 20,
			MaxPageSize:     100,
			DefaultSort:     []string{"family"},
			Params: map[string]MatchKind{
				"name":       MatchContains,
				"family":     MatchContains,
				"given":      MatchContains,
				"identifier": MatchCode,
			},
		},
		{
			Type:            "Organization",
			DefaultPageSize: 20,
			MaxPageSize:     100,
			DefaultSort:     []string{"name"},
			Params: map[string]MatchKind{
				"name":       MatchContains,
				"identifier": MatchCode,
			},
		},
		{
			Type:            "Encounter",
			DefaultPageSize: 20,
			MaxPageSize:     100,
			DefaultSort:     []string{"-date"},
			Params: map[string]MatchKind{
				"patient":      MatchCode,
				"status":       MatchCode,
				"date":         MatchCode,
				"practitioner": MatchCode,
			},
		},
	}
}

type registryFile struct {
	Collections []Collection `yaml:"collections"`
}

// ParseRegistry decodes a YAML registry document. Collections it defines
// replace the built-in definition of the same type; others are kept.
func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse collection registry: %w", err)
	}
	r := DefaultRegistry()
	for _, c := range f.Collections {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("collection registry: %w", err)
		}
		r.collections[c.Type] = c
	}
	return r, nil
}

// LoadRegistry reads a YAML registry file. An empty path yields the defaults.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collection registry: %w", err)
	}
	return ParseRegistry(data)
}

// CapPageSize lowers every collection's page sizes to limit, the largest
// _count the remote server honors. A non-positive limit leaves them as is.
func (r *Registry) CapPageSize(limit int) {
	if limit <= 0 {
		return
	}
	for t, c := range r.collections {
		c.MaxPageSize = min(c.MaxPageSize, limit)
		c.DefaultPageSize = min(c.DefaultPageSize, limit)
		r.collections[t] = c
	}
}

// Lookup returns the definition for a resource type.
func (r *Registry) Lookup(resourceType string) (Collection, bool) {
	c, ok := r.collections[resourceType]
	return c, ok
}

// Types lists the registered resource types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.collections))
	for t := range r.collections {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Builder starts a query against a registered collection.
func (r *Registry) Builder(resourceType string) (*Builder, error) {
	c, ok := r.Lookup(resourceType)
	if !ok {
		return nil, fmt.Errorf("collection %q is not registered", resourceType)
	}
	return NewBuilder(c), nil
}

// Query builds a query from request criteria against a registered collection.
func (r *Registry) Query(resourceType string, criteria map[string]string, pageSize int) (Query, error) {
	b, err := r.Builder(resourceType)
	if err != nil {
		return Query{}, err
	}
	return b.WhereAll(criteria).PageSize(pageSize).Build()
}
