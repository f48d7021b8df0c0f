package paging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/platform/fhir"
	"github.com/ehr/fhirgateway/internal/platform/fhirclient"
	"github.com/ehr/fhirgateway/internal/platform/fhirclient/fhirtest"
	"github.com/ehr/fhirgateway/internal/query"
)

type item struct {
	ID     string `json:"id"`
	Family string
}

func convertItem(raw json.RawMessage) (item, error) {
	var r struct {
		ID   string `json:"id"`
		Name []struct {
			Family string `json:"family"`
		} `json:"name"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return item{}, err
	}
	it := item{ID: r.ID}
	if len(r.Name) > 0 {
		it.Family = r.Name[0].Family
	}
	return it, nil
}

// newStack starts a FHIR server holding n patients with ids p01..pNN.
func newStack(t *testing.T, n int) (*fhirtest.Server, *fhirclient.Client) {
	t.Helper()
	srv := fhirtest.NewServer(t)
	for i := 1; i <= n; i++ {
		srv.Add("Patient", map[string]any{
			"id":     fmt.Sprintf("p%02d", i),
			"gender": []string{"female", "male"}[i%2],
			"name":   []map[string]any{{"family": fmt.Sprintf("Family%02d", i)}},
		})
	}
	c, err := fhirclient.New(fhirclient.Config{BaseURL: srv.URL()}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return srv, c
}

func patientQuery(t *testing.T, pageSize int, criteria map[string]string) query.Query {
	t.Helper()
	b, err := query.DefaultRegistry().Builder("Patient")
	if err != nil {
		t.Fatal(err)
	}
	q, err := b.WhereAll(criteria).PageSize(pageSize).Build()
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func ids(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// loopRemote serves bundles whose next links are scripted by the test.
type loopRemote struct {
	pages   map[string]*fhir.Bundle
	follows int
}

func (r *loopRemote) Search(context.Context, string, url.Values) (*fhir.Bundle, error) {
	return r.pages["start"], nil
}

func (r *loopRemote) Follow(_ context.Context, link string) (*fhir.Bundle, error) {
	r.follows++
	b, ok := r.pages[link]
	if !ok {
		return nil, fmt.Errorf("unexpected link %q", link)
	}
	return b, nil
}

func (r *loopRemote) GetPages(context.Context, string, int, int) (*fhir.Bundle, error) {
	return nil, fmt.Errorf("not supported")
}

func bundleWithNext(next string, resources ...string) *fhir.Bundle {
	raws := make([]json.RawMessage, len(resources))
	for i, r := range resources {
		raws[i] = json.RawMessage(r)
	}
	return fhir.NewSearchBundle(raws, fhir.SearchBundleParams{ID: "b", Total: len(resources), NextURL: next})
}
