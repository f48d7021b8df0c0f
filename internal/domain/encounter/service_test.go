package encounter

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/paging"
	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/platform/fhirclient"
	"github.com/ehr/fhirgateway/internal/platform/fhirclient/fhirtest"
	"github.com/ehr/fhirgateway/internal/query"
	"github.com/ehr/fhirgateway/internal/reference"
	"github.com/ehr/fhirgateway/pkg/pagination"
)

func newTestService(t *testing.T) (*Service, *fhirtest.Server) {
	t.Helper()
	srv := fhirtest.NewServer(t)
	client, err := fhirclient.New(fhirclient.Config{BaseURL: srv.URL()}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	agg := paging.NewResultAggregator(client, 100, 1000, zerolog.Nop())
	return NewService(client, query.DefaultRegistry(), agg, reference.NewResolver(client, zerolog.Nop()), zerolog.Nop()), srv
}

// seed stores two patients, two practitioners, one organization and the
// given encounters.
func seed(srv *fhirtest.Server, encounters ...map[string]any) {
	srv.Add("Patient",
		map[string]any{"id": "pat1", "name": []map[string]any{{"family": "Smith", "given": []string{"Ann"}}}},
		map[string]any{"id": "pat2", "name": []map[string]any{{"family": "Jones", "given": []string{"Bob"}}}},
	)
	srv.Add("Practitioner",
		map[string]any{"id": "dr1", "name": []map[string]any{{"family": "House", "given": []string{"Gregory"}}}},
		map[string]any{"id": "dr2", "name": []map[string]any{{"family": "Wilson", "given": []string{"James"}}}},
	)
	srv.Add("Organization", map[string]any{"id": "org1", "name": "General Hospital"})
	for _, e := range encounters {
		srv.Add("Encounter", e)
	}
}

func enc(id, status, patient, practitioner, start string) map[string]any {
	return map[string]any{
		"id":              id,
		"status":          status,
		"class":           map[string]any{"code": "AMB", "display": "ambulatory"},
		"subject":         map[string]any{"reference": "Patient/" + patient},
		"participant":     []map[string]any{{"individual": map[string]any{"reference": "Practitioner/" + practitioner}}},
		"serviceProvider": map[string]any{"reference": "Organization/org1"},
		"period":          map[string]any{"start": start},
	}
}

func TestService_ListEncounters_ResolvesEachTargetOnce(t *testing.T) {
	svc, srv := newTestService(t)
	seed(srv,
		enc("e1", "finished", "pat1", "dr1", "2024-01-01T09:00:00Z"),
		enc("e2", "finished", "pat1", "dr1", "2024-02-01T09:00:00Z"),
		enc("e3", "in-progress", "pat2", "dr1", "2024-03-01T09:00:00Z"),
	)

	page, err := svc.ListEncounters(t.Context(), pagination.Params{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalItems != 3 {
		t.Fatalf("expected 3 encounters, got %d", page.TotalItems)
	}
	e := page.Items[0]
	if e.PatientName != "Ann Smith" || e.ServiceProviderName != "General Hospital" || e.Participants[0].Name != "Gregory House" {
		t.Errorf("unexpected denormalized names %+v", e)
	}
	for _, key := range []struct{ typ, id string }{{"Patient", "pat1"}, {"Practitioner", "dr1"}, {"Organization", "org1"}} {
		if n := srv.ReadCount(key.typ, key.id); n != 1 {
			t.Errorf("%s/%s read %d times, want 1", key.typ, key.id, n)
		}
	}
}

func TestService_ListEncounters_PractitionerNameFilter(t *testing.T) {
	svc, srv := newTestService(t)
	seed(srv,
		enc("e1", "finished", "pat1", "dr1", "2024-01-01"),
		enc("e2", "finished", "pat1", "dr2", "2024-02-01"),
		enc("e3", "finished", "pat2", "dr2", "2024-03-01"),
		enc("e4", "finished", "pat2", "dr1", "2024-04-01"),
	)

	page, err := svc.ListEncounters(t.Context(), pagination.Params{PageSize: 1, Page: 2}, map[string]string{
		ParamPractitionerName: "wilson",
	})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalItems != 2 || page.TotalPages != 2 || len(page.Items) != 1 || page.Items[0].ID != "e3" {
		t.Errorf("expected e3 as page 2 of 2, got %+v", page)
	}
	if n := srv.Count(fhirtest.InteractionGetPages); n != 0 {
		t.Errorf("a client-side filter must not use offset paging, got %d getpages calls", n)
	}
}

func TestService_ListEncounters_RemoteFilters(t *testing.T) {
	svc, srv := newTestService(t)
	seed(srv,
		enc("e1", "finished", "pat1", "dr1", "2024-01-01"),
		enc("e2", "planned", "pat1", "dr1", "2024-02-01"),
		enc("e3", "finished", "pat2", "dr1", "2024-03-01"),
	)

	page, err := svc.ListEncounters(t.Context(), pagination.Params{}, map[string]string{"patient": "pat1", "status": "finished"})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalItems != 1 || page.Items[0].ID != "e1" {
		t.Errorf("expected e1 only, got %+v", page)
	}

	page, err = svc.ListEncounters(t.Context(), pagination.Params{}, map[string]string{"date": "2024-03"})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalItems != 1 || page.Items[0].ID != "e3" {
		t.Errorf("expected e3 only, got %+v", page)
	}
}

func TestService_ListEncounters_InvalidCriteria(t *testing.T) {
	svc, srv := newTestService(t)

	for _, criteria := range []map[string]string{
		{"status": "done"},
		{"status": "finished,bogus"},
		{ParamPractitionerName: " "},
		{"subject": "pat1"},
	} {
		if _, err := svc.ListEncounters(t.Context(), pagination.Params{}, criteria); !apperror.Is(err, apperror.KindBadRequest) {
			t.Errorf("%v: expected bad request, got %v", criteria, err)
		}
	}
	if n := srv.Total(); n != 0 {
		t.Errorf("invalid criteria must not reach the server, got %d requests", n)
	}
}

func TestService_ListEncounters_NoMatches(t *testing.T) {
	svc, _ := newTestService(t)

	page, err := svc.ListEncounters(t.Context(), pagination.Params{}, map[string]string{ParamPractitionerName: "nobody"})
	if err != nil {
		t.Fatalf("expected empty page, got %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("expected no items, got %d", len(page.Items))
	}
}

func TestService_GetEncounter(t *testing.T) {
	svc, srv := newTestService(t)
	e := enc("e1", "finished", "pat1", "dr1", "2024-01-01")
	e["location"] = []map[string]any{{"location": map[string]any{"reference": "Location/l1", "display": "Ward 3"}}}
	e["participant"] = []map[string]any{{
		"type":       []map[string]any{{"coding": []map[string]any{{"code": "ATND", "display": "attender"}}}},
		"individual": map[string]any{"reference": "Practitioner/dr2", "display": "Dr. Wilson"},
	}}
	seed(srv, e)

	got, err := svc.GetEncounter(t.Context(), "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Locations[0] != "Ward 3" || got.Participants[0].Name != "Dr. Wilson" || got.Participants[0].TypeCode != "ATND" {
		t.Errorf("expected display hints to be used, got %+v", got)
	}
	if n := srv.Count(fhirtest.InteractionRead); n != 3 {
		// the encounter, its patient and its organization
		t.Errorf("expected 3 reads, got %d", n)
	}
}

func TestService_GetEncounter_Errors(t *testing.T) {
	svc, srv := newTestService(t)
	seed(srv, enc("e1", "finished", "ghost", "dr1", "2024-01-01"))

	if _, err := svc.GetEncounter(t.Context(), "missing"); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := svc.GetEncounter(t.Context(), "e1"); !apperror.Is(err, apperror.KindDanglingReference) {
		t.Errorf("expected dangling reference, got %v", err)
	}
}
