package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/config"
	"github.com/ehr/fhirgateway/internal/platform/fhirclient"
	"github.com/ehr/fhirgateway/internal/platform/fhirclient/fhirtest"
	"github.com/ehr/fhirgateway/internal/platform/middleware"
	"github.com/ehr/fhirgateway/internal/query"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Env:               "test",
		LogLevel:          "info",
		FHIRBaseURL:       baseURL,
		FHIRTimeout:       5 * time.Second,
		MaxPageSize:       100,
		AggregateLimit:    1000,
		SecondaryIDSystem: "urn:ehr:secondary-id",
		SecondaryIDPrefix: "EHR-",
		SecondaryIDLength: 8,
		RequestTimeout:    10 * time.Second,
		BodyLimit:         "64K",
		MetricsEnabled:    true,
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) (*echo.Echo, *fhirtest.Server) {
	t.Helper()
	srv := fhirtest.NewServer(t)
	cfg := testConfig(srv.URL())
	for _, m := range mutate {
		m(cfg)
	}
	client, err := fhirclient.New(fhirclient.Config{BaseURL: srv.URL()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return newServer(cfg, query.DefaultRegistry(), client, zerolog.Nop()), srv
}

func patient(given, family, birthDate string) map[string]any {
	return map[string]any{
		"resourceType": "Patient",
		"name":         []map[string]any{{"family": family, "given": []string{given}}},
		"birthDate":    birthDate,
		"gender":       "female",
	}
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestListPatients_Paged(t *testing.T) {
	e, srv := newTestServer(t)
	srv.Add("Patient",
		patient("Ada", "Lovelace", "1815-12-10"),
		patient("Grace", "Hopper", "1906-12-09"),
		patient("Mary", "Jackson", "1921-04-09"),
	)

	rec := do(e, http.MethodGet, "/api/v1/patients?page=2&page_size=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var page struct {
		Items       []map[string]any `json:"items"`
		CurrentPage int              `json:"current_page"`
		TotalPages  int              `json:"total_pages"`
		TotalItems  int              `json:"total_items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 1 || page.CurrentPage != 2 || page.TotalPages != 2 || page.TotalItems != 3 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestGetPatient_NotFoundOutcome(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodGet, "/api/v1/patients/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var outcome map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome["resourceType"] != "OperationOutcome" {
		t.Errorf("expected OperationOutcome, got %v", outcome)
	}
}

func TestCreatePatient_ThenMatch(t *testing.T) {
	e, _ := newTestServer(t)
	body := `{"first_name":"Ada","last_name":"Lovelace","birth_date":"1815-12-10","gender":"female",
		"identifiers":[{"system":"urn:mrn","value":"MRN-1"}]}`

	rec := do(e, http.MethodPost, "/api/v1/patients", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var created map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	if created["id"] == "" || !strings.HasPrefix(created["secondary_id"].(string), "EHR-") {
		t.Fatalf("unexpected created patient: %v", created)
	}

	rec = do(e, http.MethodPost, "/api/v1/patients/match", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var match map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &match)
	if match["duplicate"] != true || match["existing_id"] != created["id"] {
		t.Errorf("expected match on %v, got %v", created["id"], match)
	}
}

func TestRemoteFailure_BadGateway(t *testing.T) {
	e, srv := newTestServer(t)
	srv.Fail(fhirtest.InteractionRead, http.StatusServiceUnavailable)

	rec := do(e, http.MethodGet, "/api/v1/organizations/org-1", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	e, _ := newTestServer(t, func(c *config.Config) { c.BodyLimit = "16" })
	rec := do(e, http.MethodPost, "/api/v1/patients", `{"first_name":"Ada","last_name":"Lovelace"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	e, _ := newTestServer(t, func(c *config.Config) { c.MetricsEnabled = false })
	if rec := do(e, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 with metrics disabled, got %d", rec.Code)
	}
}

func TestPrintCollections(t *testing.T) {
	var buf bytes.Buffer
	printCollections(&buf, query.DefaultRegistry())
	out := buf.String()
	for _, want := range []string{"Encounter\t", "Patient\t", "birthdate=code"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestServeCmd_ConfigError(t *testing.T) {
	t.Setenv("FHIR_BASE_URL", "")
	cmd := serveCmd()
	err := cmd.RunE(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected load config error, got %v", err)
	}
}
