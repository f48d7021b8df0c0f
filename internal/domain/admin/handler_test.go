package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirgateway/internal/paging"
	"github.com/ehr/fhirgateway/internal/platform/apperror"
)

func TestHandler_ListProviders(t *testing.T) {
	svc, srv := newTestService(t)
	srv.Add("Organization", org("o1", "Adams Clinic", ""))
	srv.Add("Practitioner", practitioner("dr1", "Maria", "Adams"))
	h, e := NewHandler(svc), echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers?name=adams&page_size=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListProviders(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var page paging.Page[Provider]
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.TotalItems != 2 || page.PageSize != 10 {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestHandler_GetOrganization(t *testing.T) {
	svc, srv := newTestService(t)
	srv.Add("Organization", org("o1", "Adams Clinic", ""))
	h, e := NewHandler(svc), echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("o1")

	if err := h.GetOrganization(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var o Organization
	json.Unmarshal(rec.Body.Bytes(), &o)
	if o.Name != "Adams Clinic" {
		t.Errorf("expected Adams Clinic, got %q", o.Name)
	}
}

func TestHandler_ListOrganizations_UnknownFilter(t *testing.T) {
	svc, _ := newTestService(t)
	h, e := NewHandler(svc), echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/organizations?gender=male", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListOrganizations(c); !apperror.Is(err, apperror.KindBadRequest) {
		t.Errorf("expected bad request, got %v", err)
	}
}
