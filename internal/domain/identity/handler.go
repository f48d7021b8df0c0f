package identity

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirgateway/internal/dedup"
	"github.com/ehr/fhirgateway/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.POST("/patients", h.CreatePatient)
	api.POST("/patients/match", h.MatchPatient)
	api.PUT("/patients/:id", h.UpdatePatient)

	api.GET("/practitioners", h.ListPractitioners)
	api.GET("/practitioners/:id", h.GetPractitioner)
}

// -- Patient handlers --

func (h *Handler) ListPatients(c echo.Context) error {
	params, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	page, err := h.svc.ListPatients(c.Request().Context(), params, pagination.Filters(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := h.svc.CreatePatient(c.Request().Context(), &p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	updated, err := h.svc.UpdatePatient(c.Request().Context(), c.Param("id"), &p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

// MatchResult answers a duplicate check.
type MatchResult struct {
	Duplicate  bool     `json:"duplicate"`
	ExistingID string   `json:"existing_id,omitempty"`
	Fields     []string `json:"fields"`
}

// MatchPatient checks the posted Patient for duplicates without writing it.
// ?fields=identifier,given narrows or widens the policy.
func (h *Handler) MatchPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var fields []dedup.Field
	for _, f := range strings.Split(c.QueryParam("fields"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, dedup.Field(f))
		}
	}
	used := fields
	if len(used) == 0 {
		used = dedup.DefaultFields
	}

	id, found, err := h.svc.MatchPatient(c.Request().Context(), &p, fields)
	if err != nil {
		return err
	}
	res := MatchResult{Duplicate: found, ExistingID: id}
	for _, f := range used {
		res.Fields = append(res.Fields, string(f))
	}
	return c.JSON(http.StatusOK, res)
}

// -- Practitioner handlers --

func (h *Handler) ListPractitioners(c echo.Context) error {
	params, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	page, err := h.svc.ListPractitioners(c.Request().Context(), params, pagination.Filters(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) GetPractitioner(c echo.Context) error {
	p, err := h.svc.GetPractitioner(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
