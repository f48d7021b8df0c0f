package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirgateway/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/organizations", h.ListOrganizations)
	api.GET("/organizations/:id", h.GetOrganization)
	api.GET("/providers", h.ListProviders)
}

func (h *Handler) ListOrganizations(c echo.Context) error {
	params, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	page, err := h.svc.ListOrganizations(c.Request().Context(), params, pagination.Filters(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) GetOrganization(c echo.Context) error {
	o, err := h.svc.GetOrganization(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListProviders(c echo.Context) error {
	params, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	page, err := h.svc.ListProviders(c.Request().Context(), params, c.QueryParam("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}
