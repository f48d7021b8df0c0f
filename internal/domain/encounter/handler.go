package encounter

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
	api.GET("/encounters", h.ListEncounters)
	api.GET("/encounters/:id", h.GetEncounter)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	params, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	page, err := h.svc.ListEncounters(c.Request().Context(), params, pagination.Filters(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	e, err := h.svc.GetEncounter(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}
