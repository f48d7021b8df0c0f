package pagination

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
)

// Query parameter names. _count and _page are accepted as FHIR-style aliases.
const (
	ParamPage     = "page"
	ParamPageSize = "page_size"
	ParamShowAll  = "show_all"
)

var reserved = map[string]bool{
	ParamPage:     true,
	"_page":       true,
	ParamPageSize: true,
	"_count":      true,
	ParamShowAll:  true,
}

// Params holds pagination parameters extracted from a request. Zero values
// mean "not supplied"; page size bounds are applied by the query builder.
type Params struct {
	Page     int
	PageSize int
	ShowAll  bool
}

// FromContext extracts pagination parameters from the echo context.
// Non-numeric page values are a BadRequest.
func FromContext(c echo.Context) (Params, error) {
	var p Params
	var err error

	if p.Page, err = intParam(c, ParamPage, "_page"); err != nil {
		return Params{}, err
	}
	if p.PageSize, err = intParam(c, ParamPageSize, "_count"); err != nil {
		return Params{}, err
	}
	if raw := c.QueryParam(ParamShowAll); raw != "" {
		p.ShowAll, err = strconv.ParseBool(raw)
		if err != nil {
			return Params{}, apperror.BadRequest("%s must be true or false, got %q", ParamShowAll, raw)
		}
	}
	return p, nil
}

func intParam(c echo.Context, names ...string) (int, error) {
	for _, name := range names {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, apperror.BadRequest("%s must be an integer, got %q", name, raw)
		}
		return n, nil
	}
	return 0, nil
}

// Filters returns the request's query parameters that are not pagination
// controls, keyed by name. A parameter present without a value maps to "".
func Filters(c echo.Context) map[string]string {
	out := make(map[string]string)
	for name, values := range c.QueryParams() {
		if reserved[name] {
			continue
		}
		v := ""
		if len(values) > 0 {
			v = strings.TrimSpace(values[0])
		}
		out[name] = v
	}
	return out
}
