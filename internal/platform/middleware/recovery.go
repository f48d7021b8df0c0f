package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/platform/metrics"
)

// Recovery turns a handler panic into a 500, which the error handler renders
// as an OperationOutcome. Each panic is counted per route.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				route := c.Path()
				if route == "" {
					route = "unmatched"
				}
				metrics.PanicsRecoveredTotal.WithLabelValues(route).Inc()

				logger.Error().
					Str("request_id", c.Response().Header().Get(RequestIDHeader)).
					Str("route", route).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
