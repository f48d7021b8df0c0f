package fhir

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
)

// OutcomeForError maps a classified error to an HTTP status and an
// OperationOutcome describing it. Unclassified errors become 500/exception.
func OutcomeForError(err error) (int, *OperationOutcome) {
	msg := err.Error()
	switch apperror.KindOf(err) {
	case apperror.KindBadRequest:
		return http.StatusBadRequest, NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, msg)
	case apperror.KindNotFound:
		return http.StatusNotFound, NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, msg)
	case apperror.KindDuplicateConflict:
		return http.StatusConflict, NewOperationOutcome(IssueSeverityError, IssueTypeDuplicate, msg)
	case apperror.KindRemoteUnavailable:
		return http.StatusBadGateway, NewOperationOutcome(IssueSeverityError, IssueTypeTransient, msg)
	case apperror.KindDanglingReference:
		return http.StatusBadGateway, NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, msg)
	default:
		return http.StatusInternalServerError, NewOperationOutcome(IssueSeverityFatal, IssueTypeException, "internal server error")
	}
}

// HTTPErrorHandler renders every handler error as an OperationOutcome.
// echo.HTTPError values (routing, binding) keep their status code.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var status int
		var outcome *OperationOutcome
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			code := IssueTypeProcessing
			switch status {
			case http.StatusNotFound:
				code = IssueTypeNotFound
			case http.StatusBadRequest:
				code = IssueTypeInvalid
			case http.StatusMethodNotAllowed:
				code = IssueTypeNotSupported
			case http.StatusGatewayTimeout:
				code = IssueTypeTimeout
			case http.StatusRequestEntityTooLarge:
				code = IssueTypeTooCostly
			case http.StatusTooManyRequests:
				code = IssueTypeThrottled
			}
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(status)
			}
			outcome = NewOperationOutcome(IssueSeverityError, code, msg)
		} else {
			status, outcome = OutcomeForError(err)
		}

		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("kind", string(apperror.KindOf(err))).
				Int("status", status).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, outcome)
	}
}
