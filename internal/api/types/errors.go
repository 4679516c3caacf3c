package types

import (
	"errors"
	"net/http"

	appErr "github.com/archflow/engine/pkg/errors"
)

// FromAppError shapes an error for the wire. AppError metadata rides along
// as details so clients can show validation findings without parsing the
// message string.
func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	var ae *appErr.AppError
	if errors.As(err, &ae) {
		out := &APIError{Code: string(ae.Code), Message: ae.Message}
		if len(ae.Meta) > 0 {
			out.Details = ae.Meta
		}
		return out
	}
	return &APIError{Code: string(appErr.CodeUnknown), Message: err.Error()}
}

// StatusForError maps stable error codes to HTTP statuses.
func StatusForError(err error) int {
	var ae *appErr.AppError
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case appErr.CodeInvalid:
		return http.StatusBadRequest
	case appErr.CodeNotFound:
		return http.StatusNotFound
	case appErr.CodeConflict, appErr.CodeAlreadyExists,
		appErr.CodeVersionConflict, appErr.CodeDeploymentInProgress, appErr.CodeWorkspaceBusy:
		return http.StatusConflict
	case appErr.CodeValidationFailed:
		return http.StatusUnprocessableEntity
	case appErr.CodePipelineFailed:
		return http.StatusBadGateway
	case appErr.CodeUnauthorized:
		return http.StatusUnauthorized
	case appErr.CodeForbidden:
		return http.StatusForbidden
	case appErr.CodeUnavailable:
		return http.StatusServiceUnavailable
	case appErr.CodeDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
