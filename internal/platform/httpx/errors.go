// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/meridian-qms/meridian/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Permission and workflow failures render as actionable messages.
// Integrity and transaction failures render as a generic failure plus a
// correlation id for forensic follow-up; the detail never leaves the server.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Permission Denied", err.Error())
	case errors.Is(err, shared.ErrInvalidStateTransition):
		Problem(w, http.StatusConflict, "Invalid State Transition", err.Error())
	case errors.Is(err, shared.ErrRoleInUse):
		Problem(w, http.StatusConflict, "Role In Use", err.Error())
	case errors.Is(err, shared.ErrValidationFailure):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "credentials rejected")
	case errors.Is(err, shared.ErrIntegrityViolation), errors.Is(err, shared.ErrTransactionFailure):
		ProblemWithCorrelation(w, http.StatusInternalServerError, "Internal Error", uuid.NewString())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// ProblemWithCorrelation sends a generic problem carrying a correlation id.
func ProblemWithCorrelation(w http.ResponseWriter, status int, title, correlationID string) {
	JSON(w, status, ProblemDetail{
		Title:         title,
		Status:        status,
		CorrelationID: correlationID,
	})
}
