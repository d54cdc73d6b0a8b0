package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates the actor lacks a required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidStateTransition indicates a workflow call against a request already in a terminal state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrIntegrityViolation indicates an audit record failed hash verification.
	ErrIntegrityViolation = errors.New("audit integrity violation")
	// ErrTransactionFailure wraps commit or rollback errors from the storage layer.
	ErrTransactionFailure = errors.New("transaction failure")
	// ErrValidationFailure indicates a malformed forensic context or request payload.
	ErrValidationFailure = errors.New("validation failure")
	// ErrRoleInUse indicates a role deletion was rejected because active grants still reference it.
	ErrRoleInUse = errors.New("role referenced by active grants")
	// ErrInvalidCredentials indicates signature or login credential failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
