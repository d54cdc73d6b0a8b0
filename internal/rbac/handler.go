package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/httpx"
	"github.com/meridian-qms/meridian/internal/shared"
)

// Handler exposes the RBAC administration surface as JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	enforcer  *Enforcer
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, enforcer *Enforcer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		enforcer:  enforcer,
		validator: validator.New(),
	}
}

// MountRoutes attaches the RBAC routes. Role administration and the grant
// surface are gated by the guard; delegation and permission requests only
// need an authenticated session because the enforcer checks the rest.
func (h *Handler) MountRoutes(r chi.Router, guard Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAny(shared.PermRolesView, shared.PermRolesEdit))
		r.Get("/roles", h.handleListRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAll(shared.PermRolesEdit))
		r.Post("/roles", h.handleCreateRole)
		r.Put("/roles/{id}", h.handleUpdateRole)
		r.Delete("/roles/{id}", h.handleDeleteRole)
		r.Put("/roles/{id}/permissions", h.handleSetRolePermissions)
	})

	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAll(shared.PermPermissionsGrant))
		r.Post("/grants/roles", h.handleGrantRole)
		r.Delete("/grants/roles", h.handleRevokeRole)
		r.Post("/grants/permissions", h.handleGrantPermission)
		r.Delete("/grants/permissions", h.handleRevokePermission)
		r.Get("/requests/pending", h.handleListPending)
		r.Post("/requests/{id}/approve", h.handleApproveRequest)
		r.Post("/requests/{id}/deny", h.handleDenyRequest)
	})

	r.Post("/delegations", h.handleDelegate)
	r.Delete("/delegations/{id}", h.handleRevokeDelegation)
	r.Post("/requests", h.handleRequestPermission)

	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAny(shared.PermPermissionsView, shared.PermUsersView))
		r.Get("/users/{id}/permissions", h.handleUserPermissions)
	})
}

type roleForm struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.enforcer.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var form roleForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, "", "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	role, err := h.enforcer.CreateRole(r.Context(), fc, form.Name, form.Description)
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var form roleForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, "", "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	role, err := h.enforcer.UpdateRole(r.Context(), fc, id, form.Name, form.Description)
	if err != nil {
		h.respondError(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	fc, err := forensic.ContextFromRequest(r, "", "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	if err := h.enforcer.DeleteRole(r.Context(), fc, id); err != nil {
		h.respondError(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rolePermissionsForm struct {
	Codes []string `json:"codes" validate:"required"`
}

func (h *Handler) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var form rolePermissionsForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, "", "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	if err := h.enforcer.SetRolePermissions(r.Context(), fc, id, form.Codes); err != nil {
		h.respondError(w, "set role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantRoleForm struct {
	UserID    int64      `json:"user_id" validate:"required,gt=0"`
	RoleID    int64      `json:"role_id" validate:"required,gt=0"`
	ExpiresAt *time.Time `json:"expires_at"`
	Reason    string     `json:"reason"`
}

func (h *Handler) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	var form grantRoleForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Reason, "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	grant, err := h.enforcer.GrantRole(r.Context(), fc, form.UserID, form.RoleID, form.ExpiresAt)
	if err != nil {
		h.respondError(w, "grant role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grant)
}

type revokeRoleForm struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	RoleID int64  `json:"role_id" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	var form revokeRoleForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Reason, "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	if err := h.enforcer.RevokeRole(r.Context(), fc, form.UserID, form.RoleID, form.Reason); err != nil {
		h.respondError(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantPermissionForm struct {
	UserID    int64      `json:"user_id" validate:"required,gt=0"`
	Code      string     `json:"code" validate:"required,max=100"`
	ExpiresAt *time.Time `json:"expires_at"`
	Reason    string     `json:"reason"`
}

func (h *Handler) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var form grantPermissionForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Reason, "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	grant, err := h.enforcer.GrantPermission(r.Context(), fc, form.UserID, form.Code, form.ExpiresAt)
	if err != nil {
		h.respondError(w, "grant permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grant)
}

type revokePermissionForm struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Code   string `json:"code" validate:"required,max=100"`
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	var form revokePermissionForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Reason, "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	if err := h.enforcer.RevokePermission(r.Context(), fc, form.UserID, form.Code, form.Reason); err != nil {
		h.respondError(w, "revoke permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type delegateForm struct {
	ToUserID  int64     `json:"to_user_id" validate:"required,gt=0"`
	Code      string    `json:"code" validate:"required,max=100"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
	Reason    string    `json:"reason"`
}

func (h *Handler) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var form delegateForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Reason, "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	delegation, err := h.enforcer.DelegatePermission(r.Context(), fc, form.ToUserID, form.Code, form.ExpiresAt)
	if err != nil {
		h.respondError(w, "delegate permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, delegation)
}

type reasonForm struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleRevokeDelegation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var form reasonForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Reason, "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	if err := h.enforcer.RevokeDelegatedPermission(r.Context(), fc, id, form.Reason); err != nil {
		h.respondError(w, "revoke delegation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type requestForm struct {
	Code   string `json:"code" validate:"required,max=100"`
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) handleRequestPermission(w http.ResponseWriter, r *http.Request) {
	var form requestForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Reason, "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	req, err := h.enforcer.RequestPermission(r.Context(), fc, form.Code, form.Reason)
	if err != nil {
		h.respondError(w, "request permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	requests, err := h.enforcer.ListPendingRequests(r.Context())
	if err != nil {
		h.respondError(w, "list pending requests", err)
		return
	}
	httpx.JSON(w, http.StatusOK, requests)
}

type decisionForm struct {
	Comment string `json:"comment"`
}

func (h *Handler) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var form decisionForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Comment, "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	if err := h.enforcer.ApprovePermissionRequest(r.Context(), fc, id, form.Comment); err != nil {
		h.respondError(w, "approve request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDenyRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var form decisionForm
	if !h.decode(w, r, &form) {
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Comment, "")
	if err != nil {
		h.respondError(w, "forensic context", err)
		return
	}
	if err := h.enforcer.DenyPermissionRequest(r.Context(), fc, id, form.Comment); err != nil {
		h.respondError(w, "deny request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	codes, err := h.enforcer.GetAllUserPermissions(r.Context(), id)
	if err != nil {
		h.respondError(w, "user permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": id, "permissions": codes})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fieldErrs[0].Error())
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request")
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if !isClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	for _, sentinel := range []error{
		shared.ErrNotFound,
		shared.ErrPermissionDenied,
		shared.ErrInvalidStateTransition,
		shared.ErrRoleInUse,
		shared.ErrValidationFailure,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
