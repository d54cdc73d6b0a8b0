package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/httpx"
)

// Handler exposes user administration over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountListRoute serves the user listing.
func (h *Handler) MountListRoute(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r)
}

// MountEditRoutes attaches the mutating user routes.
func (h *Handler) MountEditRoutes(r chi.Router) {
	r.Post("/{id}/activate", h.handleActivate)
	r.Post("/{id}/deactivate", h.handleDeactivate)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

type statusForm struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var form statusForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fieldErrs[0].Error())
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request")
		return
	}
	fc, err := forensic.ContextFromRequest(r, form.Reason, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetActive(r.Context(), fc, id, active, form.Reason); err != nil {
		h.logger.Error("set user active", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
