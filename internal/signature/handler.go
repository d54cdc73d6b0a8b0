package signature

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-qms/meridian/internal/platform/httpx"
	"github.com/meridian-qms/meridian/internal/shared"
)

// Handler exposes signature capture and lookup over JSON.
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

// MountRoutes attaches the signature routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/signatures", h.handleCapture)
	r.Get("/signatures/{id}", h.handleLookup)
}

type captureForm struct {
	Password     string `json:"password" validate:"required"`
	ReasonCode   string `json:"reason_code" validate:"required,max=50"`
	ReasonDetail string `json:"reason_detail" validate:"max=500"`
	Note         string `json:"note" validate:"max=500"`
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	userID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "malformed session user")
		return
	}
	var form captureForm
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

	result, err := h.service.Capture(r.Context(), CaptureInput{
		UserID:       userID,
		Password:     form.Password,
		ReasonCode:   form.ReasonCode,
		ReasonDetail: form.ReasonDetail,
		Note:         form.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid signature id")
		return
	}
	result, err := h.service.Lookup(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
