package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-qms/meridian/internal/audit"
	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/httpx"
	"github.com/meridian-qms/meridian/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	audits         *audit.Writer
	pool           *pgxpool.Pool
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, audits *audit.Writer, pool *pgxpool.Pool) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		audits:         audits,
		pool:           pool,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
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

	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		if !errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Error("authenticate", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "session unavailable")
		return
	}

	ip := r.RemoteAddr
	device := forensic.DescribeDevice(r.UserAgent())
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	sess.SetOrigin(device, ip)

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, ip, device); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	csrfToken, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Warn("ensure csrf token", slog.Any("error", err))
	}

	h.writeAuthEvent(r, user.ID, sess.ID, ip, device, "LOGIN")

	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":    user.ID,
		"csrf_token": csrfToken,
		"expires_at": expiresAt.UTC(),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && sess.User() != "" {
		if userID, err := strconv.ParseInt(sess.User(), 10, 64); err == nil {
			h.writeAuthEvent(r, userID, sess.ID, sess.IP(), sess.Device(), "LOGOUT")
		}
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAuthEvent records the login or logout in the generic event trail.
// Authentication events ride on the pool, not a business transaction.
func (h *Handler) writeAuthEvent(r *http.Request, userID int64, sessionID, ip, device, action string) {
	fc, err := forensic.New(userID, ip, device, sessionID, "", "")
	if err != nil {
		h.logger.Warn("build auth forensic context", slog.Any("error", err))
		return
	}
	_, err = h.audits.Write(r.Context(), h.pool, fc, audit.Entry{
		Flavor:    audit.FlavorEvent,
		TableName: "sessions",
		RecordID:  sessionID,
		Action:    action,
	})
	if err != nil {
		h.logger.Warn("write auth audit event", slog.String("action", action), slog.Any("error", err))
	}
}
