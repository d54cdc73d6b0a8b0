package rbac

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-qms/meridian/internal/audit"
	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/httpx"
)

// ImpersonationHandler manages support-driven impersonation sessions. Every
// start and termination ends up in the event trail tied to the real actor,
// never the target.
type ImpersonationHandler struct {
	logger    *slog.Logger
	store     *forensic.ImpersonationStore
	audits    AuditWriter
	pool      *pgxpool.Pool
	validator *validator.Validate
}

// NewImpersonationHandler constructs an ImpersonationHandler.
func NewImpersonationHandler(logger *slog.Logger, store *forensic.ImpersonationStore, audits AuditWriter, pool *pgxpool.Pool) *ImpersonationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImpersonationHandler{
		logger:    logger,
		store:     store,
		audits:    audits,
		pool:      pool,
		validator: validator.New(),
	}
}

// MountRoutes registers impersonation routes. The caller gates the whole
// group behind the impersonation permission.
func (h *ImpersonationHandler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleStart)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleTerminate)
}

type impersonateForm struct {
	TargetID int64  `json:"target_id" validate:"required,gt=0"`
	Reason   string `json:"reason" validate:"required,max=500"`
}

func (h *ImpersonationHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var form impersonateForm
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
	sess, err := forensic.StartImpersonation(fc, form.TargetID, form.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.store.Put(r.Context(), sess); err != nil {
		h.logger.Error("store impersonation session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.writeEvent(r, fc, sess, "IMPERSONATION_STARTED")

	httpx.JSON(w, http.StatusCreated, sess)
}

func (h *ImpersonationHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *ImpersonationHandler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r)
	if !ok {
		return
	}
	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.store.Terminate(r.Context(), id); err != nil {
		h.logger.Error("terminate impersonation session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	fc, err := forensic.ContextFromRequest(r, "impersonation terminated", "")
	if err == nil {
		h.writeEvent(r, fc, sess, "IMPERSONATION_ENDED")
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeEvent rides on the pool; session state lives in Redis so there is no
// business transaction to join.
func (h *ImpersonationHandler) writeEvent(r *http.Request, fc forensic.Context, sess forensic.ImpersonationSession, action string) {
	_, err := h.audits.Write(r.Context(), h.pool, fc, audit.Entry{
		Flavor:    audit.FlavorEvent,
		TableName: "impersonation_sessions",
		RecordID:  sess.SessionLogID.String(),
		Action:    action,
		Diffs: []audit.FieldDiff{
			{Field: "actor_id", New: strconv.FormatInt(sess.ActorID, 10)},
			{Field: "target_id", New: strconv.FormatInt(sess.TargetID, 10)},
			{Field: "reason", New: sess.Reason},
		},
		Severity: audit.SeverityWarning,
	})
	if err != nil {
		h.logger.Error("write impersonation audit event", slog.String("action", action), slog.Any("error", err))
	}
}

func (h *ImpersonationHandler) pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid session log id")
		return uuid.Nil, false
	}
	return id, true
}
