package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/httpx"
	"github.com/meridian-qms/meridian/internal/shared"
)

// Atomic is the transaction surface the handler needs for audited
// administrative deletion.
type Atomic interface {
	RunAtomic(ctx context.Context, operation string, fn func(pgx.Tx) error) error
}

// Handler exposes audit-trail reads, CSV export and audited administrative
// deletion over JSON.
type Handler struct {
	logger   *slog.Logger
	repo     *Repository
	writer   *Writer
	atomic   Atomic
	exporter CSVExporter
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, repo *Repository, writer *Writer, atomic Atomic) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo, writer: writer, atomic: atomic}
}

// MountRoutes attaches the read routes. Export and administrative deletion
// are mounted separately so the router can guard them independently.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{flavor}", h.handleList)
}

// MountAdminRoutes attaches the audited administrative deletion route.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Delete("/{flavor}/{id}", h.handleDelete)
}

// ExportHandler returns the CSV export endpoint.
func (h *Handler) ExportHandler() http.HandlerFunc {
	return h.handleExport
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	flavor, ok := h.pathFlavor(w, r)
	if !ok {
		return
	}
	filters, err := filtersFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	records, err := h.repo.List(r.Context(), flavor, filters)
	if err != nil {
		h.logger.Error("audit list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	flavor, ok := h.pathFlavor(w, r)
	if !ok {
		return
	}
	filters, err := filtersFromQuery(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	records, err := h.repo.List(r.Context(), flavor, filters)
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	payload, err := h.exporter.WriteCSV(records)
	if err != nil {
		h.logger.Error("audit export csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	filename := fmt.Sprintf("audit-%s-%s.csv", strings.ToLower(string(flavor)), time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleDelete removes an audit record through the administrative path.
// The deletion itself is audited in the same transaction, so the trail
// records who removed what and why.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	flavor, ok := h.pathFlavor(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "reason is required")
		return
	}
	fc, err := forensic.ContextFromRequest(r, reason, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	err = h.atomic.RunAtomic(r.Context(), "audit.delete_record", func(tx pgx.Tx) error {
		affected, err := h.repo.DeleteRecord(r.Context(), tx, flavor, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return shared.ErrNotFound
		}
		recordID := strconv.FormatInt(id, 10)
		_, err = h.writer.Write(r.Context(), tx, fc, Entry{
			Flavor:    FlavorEvent,
			TableName: flavorTables[flavor],
			RecordID:  recordID,
			Action:    "AUDIT_RECORD_DELETED",
			Severity:  SeverityCritical,
		})
		return err
	})
	if err != nil {
		h.logger.Error("audit delete", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathFlavor(w http.ResponseWriter, r *http.Request) (Flavor, bool) {
	flavor := Flavor(strings.ToUpper(chi.URLParam(r, "flavor")))
	if _, ok := flavorTables[flavor]; !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown audit trail")
		return "", false
	}
	return flavor, true
}

func filtersFromQuery(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	filters := Filters{
		RecordID: strings.TrimSpace(q.Get("record_id")),
		Action:   strings.TrimSpace(q.Get("action")),
	}
	if raw := q.Get("actor_id"); raw != "" {
		actorID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || actorID <= 0 {
			return Filters{}, fmt.Errorf("invalid actor_id")
		}
		filters.ActorID = actorID
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid from timestamp")
		}
		filters.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filters{}, fmt.Errorf("invalid to timestamp")
		}
		filters.To = to
	}
	return filters, nil
}
