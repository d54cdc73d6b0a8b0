package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/db"
	"github.com/meridian-qms/meridian/internal/shared"
)

// systemActorID marks diagnostic rows written before an actor is known.
const systemActorID = -1

// Entry describes one audit write.
type Entry struct {
	Flavor    Flavor
	TableName string
	RecordID  string
	Action    string
	Diffs     []FieldDiff
	Severity  Severity
}

// Metrics is the slice of observability the writer reports into.
type Metrics interface {
	AuditWrite(flavor string)
}

// Writer appends immutable audit rows. It holds only immutable
// configuration and is safe for concurrent reuse.
type Writer struct {
	key     []byte
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

// NewWriter constructs a Writer with the given HMAC key.
func NewWriter(key []byte, logger *slog.Logger, metrics Metrics) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{key: key, logger: logger, metrics: metrics, now: time.Now}
}

// Write computes the integrity hash over the entry's immutable fields and
// persists one row on the supplied querier. Passing the caller's pgx.Tx puts
// the audit row in the same atomic scope as the business mutation.
func (w *Writer) Write(ctx context.Context, q db.Querier, fc forensic.Context, e Entry) (Record, error) {
	if e.TableName == "" || e.Action == "" {
		return Record{}, fmt.Errorf("audit: table name and action required: %w", shared.ErrValidationFailure)
	}
	if fc.ActorID == 0 {
		return Record{}, fmt.Errorf("audit: forensic context missing actor: %w", shared.ErrValidationFailure)
	}
	flavor := e.Flavor
	if flavor == "" {
		flavor = FlavorEvent
	}
	table, ok := flavorTables[flavor]
	if !ok {
		return Record{}, fmt.Errorf("audit: unknown flavor %q", e.Flavor)
	}
	severity := e.Severity
	if severity == "" {
		severity = SeverityInfo
	}

	// timestamptz stores microseconds; hash the value the database will
	// hand back so re-validation survives a read round trip.
	at := w.now().UTC().Truncate(time.Microsecond)
	rec := Record{
		Flavor:        flavor,
		TableName:     e.TableName,
		RecordID:      optionalStr(e.RecordID),
		Action:        e.Action,
		ActorID:       fc.ActorID,
		At:            at,
		Diffs:         e.Diffs,
		IP:            fc.IP,
		Device:        fc.Device,
		SessionID:     fc.SessionID,
		SignatureID:   fc.Signature.ID,
		SignatureHash: fc.Signature.Hash,
		Severity:      severity,
		IntegrityHash: computeIntegrityHash(w.key, e.TableName, e.RecordID, e.Action, at, fc.ActorID, e.Diffs),
	}

	diffsJSON, err := json.Marshal(rec.Diffs)
	if err != nil {
		return Record{}, fmt.Errorf("audit: marshal diffs: %w", err)
	}
	row := q.QueryRow(ctx, fmt.Sprintf(`INSERT INTO %s
(table_name, record_id, action, actor_id, at, diffs, ip, device, session_id, signature_id, signature_hash, severity, integrity_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`, table),
		rec.TableName, rec.RecordID, rec.Action, rec.ActorID, rec.At, diffsJSON,
		rec.IP, rec.Device, rec.SessionID, rec.SignatureID, rec.SignatureHash,
		string(rec.Severity), rec.IntegrityHash)
	if err := row.Scan(&rec.ID); err != nil {
		return Record{}, fmt.Errorf("audit: insert %s: %w", table, err)
	}
	if w.metrics != nil {
		w.metrics.AuditWrite(string(flavor))
	}
	return rec, nil
}

// ValidateIntegrity recomputes the hash from the record's stored fields and
// compares it with the stored value. Read-only; mismatches are reported,
// never repaired.
func (w *Writer) ValidateIntegrity(rec Record) bool {
	recordID := ""
	if rec.RecordID != nil {
		recordID = *rec.RecordID
	}
	want := computeIntegrityHash(w.key, rec.TableName, recordID, rec.Action, rec.At, rec.ActorID, rec.Diffs)
	return hmac.Equal([]byte(want), []byte(rec.IntegrityHash))
}

// WriteFailureDiagnostic records a transaction failure outside the failed
// scope: correlation id plus an operation fingerprint, never the payload.
func (w *Writer) WriteFailureDiagnostic(ctx context.Context, q db.Querier, actorID int64, operation string, cause error) (uuid.UUID, error) {
	correlationID := uuid.New()
	fp := sha256.Sum256([]byte(operation))
	if actorID <= 0 {
		actorID = systemActorID
	}
	fc := forensic.Context{ActorID: actorID, Signature: forensic.Signature{Method: forensic.MethodBasicAuth, Status: forensic.SignatureUnsigned}}
	_, err := w.Write(ctx, q, fc, Entry{
		Flavor:    FlavorEvent,
		TableName: "tx_failures",
		RecordID:  correlationID.String(),
		Action:    "TRANSACTION_FAILURE",
		Diffs: []FieldDiff{
			{Field: "fingerprint", New: hex.EncodeToString(fp[:8])},
			{Field: "error_class", New: errorClass(cause)},
		},
		Severity: SeverityCritical,
	})
	if err != nil {
		return correlationID, err
	}
	return correlationID, nil
}

func errorClass(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, shared.ErrTransactionFailure):
		return "transaction"
	case errors.Is(err, shared.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, shared.ErrIntegrityViolation):
		return "integrity"
	default:
		return "operation"
	}
}

func optionalStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
