package tx

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-qms/meridian/internal/audit"
)

// AuditDiagnostics records transaction failures as diagnostic audit entries
// on a fresh connection, outside the failed scope.
type AuditDiagnostics struct {
	pool   *pgxpool.Pool
	writer *audit.Writer
	logger *slog.Logger
}

// NewAuditDiagnostics constructs the recorder.
func NewAuditDiagnostics(pool *pgxpool.Pool, writer *audit.Writer, logger *slog.Logger) *AuditDiagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditDiagnostics{pool: pool, writer: writer, logger: logger}
}

// RecordFailure writes the diagnostic entry. Failures here are logged only;
// the original transaction error has already been surfaced to the caller.
func (d *AuditDiagnostics) RecordFailure(ctx context.Context, operation string, cause error) {
	correlationID, err := d.writer.WriteFailureDiagnostic(ctx, d.pool, 0, operation, cause)
	if err != nil {
		d.logger.Error("record failure diagnostic",
			slog.String("operation", operation),
			slog.Any("error", err))
		return
	}
	d.logger.Warn("transaction failure recorded",
		slog.String("operation", operation),
		slog.String("correlation_id", correlationID.String()))
}
