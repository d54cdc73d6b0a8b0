package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SchemaVersion is the schema revision this build expects. The mapping of
// audit flavors to tables is fixed per revision, so one startup check
// replaces per-read column probing.
const SchemaVersion = 3

// ValidateSchema confirms the database carries the expected schema revision.
// Called once at startup.
func ValidateSchema(ctx context.Context, q Querier) error {
	var version int
	err := q.QueryRow(ctx, `SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1`).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("platform/db: schema_version table is empty")
		}
		return fmt.Errorf("platform/db: read schema version: %w", err)
	}
	if version != SchemaVersion {
		return fmt.Errorf("platform/db: schema version %d found, %d required", version, SchemaVersion)
	}
	return nil
}
