package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-qms/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed reads over the audit tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, table_name, record_id, action, actor_id, at, diffs, ip, device, session_id, signature_id, signature_hash, severity, integrity_hash`

// ByCase returns records for a business record id, oldest first.
func (r *Repository) ByCase(ctx context.Context, flavor Flavor, recordID string) ([]Record, error) {
	return r.list(ctx, flavor, Filters{RecordID: recordID})
}

// ByUser returns records produced by an actor, oldest first.
func (r *Repository) ByUser(ctx context.Context, flavor Flavor, actorID int64) ([]Record, error) {
	return r.list(ctx, flavor, Filters{ActorID: actorID})
}

// ByAction returns records for one action type, oldest first.
func (r *Repository) ByAction(ctx context.Context, flavor Flavor, action string) ([]Record, error) {
	return r.list(ctx, flavor, Filters{Action: action})
}

// ByDateRange returns records inside [from, to), oldest first.
func (r *Repository) ByDateRange(ctx context.Context, flavor Flavor, from, to time.Time) ([]Record, error) {
	return r.list(ctx, flavor, Filters{From: from, To: to})
}

// List returns records matching all supplied filters, oldest first.
func (r *Repository) List(ctx context.Context, flavor Flavor, filters Filters) ([]Record, error) {
	return r.list(ctx, flavor, filters)
}

func (r *Repository) list(ctx context.Context, flavor Flavor, filters Filters) ([]Record, error) {
	table, ok := flavorTables[flavor]
	if !ok {
		return nil, fmt.Errorf("audit: unknown flavor %q", flavor)
	}

	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filters.RecordID != "" {
		add("record_id = $%d", filters.RecordID)
	}
	if filters.ActorID != 0 {
		add("actor_id = $%d", filters.ActorID)
	}
	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	if !filters.From.IsZero() {
		add("at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("at < $%d", filters.To)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, recordColumns, table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY at ASC, id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows, flavor)
}

// Page reads one page of records ordered by id, used by the integrity sweep.
func (r *Repository) Page(ctx context.Context, flavor Flavor, afterID int64, limit int) ([]Record, error) {
	table, ok := flavorTables[flavor]
	if !ok {
		return nil, fmt.Errorf("audit: unknown flavor %q", flavor)
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id > $1 ORDER BY id ASC LIMIT $2`, recordColumns, table), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows, flavor)
}

func scanRecords(rows pgx.Rows, flavor Flavor) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var diffsJSON []byte
		var severity string
		if err := rows.Scan(&rec.ID, &rec.TableName, &rec.RecordID, &rec.Action, &rec.ActorID, &rec.At,
			&diffsJSON, &rec.IP, &rec.Device, &rec.SessionID, &rec.SignatureID, &rec.SignatureHash,
			&severity, &rec.IntegrityHash); err != nil {
			return nil, err
		}
		if len(diffsJSON) > 0 {
			if err := json.Unmarshal(diffsJSON, &rec.Diffs); err != nil {
				return nil, fmt.Errorf("audit: decode diffs: %w", err)
			}
		}
		rec.Flavor = flavor
		rec.Severity = Severity(severity)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteRecord removes one audit row. Administrative path only: the caller
// must pair it with an audit write inside the same transaction scope, so it
// takes the caller's querier rather than the pool.
func (r *Repository) DeleteRecord(ctx context.Context, q db.Querier, flavor Flavor, id int64) (int64, error) {
	table, ok := flavorTables[flavor]
	if !ok {
		return 0, fmt.Errorf("audit: unknown flavor %q", flavor)
	}
	tag, err := q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
