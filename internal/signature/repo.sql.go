package signature

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-qms/meridian/internal/shared"
)

// SQLRepository is the postgres-backed Repository.
type SQLRepository struct {
	pool *pgxpool.Pool
}

// NewSQLRepository constructs a SQLRepository.
func NewSQLRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

// FindCredentials loads the stored password hash and active flag for a user.
func (r *SQLRepository) FindCredentials(ctx context.Context, userID int64) (string, bool, error) {
	const q = `SELECT password_hash, is_active FROM users WHERE id = $1`
	var hash string
	var active bool
	if err := r.pool.QueryRow(ctx, q, userID).Scan(&hash, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, shared.ErrNotFound
		}
		return "", false, fmt.Errorf("find credentials: %w", err)
	}
	return hash, active, nil
}

// Insert persists a signature record.
func (r *SQLRepository) Insert(ctx context.Context, rec Record) error {
	const q = `
		INSERT INTO electronic_signatures
			(id, user_id, hash, method, status, note, reason_code, reason_detail, signed_at, rejected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, q,
		rec.ID, rec.UserID, rec.Hash, rec.Method, rec.Status,
		rec.Note, rec.ReasonCode, rec.ReasonDetail, rec.SignedAt, rec.RejectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

// FindByID loads a signature record by id.
func (r *SQLRepository) FindByID(ctx context.Context, id uuid.UUID) (Record, error) {
	const q = `
		SELECT id, user_id, hash, method, status, note, reason_code, reason_detail, signed_at, rejected_at
		FROM electronic_signatures
		WHERE id = $1`
	var rec Record
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID, &rec.UserID, &rec.Hash, &rec.Method, &rec.Status,
		&rec.Note, &rec.ReasonCode, &rec.ReasonDetail, &rec.SignedAt, &rec.RejectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, fmt.Errorf("find signature: %w", err)
	}
	return rec, nil
}
