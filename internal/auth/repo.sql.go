package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-qms/meridian/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, device string) error
	DeleteSession(ctx context.Context, id string) error
}

// SQLRepository implements Repository using PostgreSQL.
type SQLRepository struct {
	pool *pgxpool.Pool
}

// NewSQLRepository constructs a SQLRepository.
func NewSQLRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

// FindByEmail fetches a user by email.
func (r *SQLRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	const q = `
		SELECT id, email, password_hash, is_active, created_at, updated_at
		FROM users
		WHERE email = $1`
	var user User
	err := r.pool.QueryRow(ctx, q, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// CreateSession persists a new login session for later forensic lookup.
func (r *SQLRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, device string) error {
	const q = `
		INSERT INTO sessions (id, user_id, created_at, expires_at, ip, device)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`
	_, err := r.pool.Exec(ctx, q, id, userID, time.Now().UTC(), expiresAt.UTC(), ip, device)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// DeleteSession removes a session record.
func (r *SQLRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

var _ Repository = (*SQLRepository)(nil)
