package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-qms/meridian/internal/audit"
	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/db"
	"github.com/meridian-qms/meridian/internal/shared"
)

// Atomic runs a unit of work in one transaction scope.
type Atomic interface {
	RunAtomic(ctx context.Context, operation string, fn func(pgx.Tx) error) error
}

// AuditWriter appends an audit row on the supplied querier.
type AuditWriter interface {
	Write(ctx context.Context, q db.Querier, fc forensic.Context, e audit.Entry) (audit.Record, error)
}

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	SetActive(ctx context.Context, q db.Querier, id int64, active bool) error
}

// Service wraps user administration rules.
type Service struct {
	repo   RepositoryPort
	atomic Atomic
	audits AuditWriter
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, atomic Atomic, audits AuditWriter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, atomic: atomic, audits: audits, logger: logger}
}

// ListUsers returns all user accounts.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// SetActive activates or deactivates a user. A reason is mandatory and the
// change is written with its audit record in one transaction.
func (s *Service) SetActive(ctx context.Context, fc forensic.Context, userID int64, active bool, reason string) error {
	if reason == "" {
		return fmt.Errorf("users: reason required: %w", shared.ErrValidationFailure)
	}
	current, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if current.IsActive == active {
		return nil
	}

	action := "USER_DEACTIVATED"
	if active {
		action = "USER_ACTIVATED"
	}
	return s.atomic.RunAtomic(ctx, "users.set_active", func(tx pgx.Tx) error {
		if err := s.repo.SetActive(ctx, tx, userID, active); err != nil {
			return err
		}
		_, err := s.audits.Write(ctx, tx, fc, audit.Entry{
			Flavor:    audit.FlavorEvent,
			TableName: "users",
			RecordID:  strconv.FormatInt(userID, 10),
			Action:    action,
			Diffs: []audit.FieldDiff{
				{Field: "is_active", Old: strconv.FormatBool(current.IsActive), New: strconv.FormatBool(active)},
			},
			Severity: audit.SeverityWarning,
		})
		return err
	})
}
