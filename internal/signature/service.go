// Package signature captures electronic signatures. A signature is an
// authentication event re-verified against the actor's stored credentials
// and persisted before anything references it.
package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/shared"
)

// Record is a persisted electronic signature.
type Record struct {
	ID           uuid.UUID  `json:"id"`
	UserID       int64      `json:"user_id"`
	Hash         string     `json:"hash"`
	Method       string     `json:"method"`
	Status       string     `json:"status"`
	Note         *string    `json:"note,omitempty"`
	ReasonCode   string     `json:"reason_code"`
	ReasonDetail string     `json:"reason_detail"`
	SignedAt     time.Time  `json:"signed_at"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
}

// Repository is the persistence surface the service needs.
type Repository interface {
	FindCredentials(ctx context.Context, userID int64) (passwordHash string, active bool, err error)
	Insert(ctx context.Context, rec Record) error
	FindByID(ctx context.Context, id uuid.UUID) (Record, error)
}

// CaptureInput carries the UI-originated fields of a signature attempt.
type CaptureInput struct {
	UserID       int64
	Password     string
	ReasonCode   string
	ReasonDetail string
	Note         string
}

// Service mints and looks up signature records. It holds only immutable
// configuration and is safe for concurrent use.
type Service struct {
	repo   Repository
	key    []byte
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. key is the HMAC key shared with the
// audit integrity hash configuration.
func NewService(repo Repository, key []byte, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, key: key, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Capture re-verifies the actor's password and persists a signature
// record. A failed verification still persists the attempt with a rejected
// status, then fails with ErrInvalidCredentials so the caller cannot bind
// the signature to an action.
func (s *Service) Capture(ctx context.Context, in CaptureInput) (forensic.SignatureResult, error) {
	if in.UserID <= 0 {
		return forensic.SignatureResult{}, fmt.Errorf("signature: actor id required: %w", shared.ErrValidationFailure)
	}
	if strings.TrimSpace(in.ReasonCode) == "" {
		return forensic.SignatureResult{}, fmt.Errorf("signature: reason code required: %w", shared.ErrValidationFailure)
	}

	hash, active, err := s.repo.FindCredentials(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return forensic.SignatureResult{}, shared.ErrInvalidCredentials
		}
		return forensic.SignatureResult{}, fmt.Errorf("signature: load credentials: %w", err)
	}
	if !active {
		return forensic.SignatureResult{}, shared.ErrInvalidCredentials
	}

	verifyErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Password))

	rec := Record{
		ID:           uuid.New(),
		UserID:       in.UserID,
		Method:       forensic.MethodElectronic,
		Status:       forensic.SignatureValid,
		ReasonCode:   strings.TrimSpace(in.ReasonCode),
		ReasonDetail: strings.TrimSpace(in.ReasonDetail),
		SignedAt:     s.now(),
	}
	if note := strings.TrimSpace(in.Note); note != "" {
		rec.Note = &note
	}
	if verifyErr != nil {
		rec.Status = forensic.SignatureRejected
		at := rec.SignedAt
		rec.RejectedAt = &at
	}

	rec.Hash, err = s.computeHash(rec)
	if err != nil {
		return forensic.SignatureResult{}, fmt.Errorf("signature: compute hash: %w", err)
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return forensic.SignatureResult{}, fmt.Errorf("signature: persist: %w", err)
	}

	if verifyErr != nil {
		s.logger.Warn("signature rejected",
			slog.Int64("user_id", in.UserID),
			slog.String("signature_id", rec.ID.String()),
		)
		return forensic.SignatureResult{}, shared.ErrInvalidCredentials
	}
	return toResult(rec), nil
}

// Lookup returns the stored signature for id. It never synthesizes a
// result; a missing or rejected record is not bindable.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (forensic.SignatureResult, error) {
	if id == uuid.Nil {
		return forensic.SignatureResult{}, fmt.Errorf("signature: id required: %w", shared.ErrValidationFailure)
	}
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return forensic.SignatureResult{}, err
	}
	if rec.Status != forensic.SignatureValid {
		return forensic.SignatureResult{}, fmt.Errorf("signature %s has status %s: %w", id, rec.Status, shared.ErrValidationFailure)
	}
	expected, err := s.computeHash(rec)
	if err != nil {
		return forensic.SignatureResult{}, fmt.Errorf("signature: compute hash: %w", err)
	}
	if !hmac.Equal([]byte(expected), []byte(rec.Hash)) {
		return forensic.SignatureResult{}, fmt.Errorf("signature %s hash mismatch: %w", id, shared.ErrIntegrityViolation)
	}
	return toResult(rec), nil
}

type hashPayload struct {
	ID           string `json:"id"`
	UserID       int64  `json:"user_id"`
	Method       string `json:"method"`
	Status       string `json:"status"`
	ReasonCode   string `json:"reason_code"`
	ReasonDetail string `json:"reason_detail"`
	SignedAt     string `json:"signed_at"`
}

func (s *Service) computeHash(rec Record) (string, error) {
	payload, err := json.Marshal(hashPayload{
		ID:           rec.ID.String(),
		UserID:       rec.UserID,
		Method:       rec.Method,
		Status:       rec.Status,
		ReasonCode:   rec.ReasonCode,
		ReasonDetail: rec.ReasonDetail,
		SignedAt:     rec.SignedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func toResult(rec Record) forensic.SignatureResult {
	res := forensic.SignatureResult{
		ID:           rec.ID,
		Hash:         rec.Hash,
		Method:       rec.Method,
		Status:       rec.Status,
		ReasonCode:   rec.ReasonCode,
		ReasonDetail: rec.ReasonDetail,
	}
	if rec.Note != nil {
		res.Note = *rec.Note
	}
	return res
}
