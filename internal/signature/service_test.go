package signature

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/shared"
)

type memorySignatureRepo struct {
	hashes  map[int64]string
	active  map[int64]bool
	records map[uuid.UUID]Record
	credErr error
}

func newMemorySignatureRepo() *memorySignatureRepo {
	return &memorySignatureRepo{
		hashes:  make(map[int64]string),
		active:  make(map[int64]bool),
		records: make(map[uuid.UUID]Record),
	}
}

func (r *memorySignatureRepo) addUser(t *testing.T, id int64, password string, active bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	r.hashes[id] = string(hash)
	r.active[id] = active
}

func (r *memorySignatureRepo) FindCredentials(ctx context.Context, userID int64) (string, bool, error) {
	if r.credErr != nil {
		return "", false, r.credErr
	}
	hash, ok := r.hashes[userID]
	if !ok {
		return "", false, shared.ErrNotFound
	}
	return hash, r.active[userID], nil
}

func (r *memorySignatureRepo) Insert(ctx context.Context, rec Record) error {
	r.records[rec.ID] = rec
	return nil
}

func (r *memorySignatureRepo) FindByID(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func TestCaptureValidSignature(t *testing.T) {
	repo := newMemorySignatureRepo()
	repo.addUser(t, 9, "correct horse", true)
	svc := NewService(repo, []byte("key"), nil)

	res, err := svc.Capture(context.Background(), CaptureInput{
		UserID:       9,
		Password:     "correct horse",
		ReasonCode:   "QA-RELEASE",
		ReasonDetail: "lot 42 disposition",
		Note:         "released after retest",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.ID)
	require.Equal(t, forensic.MethodElectronic, res.Method)
	require.Equal(t, forensic.SignatureValid, res.Status)
	require.NotEmpty(t, res.Hash)

	stored := repo.records[res.ID]
	require.Equal(t, res.Hash, stored.Hash)
	require.Equal(t, "QA-RELEASE", stored.ReasonCode)
	require.NotNil(t, stored.Note)
	require.Nil(t, stored.RejectedAt)
}

func TestCaptureWrongPasswordPersistsRejection(t *testing.T) {
	repo := newMemorySignatureRepo()
	repo.addUser(t, 9, "correct horse", true)
	svc := NewService(repo, []byte("key"), nil)

	_, err := svc.Capture(context.Background(), CaptureInput{
		UserID:     9,
		Password:   "battery staple",
		ReasonCode: "QA-RELEASE",
	})
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	// The failed attempt is part of the record, not discarded.
	require.Len(t, repo.records, 1)
	for _, rec := range repo.records {
		require.Equal(t, forensic.SignatureRejected, rec.Status)
		require.NotNil(t, rec.RejectedAt)
	}
}

func TestCaptureRejectsInactiveOrUnknownUser(t *testing.T) {
	repo := newMemorySignatureRepo()
	repo.addUser(t, 9, "correct horse", false)
	svc := NewService(repo, []byte("key"), nil)

	_, err := svc.Capture(context.Background(), CaptureInput{UserID: 9, Password: "correct horse", ReasonCode: "QA"})
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Capture(context.Background(), CaptureInput{UserID: 404, Password: "x", ReasonCode: "QA"})
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	require.Empty(t, repo.records)
}

func TestCaptureDistinguishesInfrastructureFailure(t *testing.T) {
	repo := newMemorySignatureRepo()
	repo.credErr = errors.New("connection refused")
	svc := NewService(repo, []byte("key"), nil)

	// A storage outage is not a rejected password.
	_, err := svc.Capture(context.Background(), CaptureInput{UserID: 9, Password: "x", ReasonCode: "QA"})
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrInvalidCredentials)
	require.ErrorIs(t, err, repo.credErr)
}

func TestCaptureValidatesInput(t *testing.T) {
	svc := NewService(newMemorySignatureRepo(), []byte("key"), nil)

	_, err := svc.Capture(context.Background(), CaptureInput{UserID: 0, Password: "x", ReasonCode: "QA"})
	require.ErrorIs(t, err, shared.ErrValidationFailure)

	_, err = svc.Capture(context.Background(), CaptureInput{UserID: 9, Password: "x", ReasonCode: "  "})
	require.ErrorIs(t, err, shared.ErrValidationFailure)
}

func TestLookupReturnsStoredSignature(t *testing.T) {
	repo := newMemorySignatureRepo()
	repo.addUser(t, 9, "correct horse", true)
	svc := NewService(repo, []byte("key"), nil)

	captured, err := svc.Capture(context.Background(), CaptureInput{
		UserID: 9, Password: "correct horse", ReasonCode: "QA-RELEASE", ReasonDetail: "lot 42",
	})
	require.NoError(t, err)

	found, err := svc.Lookup(context.Background(), captured.ID)
	require.NoError(t, err)
	require.Equal(t, captured.ID, found.ID)
	require.Equal(t, captured.Hash, found.Hash)
}

func TestLookupNeverSynthesizes(t *testing.T) {
	repo := newMemorySignatureRepo()
	svc := NewService(repo, []byte("key"), nil)

	_, err := svc.Lookup(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, shared.ErrValidationFailure)

	_, err = svc.Lookup(context.Background(), uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLookupRejectsRejectedSignature(t *testing.T) {
	repo := newMemorySignatureRepo()
	repo.addUser(t, 9, "correct horse", true)
	svc := NewService(repo, []byte("key"), nil)

	_, err := svc.Capture(context.Background(), CaptureInput{UserID: 9, Password: "wrong", ReasonCode: "QA"})
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	var rejectedID uuid.UUID
	for id := range repo.records {
		rejectedID = id
	}
	_, err = svc.Lookup(context.Background(), rejectedID)
	require.ErrorIs(t, err, shared.ErrValidationFailure)
}

func TestLookupDetectsTamperedRecord(t *testing.T) {
	repo := newMemorySignatureRepo()
	repo.addUser(t, 9, "correct horse", true)
	svc := NewService(repo, []byte("key"), nil)

	captured, err := svc.Capture(context.Background(), CaptureInput{
		UserID: 9, Password: "correct horse", ReasonCode: "QA-RELEASE",
	})
	require.NoError(t, err)

	rec := repo.records[captured.ID]
	rec.ReasonCode = "PROD-OVERRIDE"
	repo.records[captured.ID] = rec

	_, err = svc.Lookup(context.Background(), captured.ID)
	require.ErrorIs(t, err, shared.ErrIntegrityViolation)
}
