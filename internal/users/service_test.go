package users

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-qms/meridian/internal/audit"
	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/db"
	"github.com/meridian-qms/meridian/internal/shared"
)

type memoryUsersRepo struct {
	users map[int64]User
}

func (r *memoryUsersRepo) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memoryUsersRepo) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *memoryUsersRepo) SetActive(ctx context.Context, q db.Querier, id int64, active bool) error {
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	r.users[id] = u
	return nil
}

type fakeAtomic struct {
	calls int
}

func (a *fakeAtomic) RunAtomic(ctx context.Context, operation string, fn func(pgx.Tx) error) error {
	a.calls++
	return fn(nil)
}

type auditRecorder struct {
	entries []audit.Entry
}

func (a *auditRecorder) Write(ctx context.Context, q db.Querier, fc forensic.Context, e audit.Entry) (audit.Record, error) {
	a.entries = append(a.entries, e)
	return audit.Record{}, nil
}

func adminContext(t *testing.T) forensic.Context {
	t.Helper()
	fc, err := forensic.New(1, "10.0.0.1", "", "sess-1", "account review", "")
	require.NoError(t, err)
	return fc
}

func TestSetActiveDeactivatesAndAudits(t *testing.T) {
	repo := &memoryUsersRepo{users: map[int64]User{7: {ID: 7, Email: "qa@meridian.local", IsActive: true}}}
	atomic := &fakeAtomic{}
	audits := &auditRecorder{}
	svc := NewService(repo, atomic, audits, nil)

	err := svc.SetActive(context.Background(), adminContext(t), 7, false, "left the company")
	require.NoError(t, err)
	require.False(t, repo.users[7].IsActive)

	require.Len(t, audits.entries, 1)
	entry := audits.entries[0]
	require.Equal(t, "USER_DEACTIVATED", entry.Action)
	require.Equal(t, "users", entry.TableName)
	require.Equal(t, audit.SeverityWarning, entry.Severity)
	require.Equal(t, "true", entry.Diffs[0].Old)
	require.Equal(t, "false", entry.Diffs[0].New)
}

func TestSetActiveRequiresReason(t *testing.T) {
	repo := &memoryUsersRepo{users: map[int64]User{7: {ID: 7, IsActive: true}}}
	atomic := &fakeAtomic{}
	svc := NewService(repo, atomic, &auditRecorder{}, nil)

	err := svc.SetActive(context.Background(), adminContext(t), 7, false, "")
	require.ErrorIs(t, err, shared.ErrValidationFailure)
	require.Zero(t, atomic.calls)
}

func TestSetActiveNoChangeIsNoop(t *testing.T) {
	repo := &memoryUsersRepo{users: map[int64]User{7: {ID: 7, IsActive: true}}}
	atomic := &fakeAtomic{}
	audits := &auditRecorder{}
	svc := NewService(repo, atomic, audits, nil)

	err := svc.SetActive(context.Background(), adminContext(t), 7, true, "already active")
	require.NoError(t, err)
	require.Zero(t, atomic.calls)
	require.Empty(t, audits.entries)
}

func TestSetActiveUnknownUser(t *testing.T) {
	repo := &memoryUsersRepo{users: map[int64]User{}}
	svc := NewService(repo, &fakeAtomic{}, &auditRecorder{}, nil)

	err := svc.SetActive(context.Background(), adminContext(t), 404, false, "cleanup")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
