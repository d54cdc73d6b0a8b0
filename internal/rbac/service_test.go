package rbac

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-qms/meridian/internal/audit"
	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/db"
	"github.com/meridian-qms/meridian/internal/shared"
)

type memoryRBACRepo struct {
	direct      map[int64][]PermissionGrant
	derived     map[int64][]DerivedPermission
	delegations map[int64][]DelegatedPermission

	roles            map[int64]Role
	rolePerms        map[int64][]string
	activeRoleGrants map[int64]int64
	requests         map[int64]PermissionRequest
	permGrants       []PermissionGrant
	roleGrants       []RoleGrant

	nextID         int64
	readErr        error
	writeErr       error
	forUpdateReads int
}

func newMemoryRBACRepo() *memoryRBACRepo {
	return &memoryRBACRepo{
		direct:           make(map[int64][]PermissionGrant),
		derived:          make(map[int64][]DerivedPermission),
		delegations:      make(map[int64][]DelegatedPermission),
		roles:            make(map[int64]Role),
		rolePerms:        make(map[int64][]string),
		activeRoleGrants: make(map[int64]int64),
		requests:         make(map[int64]PermissionRequest),
	}
}

func (r *memoryRBACRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRBACRepo) ActiveDirectGrants(ctx context.Context, userID int64) ([]PermissionGrant, error) {
	if r.readErr != nil {
		return nil, r.readErr
	}
	return r.direct[userID], nil
}

func (r *memoryRBACRepo) ActiveRoleDerived(ctx context.Context, userID int64) ([]DerivedPermission, error) {
	if r.readErr != nil {
		return nil, r.readErr
	}
	return r.derived[userID], nil
}

func (r *memoryRBACRepo) ActiveDelegations(ctx context.Context, userID int64) ([]DelegatedPermission, error) {
	if r.readErr != nil {
		return nil, r.readErr
	}
	return r.delegations[userID], nil
}

func (r *memoryRBACRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (r *memoryRBACRepo) GetRoleForUpdate(ctx context.Context, q db.Querier, id int64) (Role, error) {
	r.forUpdateReads++
	return r.GetRole(ctx, id)
}

func (r *memoryRBACRepo) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out, nil
}

func (r *memoryRBACRepo) InsertRole(ctx context.Context, q db.Querier, name, description string) (Role, error) {
	if r.writeErr != nil {
		return Role{}, r.writeErr
	}
	role := Role{ID: r.id(), Name: name, Description: description}
	r.roles[role.ID] = role
	return role, nil
}

func (r *memoryRBACRepo) UpdateRole(ctx context.Context, q db.Querier, id int64, name, description string) (Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	role.Name = name
	role.Description = description
	r.roles[id] = role
	return role, nil
}

func (r *memoryRBACRepo) DeleteRole(ctx context.Context, q db.Querier, id int64) (int64, error) {
	if _, ok := r.roles[id]; !ok {
		return 0, nil
	}
	delete(r.roles, id)
	return 1, nil
}

func (r *memoryRBACRepo) CountActiveRoleGrants(ctx context.Context, q db.Querier, roleID int64) (int64, error) {
	return r.activeRoleGrants[roleID], nil
}

func (r *memoryRBACRepo) ListRolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	return r.rolePerms[roleID], nil
}

func (r *memoryRBACRepo) AttachRolePermission(ctx context.Context, q db.Querier, roleID int64, code string) error {
	r.rolePerms[roleID] = append(r.rolePerms[roleID], code)
	return nil
}

func (r *memoryRBACRepo) DetachRolePermission(ctx context.Context, q db.Querier, roleID int64, code string) error {
	kept := r.rolePerms[roleID][:0]
	for _, c := range r.rolePerms[roleID] {
		if c != code {
			kept = append(kept, c)
		}
	}
	r.rolePerms[roleID] = kept
	return nil
}

func (r *memoryRBACRepo) InsertRoleGrant(ctx context.Context, q db.Querier, grant RoleGrant) (RoleGrant, error) {
	if r.writeErr != nil {
		return RoleGrant{}, r.writeErr
	}
	grant.ID = r.id()
	r.roleGrants = append(r.roleGrants, grant)
	r.activeRoleGrants[grant.RoleID]++
	return grant, nil
}

func (r *memoryRBACRepo) RevokeRoleGrant(ctx context.Context, q db.Querier, userID, roleID int64, at time.Time, reason string) (int64, error) {
	for i, g := range r.roleGrants {
		if g.UserID == userID && g.RoleID == roleID && g.RevokedAt == nil {
			r.roleGrants[i].RevokedAt = &at
			r.roleGrants[i].RevokeReason = &reason
			r.activeRoleGrants[roleID]--
			return 1, nil
		}
	}
	return 0, nil
}

func (r *memoryRBACRepo) InsertPermissionGrant(ctx context.Context, q db.Querier, grant PermissionGrant) (PermissionGrant, error) {
	if r.writeErr != nil {
		return PermissionGrant{}, r.writeErr
	}
	grant.ID = r.id()
	r.permGrants = append(r.permGrants, grant)
	r.direct[grant.UserID] = append(r.direct[grant.UserID], grant)
	return grant, nil
}

func (r *memoryRBACRepo) RevokePermissionGrant(ctx context.Context, q db.Querier, userID int64, code string, at time.Time, reason string) (int64, error) {
	var revoked int64
	kept := r.direct[userID][:0]
	for _, g := range r.direct[userID] {
		if g.Code == code {
			revoked++
			continue
		}
		kept = append(kept, g)
	}
	r.direct[userID] = kept
	return revoked, nil
}

func (r *memoryRBACRepo) InsertDelegation(ctx context.Context, q db.Querier, d DelegatedPermission) (DelegatedPermission, error) {
	if r.writeErr != nil {
		return DelegatedPermission{}, r.writeErr
	}
	d.ID = r.id()
	r.delegations[d.ToUserID] = append(r.delegations[d.ToUserID], d)
	return d, nil
}

func (r *memoryRBACRepo) RevokeDelegation(ctx context.Context, q db.Querier, id int64, at time.Time, reason string) (int64, error) {
	for userID, list := range r.delegations {
		for i, d := range list {
			if d.ID == id && !d.Revoked {
				list[i].Revoked = true
				list[i].RevokedAt = &at
				list[i].RevokeReason = &reason
				r.delegations[userID] = list
				return 1, nil
			}
		}
	}
	return 0, nil
}

func (r *memoryRBACRepo) InsertRequest(ctx context.Context, q db.Querier, req PermissionRequest) (PermissionRequest, error) {
	req.ID = r.id()
	r.requests[req.ID] = req
	return req, nil
}

func (r *memoryRBACRepo) GetRequestForUpdate(ctx context.Context, q db.Querier, id int64) (PermissionRequest, error) {
	req, ok := r.requests[id]
	if !ok {
		return PermissionRequest{}, shared.ErrNotFound
	}
	return req, nil
}

func (r *memoryRBACRepo) UpdateRequestStatus(ctx context.Context, q db.Querier, id int64, status RequestStatus, decidedBy int64, at time.Time, comment string) (int64, error) {
	req, ok := r.requests[id]
	if !ok || req.Status != RequestPending {
		return 0, nil
	}
	req.Status = status
	req.DecidedBy = &decidedBy
	req.DecidedAt = &at
	req.DecisionComment = &comment
	r.requests[id] = req
	return 1, nil
}

func (r *memoryRBACRepo) ListPendingRequests(ctx context.Context) ([]PermissionRequest, error) {
	var out []PermissionRequest
	for _, req := range r.requests {
		if req.Status == RequestPending {
			out = append(out, req)
		}
	}
	return out, nil
}

type fakeAtomic struct {
	calls int
	err   error
}

func (a *fakeAtomic) RunAtomic(ctx context.Context, operation string, fn func(pgx.Tx) error) error {
	a.calls++
	if a.err != nil {
		return a.err
	}
	return fn(nil)
}

type auditRecorder struct {
	entries []audit.Entry
	err     error
}

func (a *auditRecorder) Write(ctx context.Context, q db.Querier, fc forensic.Context, e audit.Entry) (audit.Record, error) {
	if a.err != nil {
		return audit.Record{}, a.err
	}
	a.entries = append(a.entries, e)
	return audit.Record{ID: int64(len(a.entries))}, nil
}

type deniedCounter struct {
	codes []string
}

func (m *deniedCounter) PermissionDenied(code string) {
	m.codes = append(m.codes, code)
}

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestEnforcer(repo Repository) (*Enforcer, *fakeAtomic, *auditRecorder, *deniedCounter) {
	atomic := &fakeAtomic{}
	audits := &auditRecorder{}
	metrics := &deniedCounter{}
	e := NewEnforcer(repo, atomic, audits, nil, metrics)
	e.now = func() time.Time { return testNow }
	return e, atomic, audits, metrics
}

func testContext(t *testing.T, actorID int64) forensic.Context {
	t.Helper()
	fc, err := forensic.New(actorID, "10.0.0.5", "Firefox 128 on Linux (desktop)", "sess-1", "test reason", "")
	require.NoError(t, err)
	return fc
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestEffectivePermissionsUnion(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.direct[7] = []PermissionGrant{
		{UserID: 7, Code: "audit.view"},
		{UserID: 7, Code: "expired.direct", ExpiresAt: ptrTime(testNow.Add(-time.Hour))},
	}
	repo.derived[7] = []DerivedPermission{
		{Code: "roles.view"},
		{Code: "expired.role", ExpiresAt: ptrTime(testNow.Add(-time.Minute))},
	}
	repo.delegations[7] = []DelegatedPermission{
		{Code: "capa.approve", ExpiresAt: testNow.Add(time.Hour)},
		{Code: "expired.delegation", ExpiresAt: testNow.Add(-time.Second)},
		{Code: "revoked.delegation", ExpiresAt: testNow.Add(time.Hour), Revoked: true},
	}
	e, _, _, _ := newTestEnforcer(repo)

	codes, err := e.GetAllUserPermissions(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"audit.view", "capa.approve", "roles.view"}, codes)

	require.NoError(t, e.AssertPermission(context.Background(), 7, "audit.view"))
	require.NoError(t, e.AssertPermission(context.Background(), 7, "capa.approve"))
	require.ErrorIs(t, e.AssertPermission(context.Background(), 7, "expired.direct"), shared.ErrPermissionDenied)
	require.ErrorIs(t, e.AssertPermission(context.Background(), 7, "expired.delegation"), shared.ErrPermissionDenied)
	require.ErrorIs(t, e.AssertPermission(context.Background(), 7, "revoked.delegation"), shared.ErrPermissionDenied)
}

func TestAssertPermissionCountsDenials(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, _, _, metrics := newTestEnforcer(repo)

	err := e.AssertPermission(context.Background(), 3, "users.edit")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.Equal(t, []string{"users.edit"}, metrics.codes)
}

func TestHasPermissionNeverFails(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.readErr = errors.New("connection refused")
	e, _, _, _ := newTestEnforcer(repo)

	require.False(t, e.HasPermission(context.Background(), 3, "users.edit"))
}

func TestPermissionCodesMatchExactly(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.direct[7] = []PermissionGrant{{UserID: 7, Code: "audit.view"}}
	e, _, _, _ := newTestEnforcer(repo)

	require.ErrorIs(t, e.AssertPermission(context.Background(), 7, "AUDIT.VIEW"), shared.ErrPermissionDenied)
	require.NoError(t, e.AssertPermission(context.Background(), 7, "  audit.view  "))
}

func TestGrantRoleWritesExactlyOneAuditRecord(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, atomic, audits, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	grant, err := e.GrantRole(context.Background(), fc, 7, 2, nil)
	require.NoError(t, err)
	require.NotZero(t, grant.ID)
	require.Equal(t, int64(1), grant.GrantedBy)
	require.Equal(t, 1, atomic.calls)
	require.Len(t, audits.entries, 1)
	require.Equal(t, "GRANT_ROLE", audits.entries[0].Action)
	require.Equal(t, "user_role", audits.entries[0].TableName)
}

func TestGrantRoleRejectsPastExpiry(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, atomic, _, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	_, err := e.GrantRole(context.Background(), fc, 7, 2, ptrTime(testNow.Add(-time.Hour)))
	require.ErrorIs(t, err, shared.ErrValidationFailure)
	require.Zero(t, atomic.calls)
}

func TestGrantFailsWhenAuditWriteFails(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, _, audits, _ := newTestEnforcer(repo)
	audits.err = errors.New("disk full")
	fc := testContext(t, 1)

	_, err := e.GrantPermission(context.Background(), fc, 7, "audit.view", nil)
	require.Error(t, err)
}

func TestRevokeRoleRequiresReason(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, atomic, _, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	err := e.RevokeRole(context.Background(), fc, 7, 2, "   ")
	require.ErrorIs(t, err, shared.ErrValidationFailure)
	require.Zero(t, atomic.calls)
}

func TestRevokeRoleUnknownGrant(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, _, _, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	err := e.RevokeRole(context.Background(), fc, 7, 2, "offboarding")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGrantThenRevokePermissionAuditsBoth(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, _, audits, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	_, err := e.GrantPermission(context.Background(), fc, 7, "capa.approve", nil)
	require.NoError(t, err)
	require.NoError(t, e.AssertPermission(context.Background(), 7, "capa.approve"))

	require.NoError(t, e.RevokePermission(context.Background(), fc, 7, "capa.approve", "separation of duties"))
	require.ErrorIs(t, e.AssertPermission(context.Background(), 7, "capa.approve"), shared.ErrPermissionDenied)

	require.Len(t, audits.entries, 2)
	require.Equal(t, "GRANT_PERMISSION", audits.entries[0].Action)
	require.Equal(t, "REVOKE_PERMISSION", audits.entries[1].Action)
}

func TestDelegateRequiresDelegatorToHoldPermission(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, _, _, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	_, err := e.DelegatePermission(context.Background(), fc, 7, "capa.approve", testNow.Add(time.Hour))
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestDelegateRejectsSelfAndPastExpiry(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.direct[1] = []PermissionGrant{{UserID: 1, Code: "capa.approve"}}
	e, _, _, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	_, err := e.DelegatePermission(context.Background(), fc, 1, "capa.approve", testNow.Add(time.Hour))
	require.ErrorIs(t, err, shared.ErrValidationFailure)

	_, err = e.DelegatePermission(context.Background(), fc, 7, "capa.approve", testNow)
	require.ErrorIs(t, err, shared.ErrValidationFailure)
}

func TestDelegationLifecycle(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.direct[1] = []PermissionGrant{{UserID: 1, Code: "capa.approve"}}
	e, _, audits, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	d, err := e.DelegatePermission(context.Background(), fc, 7, "capa.approve", testNow.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, e.AssertPermission(context.Background(), 7, "capa.approve"))

	require.NoError(t, e.RevokeDelegatedPermission(context.Background(), fc, d.ID, "early revocation"))
	require.ErrorIs(t, e.AssertPermission(context.Background(), 7, "capa.approve"), shared.ErrPermissionDenied)

	require.Len(t, audits.entries, 2)
	require.Equal(t, "DELEGATE_PERMISSION", audits.entries[0].Action)
	require.Equal(t, "REVOKE_DELEGATION", audits.entries[1].Action)
}

func TestApprovalWorkflow(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, _, audits, _ := newTestEnforcer(repo)
	requester := testContext(t, 7)
	approver := testContext(t, 1)

	req, err := e.RequestPermission(context.Background(), requester, "audit.export", "quarterly review")
	require.NoError(t, err)
	require.Equal(t, RequestPending, req.Status)

	require.NoError(t, e.ApprovePermissionRequest(context.Background(), approver, req.ID, "approved for Q1"))
	require.NoError(t, e.AssertPermission(context.Background(), 7, "audit.export"))

	// A terminal request cannot be decided again.
	err = e.ApprovePermissionRequest(context.Background(), approver, req.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	err = e.DenyPermissionRequest(context.Background(), approver, req.ID, "too late")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	// Request, approval with its grant: one audit record each.
	require.Len(t, audits.entries, 2)
	require.Equal(t, "REQUEST_PERMISSION", audits.entries[0].Action)
	require.Equal(t, "APPROVE_PERMISSION_REQUEST", audits.entries[1].Action)
}

func TestDenyRequiresComment(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, _, _, _ := newTestEnforcer(repo)
	requester := testContext(t, 7)
	approver := testContext(t, 1)

	req, err := e.RequestPermission(context.Background(), requester, "audit.export", "need it")
	require.NoError(t, err)

	require.ErrorIs(t, e.DenyPermissionRequest(context.Background(), approver, req.ID, " "), shared.ErrValidationFailure)

	require.NoError(t, e.DenyPermissionRequest(context.Background(), approver, req.ID, "not justified"))
	require.ErrorIs(t, e.AssertPermission(context.Background(), 7, "audit.export"), shared.ErrPermissionDenied)
}

func TestDeleteRoleRejectedWhileGranted(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, _, audits, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	role, err := e.CreateRole(context.Background(), fc, "quality_manager", "Approvals")
	require.NoError(t, err)
	_, err = e.GrantRole(context.Background(), fc, 7, role.ID, nil)
	require.NoError(t, err)

	err = e.DeleteRole(context.Background(), fc, role.ID)
	require.ErrorIs(t, err, shared.ErrRoleInUse)

	require.NoError(t, e.RevokeRole(context.Background(), fc, 7, role.ID, "role retired"))
	require.NoError(t, e.DeleteRole(context.Background(), fc, role.ID))

	var actions []string
	for _, entry := range audits.entries {
		actions = append(actions, entry.Action)
	}
	require.Equal(t, []string{"CREATE_ROLE", "GRANT_ROLE", "REVOKE_ROLE", "DELETE_ROLE"}, actions)
}

func TestUpdateRoleAuditsOldAndNew(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, _, audits, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	role, err := e.CreateRole(context.Background(), fc, "auditor", "read only")
	require.NoError(t, err)

	_, err = e.UpdateRole(context.Background(), fc, role.ID, "lead_auditor", "read only, leads reviews")
	require.NoError(t, err)

	entry := audits.entries[len(audits.entries)-1]
	require.Equal(t, "UPDATE_ROLE", entry.Action)
	require.Equal(t, "auditor", entry.Diffs[0].Old)
	require.Equal(t, "lead_auditor", entry.Diffs[0].New)

	// The old snapshot is read inside the transaction scope, not off the
	// pool, so the diff cannot race a concurrent update.
	require.Equal(t, 1, repo.forUpdateReads)
}

func TestSetRolePermissionsDiffs(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.roles[4] = Role{ID: 4, Name: "operator"}
	repo.rolePerms[4] = []string{"users.view", "roles.view"}
	e, atomic, audits, _ := newTestEnforcer(repo)
	fc := testContext(t, 1)

	require.NoError(t, e.SetRolePermissions(context.Background(), fc, 4, []string{"users.view", "audit.view"}))
	require.ElementsMatch(t, []string{"users.view", "audit.view"}, repo.rolePerms[4])
	require.Len(t, audits.entries, 1)
	require.Equal(t, "SET_ROLE_PERMISSIONS", audits.entries[0].Action)

	// No change, no transaction and no audit noise.
	require.NoError(t, e.SetRolePermissions(context.Background(), fc, 4, []string{"audit.view", "users.view"}))
	require.Equal(t, 1, atomic.calls)
	require.Len(t, audits.entries, 1)
}

func TestAtomicFailurePropagates(t *testing.T) {
	repo := newMemoryRBACRepo()
	e, atomic, _, _ := newTestEnforcer(repo)
	atomic.err = fmt.Errorf("commit failed: %w", shared.ErrTransactionFailure)
	fc := testContext(t, 1)

	_, err := e.GrantPermission(context.Background(), fc, 7, "audit.view", nil)
	require.ErrorIs(t, err, shared.ErrTransactionFailure)
}
