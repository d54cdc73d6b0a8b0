package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-qms/meridian/internal/audit"
	"github.com/meridian-qms/meridian/internal/forensic"
	"github.com/meridian-qms/meridian/internal/platform/db"
	"github.com/meridian-qms/meridian/internal/shared"
)

// Repository is the persistence contract the enforcer runs on. Reads go to
// the pool; mutations take the caller's transactional querier so they share
// the atomic scope of their paired audit write.
type Repository interface {
	ActiveDirectGrants(ctx context.Context, userID int64) ([]PermissionGrant, error)
	ActiveRoleDerived(ctx context.Context, userID int64) ([]DerivedPermission, error)
	ActiveDelegations(ctx context.Context, userID int64) ([]DelegatedPermission, error)

	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleForUpdate(ctx context.Context, q db.Querier, id int64) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	InsertRole(ctx context.Context, q db.Querier, name, description string) (Role, error)
	UpdateRole(ctx context.Context, q db.Querier, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, q db.Querier, id int64) (int64, error)
	CountActiveRoleGrants(ctx context.Context, q db.Querier, roleID int64) (int64, error)
	ListRolePermissions(ctx context.Context, roleID int64) ([]string, error)
	AttachRolePermission(ctx context.Context, q db.Querier, roleID int64, code string) error
	DetachRolePermission(ctx context.Context, q db.Querier, roleID int64, code string) error

	InsertRoleGrant(ctx context.Context, q db.Querier, grant RoleGrant) (RoleGrant, error)
	RevokeRoleGrant(ctx context.Context, q db.Querier, userID, roleID int64, at time.Time, reason string) (int64, error)
	InsertPermissionGrant(ctx context.Context, q db.Querier, grant PermissionGrant) (PermissionGrant, error)
	RevokePermissionGrant(ctx context.Context, q db.Querier, userID int64, code string, at time.Time, reason string) (int64, error)
	InsertDelegation(ctx context.Context, q db.Querier, d DelegatedPermission) (DelegatedPermission, error)
	RevokeDelegation(ctx context.Context, q db.Querier, id int64, at time.Time, reason string) (int64, error)

	InsertRequest(ctx context.Context, q db.Querier, req PermissionRequest) (PermissionRequest, error)
	GetRequestForUpdate(ctx context.Context, q db.Querier, id int64) (PermissionRequest, error)
	UpdateRequestStatus(ctx context.Context, q db.Querier, id int64, status RequestStatus, decidedBy int64, at time.Time, comment string) (int64, error)
	ListPendingRequests(ctx context.Context) ([]PermissionRequest, error)
}

// Atomic runs a unit of work in one transaction scope.
type Atomic interface {
	RunAtomic(ctx context.Context, operation string, fn func(pgx.Tx) error) error
}

// AuditWriter appends an audit row on the supplied querier.
type AuditWriter interface {
	Write(ctx context.Context, q db.Querier, fc forensic.Context, e audit.Entry) (audit.Record, error)
}

// Metrics is the slice of observability the enforcer reports into.
type Metrics interface {
	PermissionDenied(code string)
}

// Enforcer orchestrates RBAC operations. It holds only immutable
// configuration and is safe for concurrent reuse.
type Enforcer struct {
	repo    Repository
	atomic  Atomic
	audits  AuditWriter
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

// NewEnforcer constructs an Enforcer.
func NewEnforcer(repo Repository, atomic Atomic, audits AuditWriter, logger *slog.Logger, metrics Metrics) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		repo:    repo,
		atomic:  atomic,
		audits:  audits,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// AssertPermission fails unless code is in the user's effective set at call
// time. The result is authoritative only at the instant of evaluation and is
// never cached across calls.
func (e *Enforcer) AssertPermission(ctx context.Context, userID int64, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("rbac: permission code required: %w", shared.ErrValidationFailure)
	}
	effective, err := e.effectiveSet(ctx, userID)
	if err != nil {
		return fmt.Errorf("rbac: resolve permissions for user %d: %w", userID, err)
	}
	if _, ok := effective[code]; !ok {
		if e.metrics != nil {
			e.metrics.PermissionDenied(code)
		}
		return fmt.Errorf("rbac: user %d lacks %s: %w", userID, code, shared.ErrPermissionDenied)
	}
	return nil
}

// HasPermission evaluates the same predicate as AssertPermission but returns
// a boolean and never fails; lookup errors log and report false.
func (e *Enforcer) HasPermission(ctx context.Context, userID int64, code string) bool {
	effective, err := e.effectiveSet(ctx, userID)
	if err != nil {
		e.logger.Error("resolve permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		return false
	}
	_, ok := effective[strings.TrimSpace(code)]
	return ok
}

// GetAllUserPermissions returns the deduplicated union of the user's
// effective permission codes.
func (e *Enforcer) GetAllUserPermissions(ctx context.Context, userID int64) ([]string, error) {
	effective, err := e.effectiveSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(effective))
	for code := range effective {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// effectiveSet is direct ∪ role-derived ∪ active delegated, filtered by
// expiry against the enforcer's clock.
func (e *Enforcer) effectiveSet(ctx context.Context, userID int64) (map[string]struct{}, error) {
	now := e.now()
	set := make(map[string]struct{})

	direct, err := e.repo.ActiveDirectGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, g := range direct {
		if g.ExpiresAt == nil || now.Before(*g.ExpiresAt) {
			set[g.Code] = struct{}{}
		}
	}

	derived, err := e.repo.ActiveRoleDerived(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, d := range derived {
		if d.ExpiresAt == nil || now.Before(*d.ExpiresAt) {
			set[d.Code] = struct{}{}
		}
	}

	delegated, err := e.repo.ActiveDelegations(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, d := range delegated {
		if !d.Revoked && now.Before(d.ExpiresAt) {
			set[d.Code] = struct{}{}
		}
	}

	return set, nil
}

// GrantRole assigns a role to a user. A nil expiry means permanent.
func (e *Enforcer) GrantRole(ctx context.Context, fc forensic.Context, userID, roleID int64, expiresAt *time.Time) (RoleGrant, error) {
	if userID <= 0 || roleID <= 0 {
		return RoleGrant{}, fmt.Errorf("rbac: user and role required: %w", shared.ErrValidationFailure)
	}
	if err := e.validateExpiry(expiresAt); err != nil {
		return RoleGrant{}, err
	}
	var grant RoleGrant
	err := e.atomic.RunAtomic(ctx, "rbac.grant_role", func(txq pgx.Tx) error {
		var err error
		grant, err = e.repo.InsertRoleGrant(ctx, txq, RoleGrant{
			UserID:    userID,
			RoleID:    roleID,
			GrantedBy: fc.ActorID,
			GrantedAt: e.now().UTC(),
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return err
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "user_role",
			RecordID:  strconv.FormatInt(grant.ID, 10),
			Action:    "GRANT_ROLE",
			Diffs: []audit.FieldDiff{
				{Field: "user_id", New: strconv.FormatInt(userID, 10)},
				{Field: "role_id", New: strconv.FormatInt(roleID, 10)},
				{Field: "expires_at", New: formatExpiry(expiresAt)},
			},
		})
		return err
	})
	if err != nil {
		return RoleGrant{}, err
	}
	return grant, nil
}

// RevokeRole revokes an active role grant. The reason is mandatory and the
// grant row is stamped, never deleted.
func (e *Enforcer) RevokeRole(ctx context.Context, fc forensic.Context, userID, roleID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("rbac: revoke reason required: %w", shared.ErrValidationFailure)
	}
	return e.atomic.RunAtomic(ctx, "rbac.revoke_role", func(txq pgx.Tx) error {
		rows, err := e.repo.RevokeRoleGrant(ctx, txq, userID, roleID, e.now().UTC(), reason)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("rbac: no active grant of role %d for user %d: %w", roleID, userID, shared.ErrNotFound)
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "user_role",
			RecordID:  strconv.FormatInt(userID, 10),
			Action:    "REVOKE_ROLE",
			Diffs: []audit.FieldDiff{
				{Field: "role_id", Old: strconv.FormatInt(roleID, 10)},
				{Field: "reason", New: reason},
			},
			Severity: audit.SeverityWarning,
		})
		return err
	})
}

// GrantPermission assigns a direct permission grant to a user.
func (e *Enforcer) GrantPermission(ctx context.Context, fc forensic.Context, userID int64, code string, expiresAt *time.Time) (PermissionGrant, error) {
	code = strings.TrimSpace(code)
	if userID <= 0 || code == "" {
		return PermissionGrant{}, fmt.Errorf("rbac: user and permission code required: %w", shared.ErrValidationFailure)
	}
	if err := e.validateExpiry(expiresAt); err != nil {
		return PermissionGrant{}, err
	}
	var grant PermissionGrant
	err := e.atomic.RunAtomic(ctx, "rbac.grant_permission", func(txq pgx.Tx) error {
		var err error
		grant, err = e.repo.InsertPermissionGrant(ctx, txq, PermissionGrant{
			UserID:    userID,
			Code:      code,
			GrantedBy: fc.ActorID,
			GrantedAt: e.now().UTC(),
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return err
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "user_permission",
			RecordID:  strconv.FormatInt(grant.ID, 10),
			Action:    "GRANT_PERMISSION",
			Diffs: []audit.FieldDiff{
				{Field: "user_id", New: strconv.FormatInt(userID, 10)},
				{Field: "code", New: code},
				{Field: "expires_at", New: formatExpiry(expiresAt)},
			},
		})
		return err
	})
	if err != nil {
		return PermissionGrant{}, err
	}
	return grant, nil
}

// RevokePermission revokes an active direct grant with a mandatory reason.
func (e *Enforcer) RevokePermission(ctx context.Context, fc forensic.Context, userID int64, code, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("rbac: revoke reason required: %w", shared.ErrValidationFailure)
	}
	return e.atomic.RunAtomic(ctx, "rbac.revoke_permission", func(txq pgx.Tx) error {
		rows, err := e.repo.RevokePermissionGrant(ctx, txq, userID, code, e.now().UTC(), reason)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("rbac: no active grant of %s for user %d: %w", code, userID, shared.ErrNotFound)
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "user_permission",
			RecordID:  strconv.FormatInt(userID, 10),
			Action:    "REVOKE_PERMISSION",
			Diffs: []audit.FieldDiff{
				{Field: "code", Old: code},
				{Field: "reason", New: reason},
			},
			Severity: audit.SeverityWarning,
		})
		return err
	})
}

// DelegatePermission creates a time-bounded delegation from the acting user
// to another user. The delegator must hold the permission at call time.
func (e *Enforcer) DelegatePermission(ctx context.Context, fc forensic.Context, toUserID int64, code string, expiresAt time.Time) (DelegatedPermission, error) {
	code = strings.TrimSpace(code)
	if toUserID <= 0 || code == "" {
		return DelegatedPermission{}, fmt.Errorf("rbac: delegate target and code required: %w", shared.ErrValidationFailure)
	}
	if toUserID == fc.ActorID {
		return DelegatedPermission{}, fmt.Errorf("rbac: cannot delegate to self: %w", shared.ErrValidationFailure)
	}
	if !expiresAt.After(e.now()) {
		return DelegatedPermission{}, fmt.Errorf("rbac: delegation expiry must be in the future: %w", shared.ErrValidationFailure)
	}
	if err := e.AssertPermission(ctx, fc.ActorID, code); err != nil {
		return DelegatedPermission{}, err
	}
	var delegation DelegatedPermission
	err := e.atomic.RunAtomic(ctx, "rbac.delegate_permission", func(txq pgx.Tx) error {
		var err error
		delegation, err = e.repo.InsertDelegation(ctx, txq, DelegatedPermission{
			FromUserID: fc.ActorID,
			ToUserID:   toUserID,
			Code:       code,
			GrantedAt:  e.now().UTC(),
			ExpiresAt:  expiresAt.UTC(),
		})
		if err != nil {
			return err
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "delegated_permission",
			RecordID:  strconv.FormatInt(delegation.ID, 10),
			Action:    "DELEGATE_PERMISSION",
			Diffs: []audit.FieldDiff{
				{Field: "to_user_id", New: strconv.FormatInt(toUserID, 10)},
				{Field: "code", New: code},
				{Field: "expires_at", New: expiresAt.UTC().Format(time.RFC3339)},
			},
		})
		return err
	})
	if err != nil {
		return DelegatedPermission{}, err
	}
	return delegation, nil
}

// RevokeDelegatedPermission revokes a delegation before its expiry.
func (e *Enforcer) RevokeDelegatedPermission(ctx context.Context, fc forensic.Context, delegationID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("rbac: revoke reason required: %w", shared.ErrValidationFailure)
	}
	return e.atomic.RunAtomic(ctx, "rbac.revoke_delegation", func(txq pgx.Tx) error {
		rows, err := e.repo.RevokeDelegation(ctx, txq, delegationID, e.now().UTC(), reason)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("rbac: delegation %d not active: %w", delegationID, shared.ErrNotFound)
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "delegated_permission",
			RecordID:  strconv.FormatInt(delegationID, 10),
			Action:    "REVOKE_DELEGATION",
			Diffs: []audit.FieldDiff{
				{Field: "reason", New: reason},
			},
			Severity: audit.SeverityWarning,
		})
		return err
	})
}

// RequestPermission opens a pending approval-workflow request for the
// acting user.
func (e *Enforcer) RequestPermission(ctx context.Context, fc forensic.Context, code, reason string) (PermissionRequest, error) {
	code = strings.TrimSpace(code)
	reason = strings.TrimSpace(reason)
	if code == "" || reason == "" {
		return PermissionRequest{}, fmt.Errorf("rbac: code and reason required: %w", shared.ErrValidationFailure)
	}
	var req PermissionRequest
	err := e.atomic.RunAtomic(ctx, "rbac.request_permission", func(txq pgx.Tx) error {
		var err error
		req, err = e.repo.InsertRequest(ctx, txq, PermissionRequest{
			UserID:    fc.ActorID,
			Code:      code,
			Reason:    reason,
			Status:    RequestPending,
			CreatedAt: e.now().UTC(),
		})
		if err != nil {
			return err
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "permission_request",
			RecordID:  strconv.FormatInt(req.ID, 10),
			Action:    "REQUEST_PERMISSION",
			Diffs: []audit.FieldDiff{
				{Field: "code", New: code},
				{Field: "status", New: string(RequestPending)},
			},
		})
		return err
	})
	if err != nil {
		return PermissionRequest{}, err
	}
	return req, nil
}

// ApprovePermissionRequest transitions Pending to Approved and performs the
// equivalent permanent grant in the same atomic scope.
func (e *Enforcer) ApprovePermissionRequest(ctx context.Context, fc forensic.Context, requestID int64, comment string) error {
	return e.atomic.RunAtomic(ctx, "rbac.approve_permission_request", func(txq pgx.Tx) error {
		req, err := e.repo.GetRequestForUpdate(ctx, txq, requestID)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return fmt.Errorf("rbac: request %d already %s: %w", requestID, req.Status, shared.ErrInvalidStateTransition)
		}
		now := e.now().UTC()
		if _, err := e.repo.UpdateRequestStatus(ctx, txq, requestID, RequestApproved, fc.ActorID, now, comment); err != nil {
			return err
		}
		if _, err := e.repo.InsertPermissionGrant(ctx, txq, PermissionGrant{
			UserID:    req.UserID,
			Code:      req.Code,
			GrantedBy: fc.ActorID,
			GrantedAt: now,
		}); err != nil {
			return err
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "permission_request",
			RecordID:  strconv.FormatInt(requestID, 10),
			Action:    "APPROVE_PERMISSION_REQUEST",
			Diffs: []audit.FieldDiff{
				{Field: "status", Old: string(RequestPending), New: string(RequestApproved)},
				{Field: "granted_code", New: req.Code},
			},
		})
		return err
	})
}

// DenyPermissionRequest transitions Pending to Denied with a mandatory
// comment.
func (e *Enforcer) DenyPermissionRequest(ctx context.Context, fc forensic.Context, requestID int64, comment string) error {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return fmt.Errorf("rbac: denial comment required: %w", shared.ErrValidationFailure)
	}
	return e.atomic.RunAtomic(ctx, "rbac.deny_permission_request", func(txq pgx.Tx) error {
		req, err := e.repo.GetRequestForUpdate(ctx, txq, requestID)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return fmt.Errorf("rbac: request %d already %s: %w", requestID, req.Status, shared.ErrInvalidStateTransition)
		}
		if _, err := e.repo.UpdateRequestStatus(ctx, txq, requestID, RequestDenied, fc.ActorID, e.now().UTC(), comment); err != nil {
			return err
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "permission_request",
			RecordID:  strconv.FormatInt(requestID, 10),
			Action:    "DENY_PERMISSION_REQUEST",
			Diffs: []audit.FieldDiff{
				{Field: "status", Old: string(RequestPending), New: string(RequestDenied)},
				{Field: "comment", New: comment},
			},
		})
		return err
	})
}

// ListPendingRequests returns the open approval queue.
func (e *Enforcer) ListPendingRequests(ctx context.Context) ([]PermissionRequest, error) {
	return e.repo.ListPendingRequests(ctx)
}

// CreateRole inserts a new role.
func (e *Enforcer) CreateRole(ctx context.Context, fc forensic.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", shared.ErrValidationFailure)
	}
	var role Role
	err := e.atomic.RunAtomic(ctx, "rbac.create_role", func(txq pgx.Tx) error {
		var err error
		role, err = e.repo.InsertRole(ctx, txq, name, strings.TrimSpace(description))
		if err != nil {
			return err
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "roles",
			RecordID:  strconv.FormatInt(role.ID, 10),
			Action:    "CREATE_ROLE",
			Diffs: []audit.FieldDiff{
				{Field: "name", New: name},
			},
		})
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates an existing role, auditing the old and new values.
func (e *Enforcer) UpdateRole(ctx context.Context, fc forensic.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", shared.ErrValidationFailure)
	}
	var role Role
	err := e.atomic.RunAtomic(ctx, "rbac.update_role", func(txq pgx.Tx) error {
		// Snapshot the old values on the transaction so the audited diff
		// cannot race a concurrent update.
		existing, err := e.repo.GetRoleForUpdate(ctx, txq, id)
		if err != nil {
			return err
		}
		role, err = e.repo.UpdateRole(ctx, txq, id, name, strings.TrimSpace(description))
		if err != nil {
			return err
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "roles",
			RecordID:  strconv.FormatInt(id, 10),
			Action:    "UPDATE_ROLE",
			Diffs: []audit.FieldDiff{
				{Field: "name", Old: existing.Name, New: role.Name},
				{Field: "description", Old: existing.Description, New: role.Description},
			},
		})
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role. Deletion is rejected while active grants still
// reference the role; those must be revoked (with reasons) first so the
// audit trail explains every lost permission.
func (e *Enforcer) DeleteRole(ctx context.Context, fc forensic.Context, id int64) error {
	return e.atomic.RunAtomic(ctx, "rbac.delete_role", func(txq pgx.Tx) error {
		active, err := e.repo.CountActiveRoleGrants(ctx, txq, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("rbac: role %d has %d active grants: %w", id, active, shared.ErrRoleInUse)
		}
		rows, err := e.repo.DeleteRole(ctx, txq, id)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
		}
		_, err = e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "roles",
			RecordID:  strconv.FormatInt(id, 10),
			Action:    "DELETE_ROLE",
			Severity:  audit.SeverityWarning,
		})
		return err
	})
}

// SetRolePermissions replaces the permission set of a role, auditing the
// attached and detached codes.
func (e *Enforcer) SetRolePermissions(ctx context.Context, fc forensic.Context, roleID int64, codes []string) error {
	keep := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code != "" {
			keep[code] = struct{}{}
		}
	}
	current, err := e.repo.ListRolePermissions(ctx, roleID)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{}, len(current))
	for _, code := range current {
		existing[code] = struct{}{}
	}

	var attached, detached []string
	for code := range keep {
		if _, ok := existing[code]; !ok {
			attached = append(attached, code)
		}
	}
	for code := range existing {
		if _, ok := keep[code]; !ok {
			detached = append(detached, code)
		}
	}
	if len(attached) == 0 && len(detached) == 0 {
		return nil
	}
	sort.Strings(attached)
	sort.Strings(detached)

	return e.atomic.RunAtomic(ctx, "rbac.set_role_permissions", func(txq pgx.Tx) error {
		for _, code := range attached {
			if err := e.repo.AttachRolePermission(ctx, txq, roleID, code); err != nil {
				return err
			}
		}
		for _, code := range detached {
			if err := e.repo.DetachRolePermission(ctx, txq, roleID, code); err != nil {
				return err
			}
		}
		_, err := e.audits.Write(ctx, txq, fc, audit.Entry{
			TableName: "role_permission",
			RecordID:  strconv.FormatInt(roleID, 10),
			Action:    "SET_ROLE_PERMISSIONS",
			Diffs: []audit.FieldDiff{
				{Field: "attached", New: strings.Join(attached, ",")},
				{Field: "detached", Old: strings.Join(detached, ",")},
			},
		})
		return err
	})
}

// GetRole fetches a role by ID.
func (e *Enforcer) GetRole(ctx context.Context, id int64) (Role, error) {
	return e.repo.GetRole(ctx, id)
}

// ListRoles returns all roles ordered by name.
func (e *Enforcer) ListRoles(ctx context.Context) ([]Role, error) {
	return e.repo.ListRoles(ctx)
}

func (e *Enforcer) validateExpiry(expiresAt *time.Time) error {
	if expiresAt != nil && !expiresAt.After(e.now()) {
		return fmt.Errorf("rbac: expiry must be strictly after creation: %w", shared.ErrValidationFailure)
	}
	return nil
}

func formatExpiry(expiresAt *time.Time) string {
	if expiresAt == nil {
		return "permanent"
	}
	return expiresAt.UTC().Format(time.RFC3339)
}
