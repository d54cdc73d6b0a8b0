package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-qms/meridian/internal/platform/db"
	"github.com/meridian-qms/meridian/internal/shared"
)

// SQLRepository provides PostgreSQL backed persistence for the enforcer.
type SQLRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

// ActiveDirectGrants returns unrevoked direct grants for a user. Expiry is
// evaluated by the enforcer's clock, not the database's.
func (r *SQLRepository) ActiveDirectGrants(ctx context.Context, userID int64) ([]PermissionGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, code, granted_by, granted_at, expires_at
FROM user_permission WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []PermissionGrant
	for rows.Next() {
		var g PermissionGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.Code, &g.GrantedBy, &g.GrantedAt, &g.ExpiresAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ActiveRoleDerived returns permissions reachable through unrevoked role
// grants, each carrying its grant's expiry.
func (r *SQLRepository) ActiveRoleDerived(ctx context.Context, userID int64) ([]DerivedPermission, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.code, ur.expires_at
FROM user_role ur
JOIN role_permission rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1 AND ur.revoked_at IS NULL`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var derived []DerivedPermission
	for rows.Next() {
		var d DerivedPermission
		if err := rows.Scan(&d.Code, &d.ExpiresAt); err != nil {
			return nil, err
		}
		derived = append(derived, d)
	}
	return derived, rows.Err()
}

// ActiveDelegations returns unrevoked delegations to a user.
func (r *SQLRepository) ActiveDelegations(ctx context.Context, userID int64) ([]DelegatedPermission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, from_user_id, to_user_id, code, granted_at, expires_at, revoked
FROM delegated_permission WHERE to_user_id = $1 AND revoked = FALSE`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var delegations []DelegatedPermission
	for rows.Next() {
		var d DelegatedPermission
		if err := rows.Scan(&d.ID, &d.FromUserID, &d.ToUserID, &d.Code, &d.GrantedAt, &d.ExpiresAt, &d.Revoked); err != nil {
			return nil, err
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}

// GetRole fetches a role by ID.
func (r *SQLRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// GetRoleForUpdate fetches a role on the caller's transaction and locks the
// row until that transaction ends.
func (r *SQLRepository) GetRoleForUpdate(ctx context.Context, q db.Querier, id int64) (Role, error) {
	var role Role
	err := q.QueryRow(ctx, `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1 FOR UPDATE`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles ordered by name.
func (r *SQLRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// InsertRole inserts a new role.
func (r *SQLRepository) InsertRole(ctx context.Context, q db.Querier, name, description string) (Role, error) {
	var role Role
	err := q.QueryRow(ctx, `INSERT INTO roles (name, description, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW()) RETURNING id, name, description, created_at, updated_at`, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates an existing role.
func (r *SQLRepository) UpdateRole(ctx context.Context, q db.Querier, id int64, name, description string) (Role, error) {
	var role Role
	err := q.QueryRow(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW()
WHERE id = $1 RETURNING id, name, description, created_at, updated_at`, id, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role by ID.
func (r *SQLRepository) DeleteRole(ctx context.Context, q db.Querier, id int64) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountActiveRoleGrants counts unrevoked, unexpired grants of a role.
func (r *SQLRepository) CountActiveRoleGrants(ctx context.Context, q db.Querier, roleID int64) (int64, error) {
	var count int64
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM user_role
WHERE role_id = $1 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > NOW())`, roleID).Scan(&count)
	return count, err
}

// ListRolePermissions returns the permission codes attached to a role.
func (r *SQLRepository) ListRolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.code FROM role_permission rp
JOIN permissions p ON p.id = rp.permission_id WHERE rp.role_id = $1 ORDER BY p.code`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// AttachRolePermission attaches a permission code to a role.
func (r *SQLRepository) AttachRolePermission(ctx context.Context, q db.Querier, roleID int64, code string) error {
	_, err := q.Exec(ctx, `INSERT INTO role_permission (role_id, permission_id)
SELECT $1, id FROM permissions WHERE code = $2
ON CONFLICT DO NOTHING`, roleID, code)
	return err
}

// DetachRolePermission detaches a permission code from a role.
func (r *SQLRepository) DetachRolePermission(ctx context.Context, q db.Querier, roleID int64, code string) error {
	_, err := q.Exec(ctx, `DELETE FROM role_permission
WHERE role_id = $1 AND permission_id = (SELECT id FROM permissions WHERE code = $2)`, roleID, code)
	return err
}

// InsertRoleGrant inserts a role grant.
func (r *SQLRepository) InsertRoleGrant(ctx context.Context, q db.Querier, grant RoleGrant) (RoleGrant, error) {
	err := q.QueryRow(ctx, `INSERT INTO user_role (user_id, role_id, granted_by, granted_at, expires_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		grant.UserID, grant.RoleID, grant.GrantedBy, grant.GrantedAt, grant.ExpiresAt).Scan(&grant.ID)
	if err != nil {
		return RoleGrant{}, err
	}
	return grant, nil
}

// RevokeRoleGrant stamps active grants of a role as revoked.
func (r *SQLRepository) RevokeRoleGrant(ctx context.Context, q db.Querier, userID, roleID int64, at time.Time, reason string) (int64, error) {
	tag, err := q.Exec(ctx, `UPDATE user_role SET revoked_at = $3, revoke_reason = $4
WHERE user_id = $1 AND role_id = $2 AND revoked_at IS NULL`, userID, roleID, at, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertPermissionGrant inserts a direct permission grant.
func (r *SQLRepository) InsertPermissionGrant(ctx context.Context, q db.Querier, grant PermissionGrant) (PermissionGrant, error) {
	err := q.QueryRow(ctx, `INSERT INTO user_permission (user_id, code, granted_by, granted_at, expires_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		grant.UserID, grant.Code, grant.GrantedBy, grant.GrantedAt, grant.ExpiresAt).Scan(&grant.ID)
	if err != nil {
		return PermissionGrant{}, err
	}
	return grant, nil
}

// RevokePermissionGrant stamps active direct grants of a code as revoked.
func (r *SQLRepository) RevokePermissionGrant(ctx context.Context, q db.Querier, userID int64, code string, at time.Time, reason string) (int64, error) {
	tag, err := q.Exec(ctx, `UPDATE user_permission SET revoked_at = $3, revoke_reason = $4
WHERE user_id = $1 AND code = $2 AND revoked_at IS NULL`, userID, code, at, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertDelegation inserts a delegation.
func (r *SQLRepository) InsertDelegation(ctx context.Context, q db.Querier, d DelegatedPermission) (DelegatedPermission, error) {
	err := q.QueryRow(ctx, `INSERT INTO delegated_permission (from_user_id, to_user_id, code, granted_at, expires_at, revoked)
VALUES ($1, $2, $3, $4, $5, FALSE) RETURNING id`,
		d.FromUserID, d.ToUserID, d.Code, d.GrantedAt, d.ExpiresAt).Scan(&d.ID)
	if err != nil {
		return DelegatedPermission{}, err
	}
	return d, nil
}

// RevokeDelegation stamps an active delegation as revoked.
func (r *SQLRepository) RevokeDelegation(ctx context.Context, q db.Querier, id int64, at time.Time, reason string) (int64, error) {
	tag, err := q.Exec(ctx, `UPDATE delegated_permission SET revoked = TRUE, revoked_at = $2, revoke_reason = $3
WHERE id = $1 AND revoked = FALSE`, id, at, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertRequest inserts a pending permission request.
func (r *SQLRepository) InsertRequest(ctx context.Context, q db.Querier, req PermissionRequest) (PermissionRequest, error) {
	err := q.QueryRow(ctx, `INSERT INTO permission_request (user_id, code, reason, status, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		req.UserID, req.Code, req.Reason, string(req.Status), req.CreatedAt).Scan(&req.ID)
	if err != nil {
		return PermissionRequest{}, err
	}
	return req, nil
}

// GetRequestForUpdate locks and fetches a request inside the caller's
// transaction so concurrent approvals serialize on the row.
func (r *SQLRepository) GetRequestForUpdate(ctx context.Context, q db.Querier, id int64) (PermissionRequest, error) {
	var req PermissionRequest
	var status string
	err := q.QueryRow(ctx, `SELECT id, user_id, code, reason, status, created_at, decided_by, decided_at, decision_comment
FROM permission_request WHERE id = $1 FOR UPDATE`, id).
		Scan(&req.ID, &req.UserID, &req.Code, &req.Reason, &status, &req.CreatedAt, &req.DecidedBy, &req.DecidedAt, &req.DecisionComment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PermissionRequest{}, shared.ErrNotFound
		}
		return PermissionRequest{}, err
	}
	req.Status = RequestStatus(status)
	return req, nil
}

// UpdateRequestStatus transitions a request out of Pending.
func (r *SQLRepository) UpdateRequestStatus(ctx context.Context, q db.Querier, id int64, status RequestStatus, decidedBy int64, at time.Time, comment string) (int64, error) {
	tag, err := q.Exec(ctx, `UPDATE permission_request
SET status = $2, decided_by = $3, decided_at = $4, decision_comment = $5
WHERE id = $1 AND status = $6`, id, string(status), decidedBy, at, comment, string(RequestPending))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListPendingRequests returns the open approval queue, oldest first.
func (r *SQLRepository) ListPendingRequests(ctx context.Context) ([]PermissionRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, code, reason, status, created_at, decided_by, decided_at, decision_comment
FROM permission_request WHERE status = $1 ORDER BY created_at ASC`, string(RequestPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []PermissionRequest
	for rows.Next() {
		var req PermissionRequest
		var status string
		if err := rows.Scan(&req.ID, &req.UserID, &req.Code, &req.Reason, &status, &req.CreatedAt, &req.DecidedBy, &req.DecidedAt, &req.DecisionComment); err != nil {
			return nil, err
		}
		req.Status = RequestStatus(status)
		requests = append(requests, req)
	}
	return requests, rows.Err()
}
