// Package rbac resolves effective permissions from role grants, direct
// grants and time-bounded delegations, and performs all grant lifecycle
// changes. Grants are never hard-deleted: revocation stamps a timestamp and
// reason, and is itself audited.
package rbac

import "time"

// Role represents a named bundle of permissions.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64
	Code        string
	Description string
}

// RoleGrant links a user to a role. A nil ExpiresAt never expires.
type RoleGrant struct {
	ID           int64
	UserID       int64
	RoleID       int64
	GrantedBy    int64
	GrantedAt    time.Time
	ExpiresAt    *time.Time
	RevokedAt    *time.Time
	RevokeReason *string
}

// PermissionGrant is a direct user-to-permission grant.
type PermissionGrant struct {
	ID           int64
	UserID       int64
	Code         string
	GrantedBy    int64
	GrantedAt    time.Time
	ExpiresAt    *time.Time
	RevokedAt    *time.Time
	RevokeReason *string
}

// DelegatedPermission is a temporary grant from one user to another. It is
// effective only while now < ExpiresAt and Revoked is false.
type DelegatedPermission struct {
	ID           int64
	FromUserID   int64
	ToUserID     int64
	Code         string
	GrantedAt    time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    *time.Time
	RevokeReason *string
}

// DerivedPermission is one permission a user holds through a role grant,
// carrying that grant's expiry.
type DerivedPermission struct {
	Code      string
	ExpiresAt *time.Time
}

// RequestStatus enumerates permission request states. Approved and Denied
// are terminal.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestDenied   RequestStatus = "DENIED"
)

// PermissionRequest is one entry in the approval workflow.
type PermissionRequest struct {
	ID              int64
	UserID          int64
	Code            string
	Reason          string
	Status          RequestStatus
	CreatedAt       time.Time
	DecidedBy       *int64
	DecidedAt       *time.Time
	DecisionComment *string
}
