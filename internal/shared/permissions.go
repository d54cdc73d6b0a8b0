package shared

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView  = "permissions.view"
	PermPermissionsGrant = "permissions.grant"

	PermAuditView   = "audit.view"
	PermAuditExport = "audit.export"

	PermCAPAApprove = "capa.approve"
	PermCalSign     = "calibration.sign"
	PermImpersonate = "admin.impersonate"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsGrant,
		PermAuditView,
		PermAuditExport,
		PermCAPAApprove,
		PermCalSign,
		PermImpersonate,
	}
}
