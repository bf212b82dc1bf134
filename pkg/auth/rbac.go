package auth

// RolePermissions is the static role to permission mapping. It is total over
// the role set and is never mutated after process start; any role missing
// from this map is denied everything.
var RolePermissions = map[Role][]Permission{
	RoleSuperAdminNacional: {
		PermUsersRead, PermUsersWrite, PermUsersDelete, PermUsersInvite,
		PermTasksRead, PermTasksWrite,
		PermReportsRead, PermReportsWrite,
		PermAlertsRead, PermAlertsWrite,
		PermPostsRead, PermPostsWrite,
		PermResourcesRead, PermResourcesWrite, PermResourcesApprove,
		PermProjectsRead, PermProjectsWrite,
		PermAuditRead,
		PermSyncUse,
	},
	RoleAdminProvincial: {
		PermUsersRead, PermUsersWrite, PermUsersInvite,
		PermTasksRead, PermTasksWrite,
		PermReportsRead, PermReportsWrite,
		PermAlertsRead, PermAlertsWrite,
		PermPostsRead, PermPostsWrite,
		PermResourcesRead, PermResourcesWrite, PermResourcesApprove,
		PermProjectsRead, PermProjectsWrite,
		PermAuditRead,
		PermSyncUse,
	},
	RoleCoordinadorSeccional: {
		PermUsersRead, PermUsersInvite,
		PermTasksRead, PermTasksWrite,
		PermReportsRead, PermReportsWrite,
		PermAlertsRead, PermAlertsWrite,
		PermPostsRead, PermPostsWrite,
		PermResourcesRead, PermResourcesWrite,
		PermProjectsRead,
		PermSyncUse,
	},
	RoleReferenteLocal: {
		PermTasksRead, PermTasksWrite,
		PermReportsRead, PermReportsWrite,
		PermAlertsRead, PermAlertsWrite,
		PermPostsRead,
		PermResourcesRead,
		PermProjectsRead,
		PermSyncUse,
	},
	RoleMilitante: {
		PermTasksRead,
		PermReportsRead, PermReportsWrite,
		PermAlertsRead,
		PermPostsRead,
		PermResourcesRead,
		PermSyncUse,
	},
}

// HierarchicalRoles are the roles whose territorial assignment expands to the
// full descendant subtree of the assigned territory.
var HierarchicalRoles = map[Role]bool{
	RoleAdminProvincial:      true,
	RoleCoordinadorSeccional: true,
	RoleReferenteLocal:       true,
}

// HasPermission reports whether the role grants the permission. Unknown roles
// never grant anything.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// AllRoles lists the enumerated role set, for validation of invitations and
// user edits.
func AllRoles() []Role {
	return []Role{
		RoleSuperAdminNacional,
		RoleAdminProvincial,
		RoleCoordinadorSeccional,
		RoleReferenteLocal,
		RoleMilitante,
	}
}

// ValidRole reports whether the role belongs to the enumerated set.
func ValidRole(role Role) bool {
	_, ok := RolePermissions[role]
	return ok
}
