package session

// Role names recognised by the dashboard, ordered by rank.
const (
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleSupervisor = "supervisor"
	RoleStaff      = "staff"
	RoleUser       = "user"
)

// Capability names the dashboard gates screens and actions on.
const (
	CapabilityManageUsers       = "manage-users"
	CapabilityManageDepartments = "manage-departments"
	CapabilityViewReports       = "view-reports"
	CapabilityManageTasks       = "manage-tasks"
	CapabilityManageAllTasks    = "manage-all-tasks"
)

// roleRanks is the fixed role-hierarchy ranking.
var roleRanks = map[string]int{
	RoleAdmin:      4,
	RoleManager:    3,
	RoleSupervisor: 2,
	RoleStaff:      1,
	RoleUser:       0,
}

// capabilityMinimumRoles maps each capability to the least role that holds it.
var capabilityMinimumRoles = map[string]string{
	CapabilityManageUsers:       RoleAdmin,
	CapabilityManageDepartments: RoleManager,
	CapabilityViewReports:       RoleSupervisor,
	CapabilityManageAllTasks:    RoleManager,
	CapabilityManageTasks:       RoleStaff,
}

// PermissionSet maps capability names to whether the current role holds them.
// It is derived from the role on every token change and never persisted.
type PermissionSet map[string]bool

// Allows reports whether the capability is granted.
func (permissions PermissionSet) Allows(capability string) bool {
	return permissions[capability]
}

// RoleRank returns the rank for a role name. Unknown roles rank below every
// recognised role and therefore hold no capability.
func RoleRank(role string) int {
	rank, known := roleRanks[role]
	if !known {
		return -1
	}
	return rank
}

// ComputePermissions derives the capability map from a role name. A
// capability is granted when the role's rank is at least the rank of the
// capability's minimum role.
func ComputePermissions(role string) PermissionSet {
	userRank := RoleRank(role)
	permissions := make(PermissionSet, len(capabilityMinimumRoles))
	for capability, minimumRole := range capabilityMinimumRoles {
		permissions[capability] = userRank >= RoleRank(minimumRole)
	}
	return permissions
}
