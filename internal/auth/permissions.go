package auth

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceOperate Permission = "device:operate"
	PermDeviceRelease Permission = "device:release"
	PermAuditRead     Permission = "audit:read"
	PermSystemAdmin   Permission = "system:admin"
)

// allPermissions fixes the order PermissionsForRole reports in.
var allPermissions = []Permission{
	PermDeviceRead,
	PermAuditRead,
	PermDeviceOperate,
	PermDeviceRelease,
	PermSystemAdmin,
}

// Roles are cumulative: each permission names the lowest role holding it.
var minimumRole = map[Permission]Role{
	PermDeviceRead:    RoleViewer,
	PermAuditRead:     RoleViewer,
	PermDeviceOperate: RoleOperator,
	PermDeviceRelease: RoleAdmin,
	PermSystemAdmin:   RoleAdmin,
}

// rank orders roles; unknown roles rank 0 and hold nothing.
func rank(r Role) int {
	for i, v := range ValidRoles {
		if v == r {
			return i + 1
		}
	}
	return 0
}

// HasPermission reports whether role holds perm.
func HasPermission(role Role, perm Permission) bool {
	need, ok := minimumRole[perm]
	if !ok {
		return false
	}
	r := rank(role)
	return r > 0 && r >= rank(need)
}

// PermissionsForRole returns a fresh slice of the permissions role holds,
// or nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	if rank(role) == 0 {
		return nil
	}
	var out []Permission
	for _, p := range allPermissions {
		if HasPermission(role, p) {
			out = append(out, p)
		}
	}
	return out
}
