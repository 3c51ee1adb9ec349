package auth

// Principal is an authenticated user with the resolved permission set:
// the union of the role's static permissions and the user's custom grants.
type Principal struct {
	Username    string
	Role        string
	Permissions map[string]struct{}
}

// NewPrincipal resolves a user's effective permissions.
func NewPrincipal(user *User) Principal {
	return Principal{
		Username:    user.Username,
		Role:        user.RoleName,
		Permissions: PermissionSet(user.RoleName, user.CustomPermissions),
	}
}

// HasPermission reports whether the principal may perform the action
// identified by the permission string, honoring wildcard grants.
func (p Principal) HasPermission(required string) bool {
	return HasPermission(p.Permissions, required)
}
