package auth

import "sort"

// Role names. The table below is static configuration: it is loaded once at
// process start and is not mutable at runtime.
const (
	RoleAdmin       = "admin"
	RoleModerator   = "moderator"
	RolePremiumUser = "premium_user"
	RoleFreeUser    = "free_user"
)

// DefaultRole is assigned at registration.
const DefaultRole = RoleFreeUser

var rolePermissions = map[string][]string{
	RoleAdmin: {
		"users.*",
		"roles.*",
		"permissions.*",
		"profiles.*",
		"messages.*",
		"pii.*",
		"audit.*",
		"security.*",
	},
	RoleModerator: {
		"users.read",
		"users.update",
		"profiles.read",
		"profiles.update",
		"profiles.delete",
		"messages.read",
		"messages.delete",
		"pii.read",
		"audit.read",
	},
	RolePremiumUser: {
		"profiles.read",
		"profiles.create",
		"profiles.update",
		"messages.read",
		"messages.create",
		"pii.request",
		"pii.grant",
		"favorites.*",
		"shortlist.*",
	},
	RoleFreeUser: {
		"profiles.read",
		"profiles.create",
		"profiles.update",
		"messages.read",
		"messages.create",
		"pii.request",
		"favorites.read",
		"favorites.create",
	},
}

// KnownRole reports whether name is one of the configured roles.
func KnownRole(name string) bool {
	_, ok := rolePermissions[name]
	return ok
}

// RolePermissions returns a copy of the static permission set for a role.
// Unknown roles fall back to the default role's permissions.
func RolePermissions(role string) []string {
	perms, ok := rolePermissions[role]
	if !ok {
		perms = rolePermissions[DefaultRole]
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// Roles returns the configured role names in stable order.
func Roles() []string {
	names := make([]string, 0, len(rolePermissions))
	for name := range rolePermissions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
