package auth

import "strings"

// Match classifies how a granted permission satisfies a required one.
type Match int

const (
	MatchNone Match = iota
	MatchExact
	MatchResourceWildcard
	MatchGlobalWildcard
)

// matchPermission reports whether granted satisfies required. Any non-none
// match grants access; there are no deny-overrides.
func matchPermission(granted, required string) Match {
	if granted == "*" || granted == "*.*" {
		return MatchGlobalWildcard
	}
	if granted == required {
		return MatchExact
	}
	if resource, ok := strings.CutSuffix(granted, ".*"); ok {
		requiredResource, _, found := strings.Cut(required, ".")
		if found && resource == requiredResource {
			return MatchResourceWildcard
		}
	}
	return MatchNone
}

// PermissionSet builds the effective permission set for a role plus custom
// grants. Duplicates collapse; the result depends on nothing else.
func PermissionSet(role string, custom []string) map[string]struct{} {
	perms := RolePermissions(role)
	set := make(map[string]struct{}, len(perms)+len(custom))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	for _, p := range custom {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// HasPermission evaluates required against the set with wildcard support.
func HasPermission(set map[string]struct{}, required string) bool {
	if required == "" {
		return false
	}
	if _, ok := set[required]; ok {
		return true
	}
	for granted := range set {
		if matchPermission(granted, required) != MatchNone {
			return true
		}
	}
	return false
}
