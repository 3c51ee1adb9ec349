package auth

import "testing"

func TestMatchPermission(t *testing.T) {
	cases := []struct {
		granted  string
		required string
		want     Match
	}{
		{"profiles.read", "profiles.read", MatchExact},
		{"profiles.read", "profiles.update", MatchNone},
		{"profiles.*", "profiles.delete", MatchResourceWildcard},
		{"profiles.*", "messages.read", MatchNone},
		{"*", "anything.at_all", MatchGlobalWildcard},
		{"*.*", "pii.read", MatchGlobalWildcard},
		{"profiles", "profiles.read", MatchNone},
		{"profiles.read", "profiles.read.extra", MatchNone},
		{"prof.*", "profiles.read", MatchNone},
	}
	for _, tc := range cases {
		if got := matchPermission(tc.granted, tc.required); got != tc.want {
			t.Fatalf("matchPermission(%q, %q) = %v, want %v", tc.granted, tc.required, got, tc.want)
		}
	}
}

func TestPermissionSetUnionsRoleAndCustom(t *testing.T) {
	set := PermissionSet(RoleFreeUser, []string{"pii.grant", "profiles.read"})
	if !HasPermission(set, "pii.grant") {
		t.Fatal("custom grant missing from set")
	}
	if !HasPermission(set, "messages.create") {
		t.Fatal("role permission missing from set")
	}
	if HasPermission(set, "audit.read") {
		t.Fatal("free user must not read audit logs")
	}
}

func TestHasPermissionAdditiveOnly(t *testing.T) {
	// A narrower custom grant never shadows the role's wildcard.
	set := PermissionSet(RoleAdmin, []string{"profiles.read"})
	if !HasPermission(set, "profiles.delete") {
		t.Fatal("admin wildcard lost after custom grant")
	}
}

func TestPrincipalHasPermission(t *testing.T) {
	user := &User{Username: "mod", RoleName: RoleModerator}
	p := NewPrincipal(user)
	if !p.HasPermission("audit.read") {
		t.Fatal("moderator should read audit logs")
	}
	if p.HasPermission("security.manage") {
		t.Fatal("moderator must not manage security")
	}
}

func TestValidPermissionString(t *testing.T) {
	valid := []string{"profiles.read", "pii.*", "*", "*.*"}
	for _, p := range valid {
		if !ValidPermissionString(p) {
			t.Fatalf("expected %q to be valid", p)
		}
	}
	invalid := []string{"", "profiles", "profiles.", ".read", "a.b.c"}
	for _, p := range invalid {
		if ValidPermissionString(p) {
			t.Fatalf("expected %q to be invalid", p)
		}
	}
}
