package domain

// Role is a user's role within one workspace.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Scopes grantable through workspace membership.
const (
	ScopeWorkspaceRead   = "workspace:read"
	ScopeWorkspaceWrite  = "workspace:write"
	ScopeWorkspaceAdmin  = "workspace:admin"
	ScopeBillingRead     = "billing:read"
	ScopeBillingWrite    = "billing:write"
	ScopeMembersRead     = "members:read"
	ScopeMembersWrite    = "members:write"
	ScopeReportsGenerate = "reports:generate"
)

var roleScopes = map[Role][]string{
	RoleViewer: {
		ScopeWorkspaceRead,
		ScopeBillingRead,
		ScopeMembersRead,
	},
	RoleMember: {
		ScopeWorkspaceRead,
		ScopeWorkspaceWrite,
		ScopeBillingRead,
		ScopeMembersRead,
		ScopeReportsGenerate,
	},
	RoleAdmin: {
		ScopeWorkspaceRead,
		ScopeWorkspaceWrite,
		ScopeWorkspaceAdmin,
		ScopeBillingRead,
		ScopeBillingWrite,
		ScopeMembersRead,
		ScopeMembersWrite,
		ScopeReportsGenerate,
	},
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	_, ok := roleScopes[r]
	return ok
}

// Scopes returns the scope set granted by the role. Admin covers every
// scope the lower roles grant. The returned slice is a copy.
func (r Role) Scopes() []string {
	src := roleScopes[r]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Covers reports whether the role grants the given scope.
func (r Role) Covers(scope string) bool {
	for _, s := range roleScopes[r] {
		if s == scope {
			return true
		}
	}
	return false
}
