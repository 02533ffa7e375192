package core

// DefaultAdminRole is the role claim value that grants admin capability.
const DefaultAdminRole = "admin"

// Role is the resolved capability of a caller. It is decided once from the
// identity token and passed explicitly to every gated operation.
type Role int

const (
	RegularUser Role = iota
	AdminUser
)

func (r Role) String() string {
	if r == AdminUser {
		return "admin"
	}
	return "user"
}

// ResolveRole maps an opaque role claim to a Role. Only an exact match with
// the admin sentinel grants admin.
func ResolveRole(claim, adminSentinel string) Role {
	if adminSentinel != "" && claim == adminSentinel {
		return AdminUser
	}
	return RegularUser
}

// Caller is the authenticated user performing an operation.
type Caller struct {
	UserID   string
	Username string
	Role     Role
}

// IsAdmin reports whether the caller resolved to AdminUser.
func (c Caller) IsAdmin() bool {
	return c.Role == AdminUser
}
