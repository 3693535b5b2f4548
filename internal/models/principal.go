package models

// Roles understood by the core. Authentication itself happens upstream;
// callers pass the resolved principal into every owner-scoped operation.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the principal holds the privileged role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
