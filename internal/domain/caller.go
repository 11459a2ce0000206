package domain

type Role string

const (
	RoleClient  Role = "client"
	RoleFundi   Role = "fundi"
	RoleAdmin   Role = "admin"
	RoleService Role = "service_role"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID string
	Role   Role
}

// ServiceCaller identifies internal triggers such as the sweeper and queue consumers.
func ServiceCaller() Caller {
	return Caller{UserID: "system", Role: RoleService}
}

func (c Caller) IsAdmin() bool   { return c.Role == RoleAdmin }
func (c Caller) IsService() bool { return c.Role == RoleService }

// Privileged callers may act on any booking.
func (c Caller) Privileged() bool { return c.IsAdmin() || c.IsService() }

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleFundi, RoleAdmin, RoleService:
		return true
	}
	return false
}
