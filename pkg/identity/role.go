package identity

// Role is a control-plane authorization level.
type Role string

const (
	// RoleUser can inspect devices and their status.
	RoleUser Role = "user"

	// RoleAdmin can additionally create and remove devices and users.
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is a known Role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}
