package auth

// Role is a closed set of capabilities carried in a credential. Unknown role
// strings decode to RoleNone so they can never satisfy a role check.
type Role uint8

const (
	RoleNone Role = iota
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	default:
		return ""
	}
}

// ParseRole is exact and case sensitive.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	default:
		return RoleNone
	}
}

// RoleNone encodes as the empty string.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	*r = ParseRole(string(b))
	return nil
}
