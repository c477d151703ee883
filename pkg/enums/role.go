package enums

// Role is the marketplace role carried in access tokens.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

var roles = []Role{RoleBuyer, RoleSeller, RoleAdmin}

func (r Role) String() string { return string(r) }

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool { return oneOf(r, roles) }

func ParseRole(value string) (Role, error) {
	return parse(value, roles, "role")
}
