package enums

type Role string

const (
	RoleReseller Role = "RESELLER"
	RoleSupport  Role = "SUPPORT"
	RoleOwner    Role = "OWNER"
)

// Operator reports whether the role may act across resellers.
func (r Role) Operator() bool {
	return r == RoleOwner || r == RoleSupport
}
