package domain

// Role classifies an account's privilege level.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStandard Role = "standard"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStandard
}

// Capability names an operation class gated by role.
type Capability string

const (
	CapManageRules    Capability = "manage_rules"
	CapManageAccounts Capability = "manage_accounts"
	CapViewAuditLogs  Capability = "view_audit_logs"
)

// Can is the single authorization predicate. Every admin-gated operation
// goes through here instead of comparing role strings at call sites.
func (r Role) Can(c Capability) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleStandard:
		return false
	}
	return false
}

// StartingCredits is the fixed balance every provisioned account begins with.
const StartingCredits = 100

// Account is an authenticated caller of the gateway.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	APIKey   string `json:"-"`
	Role     Role   `json:"role"`
	Credits  int64  `json:"credits"`
}
