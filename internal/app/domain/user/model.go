// Package user defines user identities and the role capability sets that
// gate every write path.
package user

import "time"

// Role enumerates the account roles.
type Role string

const (
	RoleCitizen      Role = "citizen"
	RoleGovtOfficial Role = "govt_official"
	RoleAdmin        Role = "admin"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCitizen, RoleGovtOfficial, RoleAdmin:
		return true
	}
	return false
}

// User represents a registered account. Department is set only for
// government officials.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Department   string    `json:"department,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Action names a capability checked against a role.
type Action string

const (
	ActionReadTransactions  Action = "transactions.read"
	ActionCreateTransaction Action = "transactions.create"
	ActionModerateStatus    Action = "transactions.moderate"
	ActionSubmitReport      Action = "reports.submit"
	ActionPostComment       Action = "comments.post"
	ActionDeleteOwnComment  Action = "comments.delete_own"
	ActionDeleteAnyComment  Action = "comments.delete_any"
	ActionReadAudit         Action = "audit.read"
)

var capabilities = map[Role]map[Action]struct{}{
	RoleCitizen: setOf(
		ActionReadTransactions,
		ActionSubmitReport,
		ActionPostComment,
		ActionDeleteOwnComment,
	),
	RoleGovtOfficial: setOf(
		ActionReadTransactions,
		ActionSubmitReport,
		ActionPostComment,
		ActionDeleteOwnComment,
		ActionCreateTransaction,
	),
	RoleAdmin: setOf(
		ActionReadTransactions,
		ActionSubmitReport,
		ActionPostComment,
		ActionDeleteOwnComment,
		ActionDeleteAnyComment,
		ActionModerateStatus,
		ActionReadAudit,
	),
}

// Can reports whether the role holds the capability.
func Can(role Role, action Action) bool {
	caps, ok := capabilities[role]
	if !ok {
		return false
	}
	_, ok = caps[action]
	return ok
}

func setOf(actions ...Action) map[Action]struct{} {
	out := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		out[a] = struct{}{}
	}
	return out
}
