package models

const (
	RoleFieldAuditor = "field_auditor"
	RoleAdmin        = "admin"
)

// Actor is the authenticated user a mutation is performed on behalf of.
type Actor struct {
	ID    int64    `json:"id"`
	Roles []string `json:"roles"`
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool { return a.HasRole(RoleAdmin) }

// Owns reports whether the actor may act on a row created by userID. Admins
// may act on any row when allowAdmin is set.
func (a Actor) Owns(userID int64, allowAdmin bool) bool {
	if a.ID == userID {
		return true
	}
	return allowAdmin && a.IsAdmin()
}
