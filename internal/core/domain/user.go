package domain

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the authenticated caller as asserted by a verified token.
type User struct {
	ID    string
	Email string
	Name  string
	Role  string
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// CanAccess reports whether u may read or act on a resource owned by ownerID.
func (u User) CanAccess(ownerID string) bool {
	return u.IsAdmin() || (u.ID != "" && u.ID == ownerID)
}
