package service

type Role string

const (
	RoleBuyer       Role = "buyer"
	RoleSeller      Role = "seller"
	RoleDistributor Role = "distributor"
	RoleCourier     Role = "courier"
	RoleAdmin       Role = "admin"
	// RoleSystem is used by other services, e.g. the order subsystem issuing credentials.
	RoleSystem Role = "system"
)

// Actor is the authenticated caller. It is always passed explicitly; nothing in this
// service reads identity from ambient state.
type Actor struct {
	UserID string
	Role   Role
	Name   string
}

func (a Actor) Authenticated() bool {
	return a.UserID != ""
}

// CanHandOver reports whether the actor may scan and confirm deliveries.
func (a Actor) CanHandOver() bool {
	return a.Role == RoleCourier || a.Role == RoleAdmin
}

func (a Actor) CanIssue() bool {
	return a.Role == RoleSystem || a.Role == RoleAdmin
}
