package service

import "github.com/mirantepos/table-service/internal/model"

// Role is the already-verified claim attached to each command; verification
// itself lives in the auth layer upstream.
type Role string

const (
	RoleWaiter  Role = "WAITER"
	RoleKitchen Role = "KITCHEN"
	RoleBar     Role = "BAR"
	RoleCashier Role = "CASHIER"
	RoleAdmin   Role = "ADMIN"
)

// Actor identifies who issued a command.
type Actor struct {
	ID   string
	Role Role
}

func (r Role) canPlaceOrDeliver() bool { return r == RoleWaiter || r == RoleAdmin }
func (r Role) canVoid() bool           { return r == RoleWaiter || r == RoleCashier || r == RoleAdmin }
func (r Role) canClose() bool          { return r == RoleCashier || r == RoleAdmin }

// station returns the fulfillment station a role works, empty for non-station
// roles. Admin passes the station match everywhere.
func (r Role) station() string {
	switch r {
	case RoleKitchen:
		return model.StationKitchen
	case RoleBar:
		return model.StationBar
	}
	return ""
}
