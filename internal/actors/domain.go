// Package actors models the people who own and view orders and resolves the
// set of salespeople whose orders a viewer may see.
package actors

import (
	"github.com/odyssey-erp/salespulse/internal/shared"
)

// Role is the closed set of actor roles. Switches over Role must handle every
// constant and return an error from the default branch.
type Role string

const (
	RoleSale      Role = "sale"
	RoleSaleAdmin Role = "sale_admin"
	RoleAdmin     Role = "admin"
	RoleCustomer  Role = "customer"
)

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleSale, RoleSaleAdmin, RoleAdmin, RoleCustomer:
		return Role(raw), nil
	default:
		return "", &shared.ValidationError{Field: "role", Value: raw}
	}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Actor is a directory record.
type Actor struct {
	ID        string  `json:"id" db:"id"`
	Name      string  `json:"name" db:"name"`
	Role      Role    `json:"role" db:"role"`
	ManagerID *string `json:"manager_id,omitempty" db:"manager_id"`
}

// ManagedBy reports whether a is a salesperson supervised by managerID.
func (a Actor) ManagedBy(managerID string) bool {
	return a.Role == RoleSale && a.ManagerID != nil && *a.ManagerID == managerID
}

// Customer is the directory record used for byCustomer names.
type Customer struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}
