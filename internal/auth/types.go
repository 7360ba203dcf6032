package auth

import (
	"strings"
)

// Role is the fixed set of privilege levels an actor can hold. Semantics
// are per-operation (see the capability matrix), not a simple hierarchy.
type Role string

const (
	// RoleSuperAdmin has global reach across every structure.
	RoleSuperAdmin Role = "SUPER_ADMIN"
	// RoleStructureAdmin is elevated but scoped to its own structure.
	RoleStructureAdmin Role = "ADMIN_STRUCTURE"
	// RoleStandardUser works within its own structure.
	RoleStandardUser Role = "UTILISATEUR"
	// RoleExternal creates and owns only its own records; cross-structure
	// reads happen through federation grants.
	RoleExternal Role = "EXTERNE"
	// RolePending has no privileges until the account is activated.
	RolePending Role = "PENDING"
)

// ParseRole normalizes a role string coming from a token or the store.
// Unknown values map to RolePending so that a stale or corrupted claim
// never escalates.
func ParseRole(raw string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleSuperAdmin:
		return RoleSuperAdmin
	case RoleStructureAdmin:
		return RoleStructureAdmin
	case RoleStandardUser:
		return RoleStandardUser
	case RoleExternal:
		return RoleExternal
	default:
		return RolePending
	}
}

// Valid reports whether the role is one of the known enum values.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleStructureAdmin, RoleStandardUser, RoleExternal, RolePending:
		return true
	}
	return false
}

// StructureBound reports whether actors with this role must belong to a
// structure. SuperAdmin operates globally and carries no structure.
func (r Role) StructureBound() bool {
	switch r {
	case RoleStructureAdmin, RoleStandardUser, RoleExternal:
		return true
	}
	return false
}

// Actor is the resolved identity attached to a request or realtime
// session. It is immutable for the duration of that request/session.
type Actor struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	StructureID string `json:"structure_id,omitempty"` // empty for roles not structure-bound
}

// Resource is the minimal view of an entity the engine needs to decide
// access: its identity, the structure that owns it, and the actor that
// created it.
type Resource interface {
	ResourceID() string
	OwnerStructureID() string
	CreatorID() string
}
