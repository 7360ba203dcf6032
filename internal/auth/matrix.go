package auth

// Operation enumerates the record operations the engine gates.
type Operation string

const (
	OpReadOne  Operation = "read_one"
	OpReadList Operation = "read_list"
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
)

// Scope is the widest reach a role has for an operation before grants are
// considered.
type Scope int

const (
	// ScopeNone denies the operation outright.
	ScopeNone Scope = iota
	// ScopeCreator limits the operation to records the actor created.
	ScopeCreator
	// ScopeStructure limits the operation to the actor's own structure.
	ScopeStructure
	// ScopeGlobal covers every record regardless of structure.
	ScopeGlobal
)

func (s Scope) String() string {
	switch s {
	case ScopeCreator:
		return "creator"
	case ScopeStructure:
		return "structure"
	case ScopeGlobal:
		return "global"
	default:
		return "none"
	}
}

// capabilityRow is one row of the role capability matrix: the scope each
// operation is allowed at.
type capabilityRow struct {
	ReadOne  Scope
	ReadList Scope
	Create   Scope
	Update   Scope
	Delete   Scope
}

func (c capabilityRow) scopeFor(op Operation) Scope {
	switch op {
	case OpReadOne:
		return c.ReadOne
	case OpReadList:
		return c.ReadList
	case OpCreate:
		return c.Create
	case OpUpdate:
		return c.Update
	case OpDelete:
		return c.Delete
	default:
		return ScopeNone
	}
}

// MatrixVersion identifies the reviewed revision of the capability matrix.
// Bump it whenever a row changes so that policy changes are visible in
// logs and persisted audit entries.
const MatrixVersion = 2

// capabilityMatrix is the single source of truth for role capabilities.
// Cross-structure grants are layered on top by the engine and only ever
// widen reads, never writes.
var capabilityMatrix = map[Role]capabilityRow{
	RoleSuperAdmin: {
		ReadOne:  ScopeGlobal,
		ReadList: ScopeGlobal,
		Create:   ScopeGlobal,
		Update:   ScopeGlobal,
		Delete:   ScopeGlobal,
	},
	RoleStructureAdmin: {
		ReadOne:  ScopeStructure,
		ReadList: ScopeStructure,
		Create:   ScopeStructure,
		Update:   ScopeStructure,
		Delete:   ScopeStructure,
	},
	RoleStandardUser: {
		ReadOne:  ScopeStructure,
		ReadList: ScopeStructure,
		Create:   ScopeStructure,
		Update:   ScopeStructure,
		Delete:   ScopeStructure,
	},
	RoleExternal: {
		ReadOne:  ScopeCreator,
		ReadList: ScopeCreator,
		Create:   ScopeCreator,
		Update:   ScopeCreator,
		Delete:   ScopeCreator,
	},
	RolePending: {},
}

// ScopeFor returns the matrix scope for (role, operation). Unknown roles
// behave like RolePending.
func ScopeFor(role Role, op Operation) Scope {
	row, ok := capabilityMatrix[role]
	if !ok {
		return ScopeNone
	}
	return row.scopeFor(op)
}
