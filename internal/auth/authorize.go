package auth

import (
	"context"
	"errors"
	"fmt"
)

// DenyReason explains a negative decision. Denials are terminal for the
// current operation and are never retried.
type DenyReason string

const (
	ReasonNone            DenyReason = ""
	ReasonNotOwner        DenyReason = "not_owner"
	ReasonNoGrant         DenyReason = "no_grant"
	ReasonRoleInactive    DenyReason = "role_inactive"
	ReasonUnauthenticated DenyReason = "unauthenticated"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// Deny builds a negative decision with the given reason.
func Deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Err returns nil for allows and a wrapped ErrForbidden for denials.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
}

// GrantChecker reports whether an unexpired access grant covers the actor
// (or the actor's structure) for the given resource. Expiry is evaluated
// at check time by the implementation.
type GrantChecker interface {
	HasActiveGrant(ctx context.Context, actor Actor, res Resource) (bool, error)
}

// Engine is the single dispatch point for record authorization. Decisions
// are pure given (actor, operation, resource, grants) and safe for
// concurrent use; the only I/O is the grant lookup.
type Engine struct {
	grants GrantChecker
}

// NewEngine constructs the engine. The grant checker is required: absence
// of a grant is the default-deny state, so the engine must always be able
// to ask.
func NewEngine(grants GrantChecker) (*Engine, error) {
	if grants == nil {
		return nil, errors.New("auth: grant checker is required")
	}
	return &Engine{grants: grants}, nil
}

// Authorize decides (actor, operation, resource). Precedence, first match
// wins: global role scope, same-structure scope with role refinement,
// unexpired grant (reads only), default deny.
func (e *Engine) Authorize(ctx context.Context, actor Actor, op Operation, res Resource) (Decision, error) {
	if res == nil {
		return Deny(ReasonNotOwner), fmt.Errorf("%w: resource is required", ErrInvalidInput)
	}
	if !actor.Role.Valid() || actor.Role == RolePending {
		return Deny(ReasonRoleInactive), nil
	}

	switch ScopeFor(actor.Role, op) {
	case ScopeGlobal:
		return Allow, nil
	case ScopeStructure:
		if actor.StructureID != "" && actor.StructureID == res.OwnerStructureID() {
			return Allow, nil
		}
	case ScopeCreator:
		if actor.ID != "" && actor.ID == res.CreatorID() {
			return Allow, nil
		}
	}

	// Grants widen reads across structures. They never permit writes,
	// regardless of who issued them.
	if op == OpReadOne || op == OpReadList {
		ok, err := e.grants.HasActiveGrant(ctx, actor, res)
		if err != nil {
			return Deny(ReasonNoGrant), fmt.Errorf("grant lookup: %w", err)
		}
		if ok {
			return Allow, nil
		}
		return Deny(ReasonNoGrant), nil
	}
	return Deny(ReasonNotOwner), nil
}

// Require is Authorize collapsed to an error, for call sites that have no
// use for the reason beyond surfacing it.
func (e *Engine) Require(ctx context.Context, actor Actor, op Operation, res Resource) error {
	decision, err := e.Authorize(ctx, actor, op, res)
	if err != nil {
		return err
	}
	return decision.Err()
}

// ListKind discriminates the visibility predicate for list queries.
type ListKind int

const (
	// ListNone yields an empty result set.
	ListNone ListKind = iota
	// ListAll is unfiltered visibility.
	ListAll
	// ListByStructure selects records owned by StructureID.
	ListByStructure
	// ListByCreator selects records created by ActorID.
	ListByCreator
)

// ListScope is the first-class visibility predicate for list queries. The
// data-access layer pushes it down into the query instead of filtering in
// memory; Matches is the in-memory equivalent.
type ListScope struct {
	Kind        ListKind
	StructureID string
	ActorID     string
}

// ListScopeFor derives the list predicate from the capability matrix.
func ListScopeFor(actor Actor) ListScope {
	switch ScopeFor(actor.Role, OpReadList) {
	case ScopeGlobal:
		return ListScope{Kind: ListAll}
	case ScopeStructure:
		if actor.StructureID == "" {
			return ListScope{Kind: ListNone}
		}
		return ListScope{Kind: ListByStructure, StructureID: actor.StructureID}
	case ScopeCreator:
		if actor.ID == "" {
			return ListScope{Kind: ListNone}
		}
		return ListScope{Kind: ListByCreator, ActorID: actor.ID}
	default:
		return ListScope{Kind: ListNone}
	}
}

// Matches applies the predicate in memory.
func (s ListScope) Matches(res Resource) bool {
	switch s.Kind {
	case ListAll:
		return true
	case ListByStructure:
		return res.OwnerStructureID() == s.StructureID
	case ListByCreator:
		return res.CreatorID() == s.ActorID
	default:
		return false
	}
}
