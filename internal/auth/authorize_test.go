package auth

import (
	"context"
	"errors"
	"testing"
)

type fakeResource struct {
	id        string
	structure string
	creator   string
}

func (r fakeResource) ResourceID() string       { return r.id }
func (r fakeResource) OwnerStructureID() string { return r.structure }
func (r fakeResource) CreatorID() string        { return r.creator }

type fakeGrants struct {
	granted map[string]bool // "<actorID>|<resourceID>" or "<structureID>|<resourceID>"
	err     error
}

func (g fakeGrants) HasActiveGrant(_ context.Context, actor Actor, res Resource) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	return g.granted[actor.ID+"|"+res.ResourceID()] || g.granted[actor.StructureID+"|"+res.ResourceID()], nil
}

func newTestEngine(t *testing.T, grants GrantChecker) *Engine {
	t.Helper()
	if grants == nil {
		grants = fakeGrants{}
	}
	engine, err := NewEngine(grants)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestAuthorizeSuperAdminAllowsEverything(t *testing.T) {
	engine := newTestEngine(t, nil)
	admin := Actor{ID: "sa", Role: RoleSuperAdmin}
	res := fakeResource{id: "r1", structure: "other", creator: "someone"}

	for _, op := range []Operation{OpReadOne, OpReadList, OpCreate, OpUpdate, OpDelete} {
		decision, err := engine.Authorize(context.Background(), admin, op, res)
		if err != nil {
			t.Fatalf("Authorize(%s): %v", op, err)
		}
		if !decision.Allowed {
			t.Fatalf("super admin denied %s: %s", op, decision.Reason)
		}
	}
}

func TestAuthorizeSameStructure(t *testing.T) {
	engine := newTestEngine(t, nil)
	res := fakeResource{id: "r1", structure: "A", creator: "creator-1"}

	cases := []struct {
		name    string
		actor   Actor
		op      Operation
		allowed bool
		reason  DenyReason
	}{
		{"user reads own structure", Actor{ID: "u1", Role: RoleStandardUser, StructureID: "A"}, OpReadOne, true, ReasonNone},
		{"user updates own structure", Actor{ID: "u1", Role: RoleStandardUser, StructureID: "A"}, OpUpdate, true, ReasonNone},
		{"admin deletes own structure", Actor{ID: "a1", Role: RoleStructureAdmin, StructureID: "A"}, OpDelete, true, ReasonNone},
		{"user reads foreign structure", Actor{ID: "u2", Role: RoleStandardUser, StructureID: "B"}, OpReadOne, false, ReasonNoGrant},
		{"admin writes foreign structure", Actor{ID: "a2", Role: RoleStructureAdmin, StructureID: "B"}, OpUpdate, false, ReasonNotOwner},
		{"pending always denied", Actor{ID: "p1", Role: RolePending, StructureID: "A"}, OpReadOne, false, ReasonRoleInactive},
	}
	for _, tc := range cases {
		decision, err := engine.Authorize(context.Background(), tc.actor, tc.op, res)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if decision.Allowed != tc.allowed {
			t.Fatalf("%s: allowed=%v, want %v", tc.name, decision.Allowed, tc.allowed)
		}
		if decision.Reason != tc.reason {
			t.Fatalf("%s: reason=%s, want %s", tc.name, decision.Reason, tc.reason)
		}
	}
}

func TestAuthorizeExternalCreatorOnly(t *testing.T) {
	engine := newTestEngine(t, nil)
	external := Actor{ID: "ext-1", Role: RoleExternal, StructureID: "A"}

	own := fakeResource{id: "r1", structure: "A", creator: "ext-1"}
	sameStructure := fakeResource{id: "r2", structure: "A", creator: "u9"}

	for _, op := range []Operation{OpReadOne, OpUpdate, OpDelete} {
		decision, err := engine.Authorize(context.Background(), external, op, own)
		if err != nil {
			t.Fatalf("Authorize(%s, own): %v", op, err)
		}
		if !decision.Allowed {
			t.Fatalf("external denied %s on own record: %s", op, decision.Reason)
		}
	}

	// Structure membership alone is never enough for External writes.
	for _, op := range []Operation{OpUpdate, OpDelete} {
		decision, err := engine.Authorize(context.Background(), external, op, sameStructure)
		if err != nil {
			t.Fatalf("Authorize(%s, same structure): %v", op, err)
		}
		if decision.Allowed {
			t.Fatalf("external allowed %s on record it did not create", op)
		}
		if decision.Reason != ReasonNotOwner {
			t.Fatalf("unexpected reason: %s", decision.Reason)
		}
	}
}

func TestAuthorizeGrantWidensReadsOnly(t *testing.T) {
	res := fakeResource{id: "r1", structure: "A", creator: "ext-1"}
	admin := Actor{ID: "admin-b", Role: RoleStructureAdmin, StructureID: "B"}

	// Without a grant cross-structure reads deny with no_grant.
	engine := newTestEngine(t, nil)
	decision, err := engine.Authorize(context.Background(), admin, OpReadOne, res)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if decision.Allowed || decision.Reason != ReasonNoGrant {
		t.Fatalf("expected no_grant denial, got %+v", decision)
	}

	// With a grant for the admin's structure the read is allowed...
	engine = newTestEngine(t, fakeGrants{granted: map[string]bool{"B|r1": true}})
	decision, err = engine.Authorize(context.Background(), admin, OpReadOne, res)
	if err != nil {
		t.Fatalf("Authorize with grant: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("grant did not allow read: %s", decision.Reason)
	}

	// ...but writes still deny.
	for _, op := range []Operation{OpCreate, OpUpdate, OpDelete} {
		decision, err = engine.Authorize(context.Background(), admin, op, res)
		if err != nil {
			t.Fatalf("Authorize(%s): %v", op, err)
		}
		if decision.Allowed {
			t.Fatalf("grant allowed write %s", op)
		}
		if decision.Reason != ReasonNotOwner {
			t.Fatalf("unexpected reason for %s: %s", op, decision.Reason)
		}
	}
}

func TestAuthorizeGrantLookupFailure(t *testing.T) {
	lookupErr := errors.New("store down")
	engine := newTestEngine(t, fakeGrants{err: lookupErr})
	actor := Actor{ID: "u1", Role: RoleStandardUser, StructureID: "B"}
	res := fakeResource{id: "r1", structure: "A"}

	decision, err := engine.Authorize(context.Background(), actor, OpReadOne, res)
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected wrapped lookup error, got %v", err)
	}
	if decision.Allowed {
		t.Fatal("lookup failure must not allow")
	}
}

func TestDecisionErr(t *testing.T) {
	if err := Allow.Err(); err != nil {
		t.Fatalf("allow produced error: %v", err)
	}
	err := Deny(ReasonNoGrant).Err()
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestListScopeFor(t *testing.T) {
	cases := []struct {
		name  string
		actor Actor
		want  ListScope
	}{
		{"super admin unfiltered", Actor{ID: "sa", Role: RoleSuperAdmin}, ListScope{Kind: ListAll}},
		{"structure admin scoped", Actor{ID: "a1", Role: RoleStructureAdmin, StructureID: "A"}, ListScope{Kind: ListByStructure, StructureID: "A"}},
		{"standard user scoped", Actor{ID: "u1", Role: RoleStandardUser, StructureID: "A"}, ListScope{Kind: ListByStructure, StructureID: "A"}},
		{"external by creator", Actor{ID: "ext-1", Role: RoleExternal, StructureID: "A"}, ListScope{Kind: ListByCreator, ActorID: "ext-1"}},
		{"pending sees nothing", Actor{ID: "p1", Role: RolePending}, ListScope{Kind: ListNone}},
		{"structure-bound role without structure", Actor{ID: "u2", Role: RoleStandardUser}, ListScope{Kind: ListNone}},
	}
	for _, tc := range cases {
		if got := ListScopeFor(tc.actor); got != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestListScopeMatches(t *testing.T) {
	inA := fakeResource{id: "r1", structure: "A", creator: "u1"}
	inB := fakeResource{id: "r2", structure: "B", creator: "ext-1"}

	if !(ListScope{Kind: ListAll}).Matches(inA) {
		t.Fatal("ListAll must match everything")
	}
	scope := ListScope{Kind: ListByStructure, StructureID: "A"}
	if !scope.Matches(inA) || scope.Matches(inB) {
		t.Fatal("structure scope mismatch")
	}
	scope = ListScope{Kind: ListByCreator, ActorID: "ext-1"}
	if scope.Matches(inA) || !scope.Matches(inB) {
		t.Fatal("creator scope mismatch")
	}
	if (ListScope{Kind: ListNone}).Matches(inA) {
		t.Fatal("ListNone must match nothing")
	}
}
