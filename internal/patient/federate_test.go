package patient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sidra.tn/internal/auth"
	"sidra.tn/internal/grant"
)

func grantRead(t *testing.T, env *testEnv, actor auth.Actor, recordID string) {
	t.Helper()
	if _, err := env.grants.Create(context.Background(), grant.AccessGrant{
		GranteeActorID: actor.ID,
		RecordID:       recordID,
		GrantedBy:      "sa",
		ValidFrom:      time.Now().Add(-time.Minute),
		ValidUntil:     time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("grant create: %v", err)
	}
}

func TestFederateRequiresGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	original := mustCreate(t, env, userA, CreateInput{
		FirstName: "Amine", LastName: "Ben Salah", BirthDate: birthDate(1990, 5, 12),
	})

	if _, err := env.svc.Federate(ctx, adminB, original.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden without grant, got %v", err)
	}
}

func TestFederateCopiesRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	original := mustCreate(t, env, userA, CreateInput{
		FirstName: "Amine", LastName: "Ben Salah", BirthDate: birthDate(1990, 5, 12), Gender: "M",
	})
	grantRead(t, env, adminB, original.ID)

	copyOf, err := env.svc.Federate(ctx, adminB, original.ID)
	if err != nil {
		t.Fatalf("Federate: %v", err)
	}
	if copyOf.ID == original.ID {
		t.Fatal("federation must create a new record")
	}
	if copyOf.StructureID != "B" || copyOf.CreatedBy != adminB.ID {
		t.Fatalf("unexpected ownership: %+v", copyOf)
	}
	if copyOf.OriginStructureID != "A" {
		t.Fatalf("lineage must point to the origin structure: %+v", copyOf)
	}
	if copyOf.FirstName != original.FirstName || !copyOf.BirthDate.Equal(original.BirthDate) {
		t.Fatalf("identity fields not copied: %+v", copyOf)
	}
	if copyOf.Code == original.Code || copyOf.Code != "P-1990-00002" {
		t.Fatalf("expected a freshly allocated code, got %s", copyOf.Code)
	}

	// The original record is never mutated.
	reread, err := env.store.FindByID(ctx, original.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if reread.StructureID != "A" || reread.OriginStructureID != "" || reread.Code != original.Code {
		t.Fatalf("original was mutated: %+v", reread)
	}
}

func TestFederateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	original := mustCreate(t, env, userA, CreateInput{
		FirstName: "Leila", LastName: "Trabelsi", BirthDate: birthDate(1985, 2, 3),
	})
	grantRead(t, env, adminB, original.ID)

	first, err := env.svc.Federate(ctx, adminB, original.ID)
	if err != nil {
		t.Fatalf("first Federate: %v", err)
	}
	second, err := env.svc.Federate(ctx, adminB, original.ID)
	if err != nil {
		t.Fatalf("second Federate: %v", err)
	}
	if first.ID != second.ID || first.Code != second.Code {
		t.Fatalf("federation not idempotent: %s vs %s", first.ID, second.ID)
	}

	inB, err := env.store.ListByStructure(ctx, "B")
	if err != nil {
		t.Fatalf("ListByStructure: %v", err)
	}
	if len(inB) != 1 {
		t.Fatalf("expected a single copy in B, got %d", len(inB))
	}
}

// Federating an already-federated copy must point lineage at the ultimate
// origin, not the intermediate structure.
func TestFederateLineagePointsToUltimateOrigin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	original := mustCreate(t, env, userA, CreateInput{
		FirstName: "Karim", LastName: "Haddad", BirthDate: birthDate(1975, 7, 1),
	})
	grantRead(t, env, adminB, original.ID)

	copyInB, err := env.svc.Federate(ctx, adminB, original.ID)
	if err != nil {
		t.Fatalf("Federate into B: %v", err)
	}

	adminC := auth.Actor{ID: "admin-c", Role: auth.RoleStructureAdmin, StructureID: "C"}
	grantRead(t, env, adminC, copyInB.ID)

	copyInC, err := env.svc.Federate(ctx, adminC, copyInB.ID)
	if err != nil {
		t.Fatalf("Federate into C: %v", err)
	}
	if copyInC.OriginStructureID != "A" {
		t.Fatalf("lineage must be the ultimate origin A, got %s", copyInC.OriginStructureID)
	}
}

func TestFederateOwnStructureRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	original := mustCreate(t, env, userA, CreateInput{
		FirstName: "Nour", LastName: "Mansour", BirthDate: birthDate(2001, 9, 9),
	})
	if _, err := env.svc.Federate(ctx, userA, original.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for same-structure federation, got %v", err)
	}
}

func TestFederateNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Federate(context.Background(), adminB, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFederateConcurrentCallersCreateOneCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	original := mustCreate(t, env, userA, CreateInput{
		FirstName: "Rim", LastName: "Ayari", BirthDate: birthDate(1995, 6, 6),
	})
	grantRead(t, env, adminB, original.ID)

	const n = 16
	var wg sync.WaitGroup
	idsSeen := make([]string, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			p, err := env.svc.Federate(ctx, adminB, original.ID)
			if err != nil {
				t.Errorf("Federate: %v", err)
				return
			}
			idsSeen[i] = p.ID
		}(i)
	}
	wg.Wait()

	for _, id := range idsSeen {
		if id != idsSeen[0] {
			t.Fatalf("concurrent federation produced different records: %v", idsSeen)
		}
	}
	inB, err := env.store.ListByStructure(ctx, "B")
	if err != nil {
		t.Fatalf("ListByStructure: %v", err)
	}
	if len(inB) != 1 {
		t.Fatalf("expected one copy in B, got %d", len(inB))
	}
}
