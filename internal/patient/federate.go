package patient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sidra.tn/internal/audit"
	"sidra.tn/internal/auth"
	"sidra.tn/internal/obs"
)

// Federate copies a foreign record into the requesting actor's structure.
// The read of the original must be justified by an access grant: structure
// membership never leads here, and the original record is never mutated.
// Federation is idempotent: an existing identity match in the actor's
// structure is returned unchanged.
func (s *Service) Federate(ctx context.Context, actor auth.Actor, originalID string) (Patient, error) {
	if actor.StructureID == "" {
		obs.RecordFederation("failed")
		return Patient{}, fmt.Errorf("%w: actor is not attached to a structure", ErrInvalidInput)
	}

	original, err := s.store.FindByID(ctx, originalID)
	if err != nil {
		obs.RecordFederation("failed")
		return Patient{}, err
	}
	if original.StructureID == actor.StructureID {
		obs.RecordFederation("failed")
		return Patient{}, fmt.Errorf("%w: record already belongs to the actor's structure", ErrInvalidInput)
	}

	ok, err := s.grants.HasActiveGrant(ctx, actor, &original)
	if err != nil {
		obs.RecordFederation("failed")
		return Patient{}, fmt.Errorf("grant lookup: %w", err)
	}
	if !ok {
		obs.RecordFederation("failed")
		_ = audit.LogEvent(ctx, "patient.federation_denied", map[string]any{
			"original_id": original.ID,
			"actor_id":    actor.ID,
			"reason":      string(auth.ReasonNoGrant),
		})
		return Patient{}, fmt.Errorf("%w: %s", auth.ErrForbidden, auth.ReasonNoGrant)
	}

	copyOf := Patient{
		FirstName:   original.FirstName,
		LastName:    original.LastName,
		BirthDate:   original.BirthDate,
		Gender:      original.Gender,
		StructureID: actor.StructureID,
		CreatedBy:   actor.ID,
		// Lineage always points to the ultimate origin, never an
		// intermediate copy, so chains cannot grow.
		OriginStructureID: original.StructureID,
	}
	if original.OriginStructureID != "" {
		copyOf.OriginStructureID = original.OriginStructureID
	}

	created, err := s.createOrGet(ctx, copyOf, original.ID)
	if err != nil {
		obs.RecordFederation("failed")
		return Patient{}, err
	}
	s.notifier.PatientFederated(ctx, created, actor)
	return created, nil
}

// createOrGet deduplicates then creates under a per-(structure, identity)
// lock, so two concurrent federations of the same person into the same
// structure cannot both insert. The store's uniqueness constraint backs
// the same boundary; on ErrConflict the existing record is re-read.
func (s *Service) createOrGet(ctx context.Context, p Patient, originalID string) (Patient, error) {
	ident := IdentityOf(p).Normalize()
	key := ident.Key(p.StructureID)

	unlock := s.fedLocks.lock(key)
	defer unlock()

	federated := originalID != ""

	existing, err := s.store.FindByIdentity(ctx, p.StructureID, ident)
	switch {
	case err == nil:
		if federated {
			obs.RecordFederation("deduplicated")
		}
		return existing, nil
	case errors.Is(err, ErrNotFound):
	default:
		return Patient{}, err
	}

	code, err := s.codes.NextCode(ctx, ident.BirthDate.Year())
	if err != nil {
		return Patient{}, err
	}
	p.Code = code
	p.CreatedAt = s.now().UTC()

	created, err := s.store.Create(ctx, p)
	if errors.Is(err, ErrConflict) {
		// A concurrent writer outside this process got there first;
		// federation stays idempotent by returning its record.
		if existing, lookupErr := s.store.FindByIdentity(ctx, p.StructureID, ident); lookupErr == nil {
			if federated {
				obs.RecordFederation("deduplicated")
			}
			return existing, nil
		}
		return Patient{}, err
	}
	if err != nil {
		return Patient{}, err
	}

	if federated {
		obs.RecordFederation("created")
	}
	_ = audit.LogEvent(ctx, "patient.created", map[string]any{
		"record_id":   created.ID,
		"code":        created.Code,
		"origin":      created.OriginStructureID,
		"original_id": originalID,
		"actor_id":    created.CreatedBy,
	})
	return created, nil
}

// keyedMutex serializes callers per key. Entries are reference-counted
// and removed as the last holder releases, so the table stays bounded by
// concurrency, not by history.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLockEntry
}

type keyedLockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLockEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
