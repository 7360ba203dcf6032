package patient

import (
	"context"
	"strings"
	"sync"
	"time"

	"sidra.tn/internal/auth"
	"sidra.tn/internal/ids"
)

// Store describes record persistence as consumed by this core. List and
// Search take the caller's visibility scope so implementations can push
// the predicate into the query instead of filtering in memory.
type Store interface {
	FindByID(ctx context.Context, id string) (Patient, error)
	FindByCode(ctx context.Context, code string) (Patient, error)
	// FindByIdentity is the indexed dedup lookup keyed on
	// (structure, identity fields).
	FindByIdentity(ctx context.Context, structureID string, ident Identity) (Patient, error)
	List(ctx context.Context, scope auth.ListScope) ([]Patient, error)
	ListByStructure(ctx context.Context, structureID string) ([]Patient, error)
	Search(ctx context.Context, term string, scope auth.ListScope) ([]Patient, error)
	// Create persists a new record. It returns ErrConflict when another
	// record with the same (structure, identity) already exists; that
	// uniqueness constraint is the federation atomicity boundary.
	Create(ctx context.Context, p Patient) (Patient, error)
	Update(ctx context.Context, p Patient) (Patient, error)
	Delete(ctx context.Context, id string) error
}

// InMemory implements Store with in-process concurrency safety and an
// identity index for O(1) dedup lookups. Used in tests and in deployments
// without Postgres.
type InMemory struct {
	mu       sync.RWMutex
	byID     map[string]*Patient
	identity map[string]string // identity key -> record id
}

// NewInMemory creates an empty record store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:     make(map[string]*Patient),
		identity: make(map[string]string),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) FindByID(ctx context.Context, id string) (Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) FindByCode(ctx context.Context, code string) (Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if p.Code == code {
			return *p, nil
		}
	}
	return Patient{}, ErrNotFound
}

func (s *InMemory) FindByIdentity(ctx context.Context, structureID string, ident Identity) (Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identity[ident.Key(structureID)]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *InMemory) List(ctx context.Context, scope auth.ListScope) ([]Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Patient
	for _, p := range s.byID {
		if scope.Matches(p) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *InMemory) ListByStructure(ctx context.Context, structureID string) ([]Patient, error) {
	return s.List(ctx, auth.ListScope{Kind: auth.ListByStructure, StructureID: structureID})
}

func (s *InMemory) Search(ctx context.Context, term string, scope auth.ListScope) ([]Patient, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Patient
	for _, p := range s.byID {
		if !scope.Matches(p) {
			continue
		}
		if term == "" ||
			strings.Contains(strings.ToLower(p.LastName), term) ||
			strings.Contains(strings.ToLower(p.FirstName), term) ||
			strings.Contains(strings.ToLower(p.Code), term) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *InMemory) Create(ctx context.Context, p Patient) (Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := IdentityOf(p).Key(p.StructureID)
	if _, exists := s.identity[key]; exists {
		return Patient{}, ErrConflict
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	cp := p
	s.byID[p.ID] = &cp
	s.identity[key] = p.ID
	return p, nil
}

func (s *InMemory) Update(ctx context.Context, p Patient) (Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[p.ID]
	if !ok {
		return Patient{}, ErrNotFound
	}
	oldKey := IdentityOf(*existing).Key(existing.StructureID)
	newKey := IdentityOf(p).Key(p.StructureID)
	if newKey != oldKey {
		if _, taken := s.identity[newKey]; taken {
			return Patient{}, ErrConflict
		}
		delete(s.identity, oldKey)
		s.identity[newKey] = p.ID
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	cp := p
	s.byID[p.ID] = &cp
	return p, nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.identity, IdentityOf(*p).Key(p.StructureID))
	delete(s.byID, id)
	return nil
}
