// Package grant records explicit, time-bounded cross-structure access
// approvals. Grants are additive only: the absence of a grant is the
// default-deny state, not an error. They are created by the approval
// workflow and consumed read-only by the authorization engine; expiry is
// evaluated at check time, never by background eviction.
package grant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sidra.tn/internal/auth"
	"sidra.tn/internal/ids"
)

var ErrInvalidInput = errors.New("grant: invalid input")

// AccessGrant allows read access across structure boundaries. The grantee
// is either a single actor or a whole structure; the target is either a
// single record or every record of a structure.
type AccessGrant struct {
	ID                 string    `json:"id"`
	GranteeActorID     string    `json:"grantee_actor_id,omitempty"`
	GranteeStructureID string    `json:"grantee_structure_id,omitempty"`
	RecordID           string    `json:"record_id,omitempty"`
	TargetStructureID  string    `json:"target_structure_id,omitempty"`
	GrantedBy          string    `json:"granted_by"`
	ValidFrom          time.Time `json:"valid_from"`
	ValidUntil         time.Time `json:"valid_until"`
	CreatedAt          time.Time `json:"created_at"`
}

// ActiveAt reports whether the grant's validity window covers t. A zero
// ValidUntil means the approval was issued without an end date.
func (g AccessGrant) ActiveAt(t time.Time) bool {
	if !g.ValidFrom.IsZero() && t.Before(g.ValidFrom) {
		return false
	}
	if !g.ValidUntil.IsZero() && !t.Before(g.ValidUntil) {
		return false
	}
	return true
}

// Covers reports whether the grant applies to (actor, resource),
// independent of its validity window.
func (g AccessGrant) Covers(actor auth.Actor, res auth.Resource) bool {
	granteeOK := (g.GranteeActorID != "" && g.GranteeActorID == actor.ID) ||
		(g.GranteeStructureID != "" && g.GranteeStructureID == actor.StructureID)
	if !granteeOK {
		return false
	}
	if g.RecordID != "" {
		return g.RecordID == res.ResourceID()
	}
	return g.TargetStructureID != "" && g.TargetStructureID == res.OwnerStructureID()
}

// Validate checks structural invariants before a grant is stored.
func (g AccessGrant) Validate() error {
	if g.GranteeActorID == "" && g.GranteeStructureID == "" {
		return fmt.Errorf("%w: grantee actor or structure is required", ErrInvalidInput)
	}
	if g.RecordID == "" && g.TargetStructureID == "" {
		return fmt.Errorf("%w: target record or structure is required", ErrInvalidInput)
	}
	if strings.TrimSpace(g.GrantedBy) == "" {
		return fmt.Errorf("%w: granted_by is required", ErrInvalidInput)
	}
	if !g.ValidFrom.IsZero() && !g.ValidUntil.IsZero() && !g.ValidUntil.After(g.ValidFrom) {
		return fmt.Errorf("%w: validity window is empty", ErrInvalidInput)
	}
	return nil
}

// Store describes grant persistence as consumed by this core.
type Store interface {
	// Create persists a grant issued by the approval workflow.
	Create(ctx context.Context, g AccessGrant) (AccessGrant, error)
	// GrantsFor returns every grant whose grantee covers the actor and
	// whose target covers the resource, regardless of validity window.
	GrantsFor(ctx context.Context, actor auth.Actor, res auth.Resource) ([]AccessGrant, error)
}

// Checker adapts a Store to the engine's grant contract, applying the
// validity window at check time.
type Checker struct {
	store Store
	now   func() time.Time
}

// NewChecker wraps the store. A nil clock defaults to time.Now.
func NewChecker(store Store, now func() time.Time) (*Checker, error) {
	if store == nil {
		return nil, errors.New("grant: store is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Checker{store: store, now: now}, nil
}

var _ auth.GrantChecker = (*Checker)(nil)

// HasActiveGrant reports whether any unexpired grant covers (actor, res).
func (c *Checker) HasActiveGrant(ctx context.Context, actor auth.Actor, res auth.Resource) (bool, error) {
	grants, err := c.store.GrantsFor(ctx, actor, res)
	if err != nil {
		return false, err
	}
	now := c.now().UTC()
	for _, g := range grants {
		if g.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

// InMemory implements Store with in-process concurrency safety. Used in
// tests and in deployments without Postgres.
type InMemory struct {
	mu     sync.RWMutex
	grants map[string]AccessGrant
}

// NewInMemory creates an empty grant store.
func NewInMemory() *InMemory {
	return &InMemory{grants: make(map[string]AccessGrant)}
}

func (s *InMemory) Create(ctx context.Context, g AccessGrant) (AccessGrant, error) {
	if err := g.Validate(); err != nil {
		return AccessGrant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = ids.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	s.grants[g.ID] = g
	return g, nil
}

func (s *InMemory) GrantsFor(ctx context.Context, actor auth.Actor, res auth.Resource) ([]AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AccessGrant
	for _, g := range s.grants {
		if g.Covers(actor, res) {
			out = append(out, g)
		}
	}
	return out, nil
}
