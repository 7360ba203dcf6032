package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sidra.tn/internal/audit"
	"sidra.tn/internal/auth"
	"sidra.tn/internal/obs"
	"sidra.tn/internal/sequence"
)

// Notifier receives domain events for the realtime channel. Implementations
// must not block: the service calls them inline.
type Notifier interface {
	PatientFederated(ctx context.Context, p Patient, actor auth.Actor)
}

type noopNotifier struct{}

func (noopNotifier) PatientFederated(context.Context, Patient, auth.Actor) {}

// Service gates every record operation through the authorization engine.
// Checks always run before any write is applied.
type Service struct {
	store    Store
	engine   *auth.Engine
	grants   auth.GrantChecker
	codes    *sequence.Allocator
	notifier Notifier
	now      func() time.Time

	fedLocks keyedMutex
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithNotifier wires realtime notifications for federation events.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the record service. The grant checker is consulted
// directly during federation: federation is only reachable when a grant,
// not structure membership, justifies the read.
func NewService(store Store, engine *auth.Engine, grants auth.GrantChecker, codes *sequence.Allocator, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("patient: store is required")
	}
	if engine == nil {
		return nil, errors.New("patient: auth engine is required")
	}
	if grants == nil {
		return nil, errors.New("patient: grant checker is required")
	}
	if codes == nil {
		return nil, errors.New("patient: code allocator is required")
	}
	s := &Service{
		store:    store,
		engine:   engine,
		grants:   grants,
		codes:    codes,
		notifier: noopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// authorize runs the engine, records the decision metric and audits
// denials. Denials surface as auth.ErrForbidden.
func (s *Service) authorize(ctx context.Context, actor auth.Actor, op auth.Operation, res auth.Resource) error {
	decision, err := s.engine.Authorize(ctx, actor, op, res)
	if err != nil {
		return err
	}
	obs.RecordAuthzDecision(string(op), decision.Allowed, string(decision.Reason))
	if !decision.Allowed {
		_ = audit.LogEvent(ctx, "patient.access_denied", map[string]any{
			"operation": string(op),
			"record_id": res.ResourceID(),
			"actor_id":  actor.ID,
			"reason":    string(decision.Reason),
		})
	}
	return decision.Err()
}

// Get returns one record after a ReadOne check.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Patient{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Patient{}, err
	}
	if err := s.authorize(ctx, actor, auth.OpReadOne, &p); err != nil {
		return Patient{}, err
	}
	return p, nil
}

// List returns the records visible to the actor. The scope predicate is
// pushed down to the store, never applied in memory here.
func (s *Service) List(ctx context.Context, actor auth.Actor) ([]Patient, error) {
	scope := auth.ListScopeFor(actor)
	if scope.Kind == auth.ListNone {
		obs.RecordAuthzDecision(string(auth.OpReadList), false, string(auth.ReasonRoleInactive))
		return nil, fmt.Errorf("%w: %s", auth.ErrForbidden, auth.ReasonRoleInactive)
	}
	obs.RecordAuthzDecision(string(auth.OpReadList), true, "")
	return s.store.List(ctx, scope)
}

// Search filters the actor's visible records by a free-text term over
// names and codes.
func (s *Service) Search(ctx context.Context, actor auth.Actor, term string) ([]Patient, error) {
	scope := auth.ListScopeFor(actor)
	if scope.Kind == auth.ListNone {
		return nil, fmt.Errorf("%w: %s", auth.ErrForbidden, auth.ReasonRoleInactive)
	}
	return s.store.Search(ctx, term, scope)
}

// SearchExternal looks up records in foreign structures, either by exact
// patient code or by owning structure, and returns the limited projection.
// Records of the caller's own structure are excluded: those are reachable
// through the ordinary listing.
func (s *Service) SearchExternal(ctx context.Context, actor auth.Actor, code, structureID string) ([]LimitedView, error) {
	if actor.Role == auth.RolePending || !actor.Role.Valid() {
		return nil, fmt.Errorf("%w: %s", auth.ErrForbidden, auth.ReasonRoleInactive)
	}
	code = strings.TrimSpace(code)
	structureID = strings.TrimSpace(structureID)
	if code == "" && structureID == "" {
		return nil, fmt.Errorf("%w: code or structure_id is required", ErrInvalidInput)
	}

	var candidates []Patient
	if code != "" {
		p, err := s.store.FindByCode(ctx, code)
		switch {
		case err == nil:
			candidates = append(candidates, p)
		case errors.Is(err, ErrNotFound):
		default:
			return nil, err
		}
	}
	if structureID != "" {
		if len(candidates) > 0 {
			// A code hit outside the requested structure means no result.
			if candidates[0].StructureID != structureID {
				candidates = nil
			}
		} else {
			list, err := s.store.ListByStructure(ctx, structureID)
			if err != nil {
				return nil, err
			}
			candidates = list
		}
	}

	out := make([]LimitedView, 0, len(candidates))
	for _, p := range candidates {
		if p.StructureID == actor.StructureID {
			continue
		}
		out = append(out, Limited(p))
	}
	return out, nil
}

// CreateInput carries the fields a caller supplies for a new record.
type CreateInput struct {
	FirstName string
	LastName  string
	BirthDate time.Time
	Gender    string
}

// Create registers a new record owned by the actor's structure, with the
// actor recorded as creator. Creation is idempotent per identity within
// the structure: an existing match is returned unchanged.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (Patient, error) {
	ident := Identity{LastName: in.LastName, FirstName: in.FirstName, BirthDate: in.BirthDate}.Normalize()
	if err := ident.Validate(); err != nil {
		return Patient{}, err
	}
	if actor.StructureID == "" {
		return Patient{}, fmt.Errorf("%w: actor is not attached to a structure", ErrInvalidInput)
	}

	prospective := Patient{
		FirstName:   ident.FirstName,
		LastName:    ident.LastName,
		BirthDate:   ident.BirthDate,
		Gender:      strings.TrimSpace(in.Gender),
		StructureID: actor.StructureID,
		CreatedBy:   actor.ID,
	}
	if err := s.authorize(ctx, actor, auth.OpCreate, &prospective); err != nil {
		return Patient{}, err
	}
	return s.createOrGet(ctx, prospective, "")
}

// UpdateInput mutates record fields. Identity fields move the uniqueness
// key; the lineage pointer never changes after creation.
type UpdateInput struct {
	FirstName *string
	LastName  *string
	BirthDate *time.Time
	Gender    *string
}

// Update applies the input after an Update check. Check-then-act: nothing
// is written when the decision is negative.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id string, in UpdateInput) (Patient, error) {
	p, err := s.store.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return Patient{}, err
	}
	if err := s.authorize(ctx, actor, auth.OpUpdate, &p); err != nil {
		return Patient{}, err
	}

	if in.FirstName != nil {
		p.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		p.LastName = *in.LastName
	}
	if in.BirthDate != nil {
		p.BirthDate = *in.BirthDate
	}
	if in.Gender != nil {
		p.Gender = strings.TrimSpace(*in.Gender)
	}
	ident := IdentityOf(p).Normalize()
	if err := ident.Validate(); err != nil {
		return Patient{}, err
	}
	p.FirstName, p.LastName, p.BirthDate = ident.FirstName, ident.LastName, ident.BirthDate

	return s.store.Update(ctx, p)
}

// Delete removes a record after a Delete check.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id string) error {
	p, err := s.store.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, auth.OpDelete, &p); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, p.ID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "patient.deleted", map[string]any{
		"record_id": p.ID,
		"code":      p.Code,
		"actor_id":  actor.ID,
	})
	return nil
}
