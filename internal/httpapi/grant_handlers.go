package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"sidra.tn/internal/audit"
	"sidra.tn/internal/auth"
	"sidra.tn/internal/grant"
)

type createGrantRequest struct {
	GranteeActorID     string `json:"grantee_actor_id"`
	GranteeStructureID string `json:"grantee_structure_id"`
	RecordID           string `json:"record_id"`
	TargetStructureID  string `json:"target_structure_id"`
	ValidFrom          string `json:"valid_from"`
	ValidUntil         string `json:"valid_until"`
}

// handleGrants creates cross-structure access grants. SuperAdmin can
// grant anything; a StructureAdmin only grants access to records their
// own structure owns.
func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	if a.grants == nil {
		writeError(w, http.StatusServiceUnavailable, "grant store unavailable")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g := grant.AccessGrant{
		GranteeActorID:     req.GranteeActorID,
		GranteeStructureID: req.GranteeStructureID,
		RecordID:           req.RecordID,
		TargetStructureID:  req.TargetStructureID,
		GrantedBy:          actor.ID,
	}
	var err error
	if g.ValidFrom, err = parseGrantTime(req.ValidFrom, time.Now().UTC()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if g.ValidUntil, err = parseGrantTime(req.ValidUntil, time.Time{}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := g.Validate(); err != nil {
		handleDomainError(w, err)
		return
	}

	if err := a.authorizeGrantIssue(r, actor, g); err != nil {
		handleDomainError(w, err)
		return
	}

	created, err := a.grants.Create(r.Context(), g)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "grant.created", map[string]any{
		"grant_id":         created.ID,
		"record_id":        created.RecordID,
		"target_structure": created.TargetStructureID,
		"grantee_actor":    created.GranteeActorID,
		"grantee_struct":   created.GranteeStructureID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/grants/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) authorizeGrantIssue(r *http.Request, actor auth.Actor, g grant.AccessGrant) error {
	switch actor.Role {
	case auth.RoleSuperAdmin:
		return nil
	case auth.RoleStructureAdmin:
		if g.TargetStructureID != "" && g.TargetStructureID != actor.StructureID {
			return fmt.Errorf("%w: %s", auth.ErrForbidden, auth.ReasonNotOwner)
		}
		if g.RecordID != "" {
			if a.patients == nil {
				return fmt.Errorf("%w: cannot resolve record owner", auth.ErrForbidden)
			}
			// Get enforces the admin's read scope, so a foreign record
			// surfaces as a denial here.
			if _, err := a.patients.Get(r.Context(), actor, g.RecordID); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", auth.ErrForbidden, auth.ReasonNotOwner)
	}
}

func parseGrantTime(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: use RFC 3339", v)
	}
	return t.UTC(), nil
}
