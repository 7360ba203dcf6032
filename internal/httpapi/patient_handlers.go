package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"sidra.tn/internal/audit"
	"sidra.tn/internal/auth"
	"sidra.tn/internal/patient"
)

type createPatientRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"`
	Gender    string `json:"gender"`
}

type updatePatientRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	BirthDate *string `json:"birth_date"`
	Gender    *string `json:"gender"`
}

const birthDateLayout = "2006-01-02"

func parseBirthDate(v string) (time.Time, error) {
	t, err := time.Parse(birthDateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: birth_date must be YYYY-MM-DD", patient.ErrInvalidInput)
	}
	return t, nil
}

func (a *API) handlePatients(w http.ResponseWriter, r *http.Request) {
	if a.patients == nil {
		writeError(w, http.StatusServiceUnavailable, "patient service unavailable")
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if term := strings.TrimSpace(r.URL.Query().Get("q")); term != "" {
			out, err := a.patients.Search(r.Context(), actor, term)
			if err != nil {
				handleDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
			return
		}
		out, err := a.patients.List(r.Context(), actor)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req createPatientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		birth, err := parseBirthDate(req.BirthDate)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		p, err := a.patients.Create(r.Context(), actor, patient.CreateInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			BirthDate: birth,
			Gender:    req.Gender,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/patients/%s", p.ID))
		writeJSON(w, http.StatusCreated, p)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// handlePatientScoped serves everything under /v1/patients/:
// `external` (limited cross-structure search), `{id}`,
// `{id}/federate`.
func (a *API) handlePatientScoped(w http.ResponseWriter, r *http.Request) {
	if a.patients == nil {
		writeError(w, http.StatusServiceUnavailable, "patient service unavailable")
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/patients/"), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")

	if parts[0] == "external" {
		if len(parts) != 1 {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		a.handleExternalSearch(w, r, actor)
		return
	}

	id := parts[0]
	switch len(parts) {
	case 1:
		a.handlePatientByID(w, r, actor, id)
	case 2:
		if parts[1] != "federate" {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		a.handleFederate(w, r, actor, id)
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleExternalSearch(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	out, err := a.patients.SearchExternal(r.Context(), actor, q.Get("code"), q.Get("structure_id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handlePatientByID(w http.ResponseWriter, r *http.Request, actor auth.Actor, id string) {
	switch r.Method {
	case http.MethodGet:
		p, err := a.patients.Get(r.Context(), actor, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		var req updatePatientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in := patient.UpdateInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Gender:    req.Gender,
		}
		if req.BirthDate != nil {
			birth, err := parseBirthDate(*req.BirthDate)
			if err != nil {
				handleDomainError(w, err)
				return
			}
			in.BirthDate = &birth
		}
		p, err := a.patients.Update(r.Context(), actor, id, in)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := a.patients.Delete(r.Context(), actor, id); err != nil {
			handleDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

func (a *API) handleFederate(w http.ResponseWriter, r *http.Request, actor auth.Actor, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	p, err := a.patients.Federate(r.Context(), actor, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "patient.federate.http", map[string]any{
		"original_id": id,
		"copy_id":     p.ID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/patients/%s", p.ID))
	writeJSON(w, http.StatusCreated, p)
}
