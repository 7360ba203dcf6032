// Package patient holds the health-record model, the CRUD service gated
// by the authorization engine, and cross-structure identity federation.
package patient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sidra.tn/internal/auth"
)

var (
	ErrNotFound     = errors.New("patient: not found")
	ErrConflict     = errors.New("patient: conflict")
	ErrInvalidInput = errors.New("patient: invalid input")
)

// Patient is a per-structure health record. It belongs to exactly one
// owning structure. OriginStructureID is provenance, not ownership: it is
// set once at federation time, always points to the ultimate origin and
// never changes afterwards.
type Patient struct {
	ID                string    `json:"id"`
	Code              string    `json:"code"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	BirthDate         time.Time `json:"birth_date"`
	Gender            string    `json:"gender,omitempty"`
	StructureID       string    `json:"structure_id"`
	OriginStructureID string    `json:"origin_structure_id,omitempty"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

var _ auth.Resource = (*Patient)(nil)

func (p *Patient) ResourceID() string       { return p.ID }
func (p *Patient) OwnerStructureID() string { return p.StructureID }
func (p *Patient) CreatorID() string        { return p.CreatedBy }

// Identity is the dedup key for federation: exact, case-sensitive match
// on name fields plus the birth date.
type Identity struct {
	LastName  string
	FirstName string
	BirthDate time.Time
}

// IdentityOf extracts the dedup key from a record.
func IdentityOf(p Patient) Identity {
	return Identity{LastName: p.LastName, FirstName: p.FirstName, BirthDate: p.BirthDate}
}

// Normalize truncates the birth date to a UTC calendar date. Name fields
// are compared exactly as stored.
func (i Identity) Normalize() Identity {
	d := i.BirthDate.UTC()
	i.BirthDate = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return i
}

// Validate rejects identities that cannot key a record.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.LastName) == "" || strings.TrimSpace(i.FirstName) == "" {
		return fmt.Errorf("%w: name fields are required", ErrInvalidInput)
	}
	if i.BirthDate.IsZero() {
		return fmt.Errorf("%w: birth date is required", ErrInvalidInput)
	}
	return nil
}

// Key renders the uniqueness key scoped to a structure. It is also the
// serialization key for the federation atomicity boundary.
func (i Identity) Key(structureID string) string {
	n := i.Normalize()
	return structureID + "|" + n.LastName + "|" + n.FirstName + "|" + n.BirthDate.Format("2006-01-02")
}

// Equal compares two identities after date normalization.
func (i Identity) Equal(other Identity) bool {
	a, b := i.Normalize(), other.Normalize()
	return a.LastName == b.LastName && a.FirstName == b.FirstName && a.BirthDate.Equal(b.BirthDate)
}

// LimitedView is the cross-structure projection: enough to recognize a
// record without exposing the person's name.
type LimitedView struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Gender      string    `json:"gender,omitempty"`
	BirthDate   time.Time `json:"birth_date"`
	StructureID string    `json:"structure_id"`
}

// Limited maps a record to its cross-structure projection.
func Limited(p Patient) LimitedView {
	return LimitedView{
		ID:          p.ID,
		Code:        p.Code,
		Gender:      p.Gender,
		BirthDate:   p.BirthDate,
		StructureID: p.StructureID,
	}
}
