package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sidra.tn/internal/auth"
	"sidra.tn/internal/ids"
	"sidra.tn/internal/patient"
)

type PatientStore struct {
	db *sql.DB
}

var _ patient.Store = (*PatientStore)(nil)

const patientColumns = `id, code, first_name, last_name, birth_date, gender,
	structure_id, coalesce(origin_structure_id, ''), created_by, created_at, updated_at`

func scanPatient(row interface{ Scan(...any) error }) (patient.Patient, error) {
	var p patient.Patient
	err := row.Scan(
		&p.ID, &p.Code, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.StructureID, &p.OriginStructureID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return patient.Patient{}, patient.ErrNotFound
	}
	if err != nil {
		return patient.Patient{}, err
	}
	return p, nil
}

func (s *PatientStore) FindByID(ctx context.Context, id string) (patient.Patient, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+patientColumns+`
		from patients
		where id = $1
	`, id)
	return scanPatient(row)
}

func (s *PatientStore) FindByCode(ctx context.Context, code string) (patient.Patient, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+patientColumns+`
		from patients
		where code = $1
	`, code)
	return scanPatient(row)
}

// FindByIdentity is the indexed dedup lookup; it relies on the unique
// index on (structure_id, last_name, first_name, birth_date).
func (s *PatientStore) FindByIdentity(ctx context.Context, structureID string, ident patient.Identity) (patient.Patient, error) {
	ident = ident.Normalize()
	row := s.db.QueryRowContext(ctx, `
		select `+patientColumns+`
		from patients
		where structure_id = $1 and last_name = $2 and first_name = $3 and birth_date = $4
	`, structureID, ident.LastName, ident.FirstName, ident.BirthDate)
	return scanPatient(row)
}

// scopeClause renders the visibility predicate into SQL. The boolean is
// false when the scope can never match, so callers skip the query.
func scopeClause(scope auth.ListScope, argOffset int) (string, []any, bool) {
	switch scope.Kind {
	case auth.ListAll:
		return "", nil, true
	case auth.ListByStructure:
		return fmt.Sprintf("structure_id = $%d", argOffset), []any{scope.StructureID}, true
	case auth.ListByCreator:
		return fmt.Sprintf("created_by = $%d", argOffset), []any{scope.ActorID}, true
	default:
		return "", nil, false
	}
}

func (s *PatientStore) queryPatients(ctx context.Context, query string, args ...any) ([]patient.Patient, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []patient.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PatientStore) List(ctx context.Context, scope auth.ListScope) ([]patient.Patient, error) {
	clause, args, ok := scopeClause(scope, 1)
	if !ok {
		return nil, nil
	}
	query := `select ` + patientColumns + ` from patients`
	if clause != "" {
		query += ` where ` + clause
	}
	query += ` order by created_at desc`
	return s.queryPatients(ctx, query, args...)
}

func (s *PatientStore) ListByStructure(ctx context.Context, structureID string) ([]patient.Patient, error) {
	return s.List(ctx, auth.ListScope{Kind: auth.ListByStructure, StructureID: structureID})
}

func (s *PatientStore) Search(ctx context.Context, term string, scope auth.ListScope) ([]patient.Patient, error) {
	clause, args, ok := scopeClause(scope, 2)
	if !ok {
		return nil, nil
	}
	pattern := "%" + strings.TrimSpace(term) + "%"
	query := `
		select ` + patientColumns + `
		from patients
		where (last_name ilike $1 or first_name ilike $1 or code ilike $1)`
	if clause != "" {
		query += ` and ` + clause
	}
	query += ` order by last_name, first_name`
	return s.queryPatients(ctx, query, append([]any{pattern}, args...)...)
}

func (s *PatientStore) Create(ctx context.Context, p patient.Patient) (patient.Patient, error) {
	if p.ID == "" {
		p.ID = ids.New()
	}
	var origin any
	if p.OriginStructureID != "" {
		origin = p.OriginStructureID
	}
	row := s.db.QueryRowContext(ctx, `
		insert into patients (id, code, first_name, last_name, birth_date, gender,
			structure_id, origin_structure_id, created_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+patientColumns+`
	`, p.ID, p.Code, p.FirstName, p.LastName, p.BirthDate, p.Gender,
		p.StructureID, origin, p.CreatedBy)

	created, err := scanPatient(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return patient.Patient{}, patient.ErrConflict
		}
		return patient.Patient{}, err
	}
	return created, nil
}

// Update never touches the lineage pointer: origin_structure_id is
// immutable once set.
func (s *PatientStore) Update(ctx context.Context, p patient.Patient) (patient.Patient, error) {
	row := s.db.QueryRowContext(ctx, `
		update patients
		set first_name = $2, last_name = $3, birth_date = $4, gender = $5,
			updated_at = now()
		where id = $1
		returning `+patientColumns+`
	`, p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender)

	updated, err := scanPatient(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return patient.Patient{}, patient.ErrConflict
		}
		return patient.Patient{}, err
	}
	return updated, nil
}

func (s *PatientStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from patients where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return patient.ErrNotFound
	}
	return nil
}
