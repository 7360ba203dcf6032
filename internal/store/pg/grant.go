package pg

import (
	"context"
	"database/sql"
	"time"

	"sidra.tn/internal/auth"
	"sidra.tn/internal/grant"
	"sidra.tn/internal/ids"
)

type GrantStore struct {
	db *sql.DB
}

var _ grant.Store = (*GrantStore)(nil)

const grantColumns = `id, coalesce(grantee_actor_id, ''), coalesce(grantee_structure_id, ''),
	coalesce(record_id, ''), coalesce(target_structure_id, ''), granted_by,
	valid_from, valid_until, created_at`

func scanGrant(row interface{ Scan(...any) error }) (grant.AccessGrant, error) {
	var (
		g     grant.AccessGrant
		until sql.NullTime
	)
	err := row.Scan(
		&g.ID, &g.GranteeActorID, &g.GranteeStructureID,
		&g.RecordID, &g.TargetStructureID, &g.GrantedBy,
		&g.ValidFrom, &until, &g.CreatedAt,
	)
	if err != nil {
		return grant.AccessGrant{}, err
	}
	if until.Valid {
		g.ValidUntil = until.Time
	}
	return g, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *GrantStore) Create(ctx context.Context, g grant.AccessGrant) (grant.AccessGrant, error) {
	if g.ID == "" {
		g.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into access_grants (id, grantee_actor_id, grantee_structure_id,
			record_id, target_structure_id, granted_by, valid_from, valid_until)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+grantColumns+`
	`, g.ID, nullable(g.GranteeActorID), nullable(g.GranteeStructureID),
		nullable(g.RecordID), nullable(g.TargetStructureID), g.GrantedBy,
		g.ValidFrom, nullableTime(g.ValidUntil))
	return scanGrant(row)
}

// GrantsFor pushes the grantee/target cover predicate into SQL; the
// validity window is still applied by the checker at decision time.
func (s *GrantStore) GrantsFor(ctx context.Context, actor auth.Actor, res auth.Resource) ([]grant.AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+grantColumns+`
		from access_grants
		where (grantee_actor_id = $1 or grantee_structure_id = $2)
		  and (record_id = $3 or target_structure_id = $4)
	`, actor.ID, actor.StructureID, res.ResourceID(), res.OwnerStructureID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grant.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
