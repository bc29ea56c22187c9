package postgres

import (
	"context"
	"fmt"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/org"
)

// CreateOrg persists a new organization.
func (s *Store) CreateOrg(ctx context.Context, o *org.Organization) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rexsyn_orgs (id, name, retention_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		o.ID.String(), o.Name, o.RetentionDays, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: create org: %w", err)
	}
	return nil
}

// GetOrg retrieves an organization by ID.
func (s *Store) GetOrg(ctx context.Context, orgID id.OrgID) (*org.Organization, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, retention_days, created_at, updated_at
		FROM rexsyn_orgs WHERE id = $1`,
		orgID.String(),
	)

	var (
		o     org.Organization
		idStr string
	)
	err := row.Scan(&idStr, &o.Name, &o.RetentionDays, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, rexsyn.ErrOrgNotFound
		}
		return nil, fmt.Errorf("rexsyn/postgres: get org: %w", err)
	}

	if o.ID, err = id.ParseOrgID(idStr); err != nil {
		return nil, fmt.Errorf("rexsyn/postgres: parse org id %q: %w", idStr, err)
	}
	return &o, nil
}

// UpdateOrg persists changes to an existing organization.
func (s *Store) UpdateOrg(ctx context.Context, o *org.Organization) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rexsyn_orgs
		SET name = $2, retention_days = $3, updated_at = NOW()
		WHERE id = $1`,
		o.ID.String(), o.Name, o.RetentionDays,
	)
	if err != nil {
		return fmt.Errorf("rexsyn/postgres: update org: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rexsyn.ErrOrgNotFound
	}
	return nil
}
