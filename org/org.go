// Package org defines the organization entity and its store interface.
// Organizations scope job ownership and supply the retention policy used
// to stamp job expiration.
package org

import (
	"context"

	"github.com/flamehaven01/rexsyn"
	"github.com/flamehaven01/rexsyn/id"
)

// Organization groups users and jobs under a shared retention policy.
type Organization struct {
	rexsyn.Entity

	ID   id.OrgID `json:"id"`
	Name string   `json:"name"`

	// RetentionDays is how long a terminal job is kept before the sweeper
	// may expire it. Zero means the engine default applies.
	RetentionDays int `json:"retention_days"`
}

// Store defines the persistence contract for organizations.
type Store interface {
	// CreateOrg persists a new organization.
	CreateOrg(ctx context.Context, o *Organization) error

	// GetOrg retrieves an organization by ID.
	GetOrg(ctx context.Context, orgID id.OrgID) (*Organization, error)

	// UpdateOrg persists changes to an existing organization.
	UpdateOrg(ctx context.Context, o *Organization) error
}
