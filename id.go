package rexsyn

import "github.com/flamehaven01/rexsyn/id"

// ID is the primary identifier type for all Rexsyn entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
