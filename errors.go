package rexsyn

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("rexsyn: no store configured")
	ErrStoreClosed = errors.New("rexsyn: store closed")

	// Not found errors.
	ErrJobNotFound        = errors.New("rexsyn: job not found")
	ErrOrgNotFound        = errors.New("rexsyn: organization not found")
	ErrResultNotFound     = errors.New("rexsyn: result not found")
	ErrCheckpointNotFound = errors.New("rexsyn: checkpoint not found")
	ErrRecordNotFound     = errors.New("rexsyn: deletion record not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("rexsyn: job already exists")

	// Ownership errors.
	ErrOrgMismatch = errors.New("rexsyn: job belongs to a different organization")

	// State errors.
	ErrInvalidTransition  = errors.New("rexsyn: invalid state transition")
	ErrRetryLimitExceeded = errors.New("rexsyn: retry limit exceeded")

	// Ledger errors. A checkpoint write failure is fatal to the whole run:
	// proceeding without durable checkpointing would break resumability.
	ErrCheckpointWrite = errors.New("rexsyn: checkpoint write failed")

	// Pipeline errors.
	ErrNoStages = errors.New("rexsyn: no pipeline stages configured")
)
