// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED job claiming, ON CONFLICT checkpoint upserts,
// embedded SQL migrations.
package postgres
