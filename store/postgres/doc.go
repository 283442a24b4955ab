// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED claims, lease-checked conditional updates,
// transactional dead-lettering, LISTEN/NOTIFY wake-ups, embedded SQL
// migrations.
package postgres
