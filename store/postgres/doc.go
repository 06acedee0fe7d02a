// Package postgres implements the store using pgx/v5 with raw SQL.
// Appends run in a transaction that locks the aggregate's stream row
// and bumps a single-row position counter, so global sequence numbers
// commit contiguous and gap-free. Schema lives in embedded SQL
// migrations.
package postgres
