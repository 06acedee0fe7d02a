// Package bunstore implements the store on the Bun ORM with the
// PostgreSQL dialect. It shares the append transaction shape with the
// pgx store: a row lock on the aggregate's stream row plus a
// single-row position counter keeps global sequences gap-free.
package bunstore
