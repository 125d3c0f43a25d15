package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Scope wraps a pooled connection held for the duration of one unit of work
// (a request or a background job). Repositories read it from the context.
type Scope struct {
	Conn *pgxpool.Conn
}

// Close releases the connection back to the pool.
// This MUST be called, typically with defer scope.Close().
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
	s.Conn = nil
}
