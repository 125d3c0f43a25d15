package database

import (
	"context"
	"fmt"
)

type contextKey string

const (
	// ScopeKey is the context key for storing the scoped database connection.
	ScopeKey contextKey = "dbScope"
)

// GetScope retrieves the scoped database connection from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetScope stores the scoped database connection in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// ScopeFunc acquires a scoped connection for work that does not arrive
// through the HTTP middleware, or that runs concurrently with it (a pooled
// connection must not be shared between goroutines). Returns the scoped
// context, a cleanup function (MUST be called), and any error.
type ScopeFunc func(ctx context.Context) (context.Context, func(), error)

// NewScopeFunc creates a ScopeFunc that acquires a fresh connection from db
// on every call, replacing any scope already in ctx.
func NewScopeFunc(db *DB) ScopeFunc {
	return func(ctx context.Context) (context.Context, func(), error) {
		scope, err := db.Acquire(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire connection: %w", err)
		}
		return SetScope(ctx, scope), scope.Close, nil
	}
}

// EnsureScope returns ctx unchanged when it already carries a scope, and
// otherwise acquires one with acquire.
func EnsureScope(ctx context.Context, acquire ScopeFunc) (context.Context, func(), error) {
	if _, ok := GetScope(ctx); ok {
		return ctx, func() {}, nil
	}
	return acquire(ctx)
}
