// Package store provides the local session archive: a copy of the
// client's own sessions and transcript turns that survives restarts.
package store

import (
	"context"

	"github.com/ashureev/akai-desk/internal/domain"
)

// Archive defines the interface for persisting sessions and turns.
type Archive interface {
	// SaveSession records a session the client created or joined.
	SaveSession(ctx context.Context, session *domain.Session) error

	// AppendTurn archives one transcript turn for a session.
	AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error

	// ListTurns returns a session's archived turns in append order.
	ListTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
