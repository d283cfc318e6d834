// Package history provides the local negotiation message cache.
package history

import (
	"context"

	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
)

// Repository defines the interface for persisting negotiation messages so a
// screen can preload history before the channel manager takes over.
type Repository interface {
	// SaveMessages stores messages, ignoring ids already present.
	SaveMessages(ctx context.Context, msgs []domain.Message) error

	// ListMessages returns all cached messages for a session ordered by
	// created_at ascending.
	ListMessages(ctx context.Context, sessionID int64) ([]domain.Message, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
