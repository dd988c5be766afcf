package ports

import (
	"context"

	"github.com/aretw0/tether/pkg/domain"
)

// InterruptRegistry maps a session id to at most one pending interrupt token.
// Implementations must be safe for concurrent use on distinct keys.
type InterruptRegistry interface {
	// Put registers the token for token.SessionID.
	// Returns domain.ErrDoubleSuspend if a token is already pending.
	Put(ctx context.Context, token domain.InterruptToken) error

	// Take atomically removes and returns the pending token, or nil if there is none.
	Take(ctx context.Context, sessionID string) (*domain.InterruptToken, error)

	// Lookup returns the pending token without removing it, or nil if there is none.
	Lookup(ctx context.Context, sessionID string) (*domain.InterruptToken, error)
}
