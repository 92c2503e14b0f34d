package session

import (
	"context"
	"errors"
	"time"
)

var ErrNoSession = errors.New("no active session")

// Store remembers the session token most recently issued to a player. A new
// launch replaces the previous token.
type Store interface {
	Put(ctx context.Context, provider, playID, token string, ttl time.Duration) error
	Active(ctx context.Context, provider, playID string) (string, error)
}
