package port

import (
	"context"
	"time"
)

// SessionRevocationCache caches session revocation flags so access-token
// verification can reject revoked sessions without a durable-store round trip.
// The durable store remains the source of truth; the cache only accelerates
// the hot path.
type SessionRevocationCache interface {
	MarkRevoked(ctx context.Context, sessionID string, reason string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, string, error)
	Clear(ctx context.Context, sessionID string) error
}
