package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

const defaultRevocationPrefix = "session:revoked"

// SessionRevocationCache keeps revocation flags in Redis so access-token
// verification can reject revoked sessions without a PostgreSQL round trip.
// Entries carry a TTL covering the longest access-token lifetime; the durable
// store stays the source of truth after expiry.
type SessionRevocationCache struct {
	client *red.Client
	prefix string
}

// NewSessionRevocationCache constructs a Redis-backed revocation cache.
func NewSessionRevocationCache(client *red.Client, keyPrefix string) *SessionRevocationCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}

	return &SessionRevocationCache{client: client, prefix: prefix}
}

// MarkRevoked stores the session identifier with the revoke reason and TTL.
func (c *SessionRevocationCache) MarkRevoked(ctx context.Context, sessionID string, reason string, ttl time.Duration) error {
	key := c.key(sessionID)
	if key == "" {
		return fmt.Errorf("session id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	value := strings.TrimSpace(reason)
	if value == "" {
		value = "revoked"
	}

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session revocation: %w", err)
	}

	return nil
}

// IsRevoked reports whether a session is flagged and returns the stored reason.
func (c *SessionRevocationCache) IsRevoked(ctx context.Context, sessionID string) (bool, string, error) {
	key := c.key(sessionID)
	if key == "" {
		return false, "", fmt.Errorf("session id is required")
	}

	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("redis get session revocation: %w", err)
	}

	return true, value, nil
}

// Clear removes the cached revocation entry, typically for tests.
func (c *SessionRevocationCache) Clear(ctx context.Context, sessionID string) error {
	key := c.key(sessionID)
	if key == "" {
		return fmt.Errorf("session id is required")
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete session revocation: %w", err)
	}
	return nil
}

func (c *SessionRevocationCache) key(sessionID string) string {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.prefix, trimmed)
}

var _ port.SessionRevocationCache = (*SessionRevocationCache)(nil)
