package port

import (
	"context"
	"time"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
)

// SessionRepository deals with session storage and the append-only session
// event trail.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]domain.Session, error)
	CountActiveByAccount(ctx context.Context, accountID string) (int, error)

	Touch(ctx context.Context, sessionID string, at time.Time) error
	MarkSuspicious(ctx context.Context, sessionID string) error
	Revoke(ctx context.Context, sessionID string, reason string, at time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string, reason string, at time.Time) (int, error)

	// RotateToken swaps the stored refresh-token hash and extends the expiry.
	// The update is conditional on the current hash so a replayed refresh
	// token loses the race; returns false when no row matched.
	RotateToken(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error)

	StoreEvent(ctx context.Context, event domain.SessionEvent) error

	// DeleteEndedBefore physically removes expired or revoked sessions whose
	// expiry precedes the cutoff. Used only by the hygiene sweeper.
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
