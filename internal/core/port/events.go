package port

import (
	"context"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
)

// EventPublisher publishes security and lifecycle events to the message bus.
// The notification dispatcher (email/SMS delivery) consumes these topics
// downstream; the engine never blocks on delivery.
type EventPublisher interface {
	PublishAccountProvisioned(ctx context.Context, event domain.AccountProvisionedEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishRepeatedFailures(ctx context.Context, event domain.RepeatedFailuresEvent) error
	PublishHighRiskLogin(ctx context.Context, event domain.HighRiskLoginEvent) error
	PublishSuspiciousSession(ctx context.Context, event domain.SuspiciousSessionEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishPasswordResetForced(ctx context.Context, event domain.PasswordResetForcedEvent) error
	PublishTwoFactorEnabled(ctx context.Context, event domain.TwoFactorEnabledEvent) error
}
