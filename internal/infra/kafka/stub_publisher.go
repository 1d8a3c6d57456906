package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishAccountProvisioned logs portal.account.provisioned events.
func (p *StubPublisher) PublishAccountProvisioned(_ context.Context, event domain.AccountProvisionedEvent) error {
	payload := map[string]any{
		"account_id":     event.AccountID,
		"tenant_id":      event.TenantID,
		"portal_id":      event.PortalID,
		"account_type":   event.AccountType,
		"provisioned_at": event.ProvisionedAt,
		"metadata":       event.Metadata,
	}
	p.logEvent("account.provisioned", event.AccountID, event.ProvisionedAt, payload)
	return nil
}

// PublishAccountLocked logs portal.account.locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	payload := map[string]any{
		"account_id":      event.AccountID,
		"tenant_id":       event.TenantID,
		"portal_id":       event.PortalID,
		"failed_attempts": event.FailedAttempts,
		"locked_until":    event.LockedUntil,
		"ip_address":      event.IPAddress,
		"locked_at":       event.LockedAt,
		"metadata":        event.Metadata,
	}
	p.logEvent("account.locked", event.AccountID, event.LockedAt, payload)
	return nil
}

// PublishRepeatedFailures logs portal.account.repeated_failures events.
func (p *StubPublisher) PublishRepeatedFailures(_ context.Context, event domain.RepeatedFailuresEvent) error {
	payload := map[string]any{
		"account_id":      event.AccountID,
		"tenant_id":       event.TenantID,
		"portal_id":       event.PortalID,
		"failed_attempts": event.FailedAttempts,
		"ip_address":      event.IPAddress,
		"observed_at":     event.ObservedAt,
		"metadata":        event.Metadata,
	}
	p.logEvent("account.repeated_failures", event.AccountID, event.ObservedAt, payload)
	return nil
}

// PublishHighRiskLogin logs portal.login.high_risk events.
func (p *StubPublisher) PublishHighRiskLogin(_ context.Context, event domain.HighRiskLoginEvent) error {
	payload := map[string]any{
		"account_id":  event.AccountID,
		"tenant_id":   event.TenantID,
		"portal_id":   event.PortalID,
		"risk_score":  event.RiskScore,
		"ip_address":  event.IPAddress,
		"country":     event.Country,
		"observed_at": event.ObservedAt,
		"metadata":    event.Metadata,
	}
	p.logEvent("login.high_risk", event.AccountID, event.ObservedAt, payload)
	return nil
}

// PublishSuspiciousSession logs portal.session.suspicious events.
func (p *StubPublisher) PublishSuspiciousSession(_ context.Context, event domain.SuspiciousSessionEvent) error {
	payload := map[string]any{
		"session_id":  event.SessionID,
		"account_id":  event.AccountID,
		"tenant_id":   event.TenantID,
		"reason":      event.Reason,
		"previous_ip": event.PreviousIP,
		"current_ip":  event.CurrentIP,
		"observed_at": event.ObservedAt,
		"metadata":    event.Metadata,
	}
	p.logEvent("session.suspicious", event.AccountID, event.ObservedAt, payload)
	return nil
}

// PublishSessionRevoked logs portal.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"account_id": event.AccountID,
		"tenant_id":  event.TenantID,
		"reason":     event.Reason,
		"revoked_by": event.RevokedBy,
		"revoked_at": event.RevokedAt,
		"ip_address": event.IPAddress,
		"metadata":   event.Metadata,
	}
	p.logEvent("session.revoked", event.AccountID, event.RevokedAt, payload)
	return nil
}

// PublishPasswordResetForced logs portal.account.password_reset_forced events.
func (p *StubPublisher) PublishPasswordResetForced(_ context.Context, event domain.PasswordResetForcedEvent) error {
	payload := map[string]any{
		"account_id":       event.AccountID,
		"tenant_id":        event.TenantID,
		"portal_id":        event.PortalID,
		"forced_by":        event.ForcedBy,
		"sessions_revoked": event.SessionsRevoked,
		"forced_at":        event.ForcedAt,
		"metadata":         event.Metadata,
	}
	p.logEvent("account.password_reset_forced", event.AccountID, event.ForcedAt, payload)
	return nil
}

// PublishTwoFactorEnabled logs portal.account.two_factor_enabled events.
func (p *StubPublisher) PublishTwoFactorEnabled(_ context.Context, event domain.TwoFactorEnabledEvent) error {
	payload := map[string]any{
		"account_id":       event.AccountID,
		"tenant_id":        event.TenantID,
		"portal_id":        event.PortalID,
		"backup_codes":     event.BackupCodes,
		"sessions_revoked": event.SessionsRevoked,
		"enabled_at":       event.EnabledAt,
		"metadata":         event.Metadata,
	}
	p.logEvent("account.two_factor_enabled", event.AccountID, event.EnabledAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
