package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka. The notification
// dispatcher consumes these topics; the engine never waits for delivery.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, accountID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAccountProvisioned publishes portal.account.provisioned events.
func (p *EventPublisher) PublishAccountProvisioned(ctx context.Context, event domain.AccountProvisionedEvent) error {
	payload := struct {
		AccountID     string         `json:"account_id"`
		TenantID      string         `json:"tenant_id"`
		PortalID      string         `json:"portal_id"`
		AccountType   string         `json:"account_type"`
		ProvisionedAt time.Time      `json:"provisioned_at"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:     event.AccountID,
		TenantID:      event.TenantID,
		PortalID:      event.PortalID,
		AccountType:   event.AccountType,
		ProvisionedAt: event.ProvisionedAt.UTC(),
		Metadata:      event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.provisioned", event.AccountID, event.ProvisionedAt, payload)
}

// PublishAccountLocked publishes portal.account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		AccountID      string         `json:"account_id"`
		TenantID       string         `json:"tenant_id"`
		PortalID       string         `json:"portal_id"`
		FailedAttempts int            `json:"failed_attempts"`
		LockedUntil    time.Time      `json:"locked_until"`
		IPAddress      *string        `json:"ip_address,omitempty"`
		LockedAt       time.Time      `json:"locked_at"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:      event.AccountID,
		TenantID:       event.TenantID,
		PortalID:       event.PortalID,
		FailedAttempts: event.FailedAttempts,
		LockedUntil:    event.LockedUntil.UTC(),
		IPAddress:      event.IPAddress,
		LockedAt:       event.LockedAt.UTC(),
		Metadata:       event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.locked", event.AccountID, event.LockedAt, payload)
}

// PublishRepeatedFailures publishes portal.account.repeated_failures events.
func (p *EventPublisher) PublishRepeatedFailures(ctx context.Context, event domain.RepeatedFailuresEvent) error {
	payload := struct {
		AccountID      string         `json:"account_id"`
		TenantID       string         `json:"tenant_id"`
		PortalID       string         `json:"portal_id"`
		FailedAttempts int            `json:"failed_attempts"`
		IPAddress      *string        `json:"ip_address,omitempty"`
		ObservedAt     time.Time      `json:"observed_at"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:      event.AccountID,
		TenantID:       event.TenantID,
		PortalID:       event.PortalID,
		FailedAttempts: event.FailedAttempts,
		IPAddress:      event.IPAddress,
		ObservedAt:     event.ObservedAt.UTC(),
		Metadata:       event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.repeated_failures", event.AccountID, event.ObservedAt, payload)
}

// PublishHighRiskLogin publishes portal.login.high_risk events.
func (p *EventPublisher) PublishHighRiskLogin(ctx context.Context, event domain.HighRiskLoginEvent) error {
	payload := struct {
		AccountID  string         `json:"account_id"`
		TenantID   string         `json:"tenant_id"`
		PortalID   string         `json:"portal_id"`
		RiskScore  int            `json:"risk_score"`
		IPAddress  *string        `json:"ip_address,omitempty"`
		Country    *string        `json:"country,omitempty"`
		ObservedAt time.Time      `json:"observed_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:  event.AccountID,
		TenantID:   event.TenantID,
		PortalID:   event.PortalID,
		RiskScore:  event.RiskScore,
		IPAddress:  event.IPAddress,
		Country:    event.Country,
		ObservedAt: event.ObservedAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, "login.high_risk", event.AccountID, event.ObservedAt, payload)
}

// PublishSuspiciousSession publishes portal.session.suspicious events.
func (p *EventPublisher) PublishSuspiciousSession(ctx context.Context, event domain.SuspiciousSessionEvent) error {
	payload := struct {
		SessionID  string         `json:"session_id"`
		AccountID  string         `json:"account_id"`
		TenantID   string         `json:"tenant_id"`
		Reason     string         `json:"reason"`
		PreviousIP *string        `json:"previous_ip,omitempty"`
		CurrentIP  *string        `json:"current_ip,omitempty"`
		ObservedAt time.Time      `json:"observed_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:  event.SessionID,
		AccountID:  event.AccountID,
		TenantID:   event.TenantID,
		Reason:     event.Reason,
		PreviousIP: event.PreviousIP,
		CurrentIP:  event.CurrentIP,
		ObservedAt: event.ObservedAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, "session.suspicious", event.AccountID, event.ObservedAt, payload)
}

// PublishSessionRevoked publishes portal.session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionID string         `json:"session_id"`
		AccountID string         `json:"account_id"`
		TenantID  string         `json:"tenant_id"`
		Reason    string         `json:"reason"`
		RevokedBy string         `json:"revoked_by"`
		RevokedAt time.Time      `json:"revoked_at"`
		IPAddress *string        `json:"ip_address,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		SessionID: event.SessionID,
		AccountID: event.AccountID,
		TenantID:  event.TenantID,
		Reason:    event.Reason,
		RevokedBy: event.RevokedBy,
		RevokedAt: event.RevokedAt.UTC(),
		IPAddress: event.IPAddress,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "session.revoked", event.AccountID, event.RevokedAt, payload)
}

// PublishPasswordResetForced publishes portal.account.password_reset_forced events.
func (p *EventPublisher) PublishPasswordResetForced(ctx context.Context, event domain.PasswordResetForcedEvent) error {
	payload := struct {
		AccountID       string         `json:"account_id"`
		TenantID        string         `json:"tenant_id"`
		PortalID        string         `json:"portal_id"`
		ForcedBy        string         `json:"forced_by"`
		SessionsRevoked int            `json:"sessions_revoked"`
		ForcedAt        time.Time      `json:"forced_at"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:       event.AccountID,
		TenantID:        event.TenantID,
		PortalID:        event.PortalID,
		ForcedBy:        event.ForcedBy,
		SessionsRevoked: event.SessionsRevoked,
		ForcedAt:        event.ForcedAt.UTC(),
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.password_reset_forced", event.AccountID, event.ForcedAt, payload)
}

// PublishTwoFactorEnabled publishes portal.account.two_factor_enabled events.
func (p *EventPublisher) PublishTwoFactorEnabled(ctx context.Context, event domain.TwoFactorEnabledEvent) error {
	payload := struct {
		AccountID       string         `json:"account_id"`
		TenantID        string         `json:"tenant_id"`
		PortalID        string         `json:"portal_id"`
		BackupCodes     int            `json:"backup_codes"`
		SessionsRevoked int            `json:"sessions_revoked"`
		EnabledAt       time.Time      `json:"enabled_at"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:       event.AccountID,
		TenantID:        event.TenantID,
		PortalID:        event.PortalID,
		BackupCodes:     event.BackupCodes,
		SessionsRevoked: event.SessionsRevoked,
		EnabledAt:       event.EnabledAt.UTC(),
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.two_factor_enabled", event.AccountID, event.EnabledAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
