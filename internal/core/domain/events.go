package domain

import "time"

// AccountProvisionedEvent represents the payload for portal.account.provisioned messages.
type AccountProvisionedEvent struct {
	EventID       string
	AccountID     string
	TenantID      string
	PortalID      string
	AccountType   string
	ProvisionedAt time.Time
	Metadata      map[string]any
}

// AccountLockedEvent represents the payload for portal.account.locked messages.
type AccountLockedEvent struct {
	EventID        string
	AccountID      string
	TenantID       string
	PortalID       string
	FailedAttempts int
	LockedUntil    time.Time
	IPAddress      *string
	LockedAt       time.Time
	Metadata       map[string]any
}

// RepeatedFailuresEvent represents the payload for portal.account.repeated_failures
// messages, emitted at the tenth cumulative failure across lock cycles.
type RepeatedFailuresEvent struct {
	EventID        string
	AccountID      string
	TenantID       string
	PortalID       string
	FailedAttempts int
	IPAddress      *string
	ObservedAt     time.Time
	Metadata       map[string]any
}

// HighRiskLoginEvent represents the payload for portal.login.high_risk messages.
type HighRiskLoginEvent struct {
	EventID    string
	AccountID  string
	TenantID   string
	PortalID   string
	RiskScore  int
	IPAddress  *string
	Country    *string
	ObservedAt time.Time
	Metadata   map[string]any
}

// SuspiciousSessionEvent represents the payload for portal.session.suspicious
// messages. The session is flagged, never auto-revoked.
type SuspiciousSessionEvent struct {
	EventID    string
	SessionID  string
	AccountID  string
	TenantID   string
	Reason     string
	PreviousIP *string
	CurrentIP  *string
	ObservedAt time.Time
	Metadata   map[string]any
}

// SessionRevokedEvent represents the payload for portal.session.revoked messages.
type SessionRevokedEvent struct {
	EventID   string
	SessionID string
	AccountID string
	TenantID  string
	Reason    string
	RevokedBy string
	RevokedAt time.Time
	IPAddress *string
	Metadata  map[string]any
}

// PasswordResetForcedEvent represents the payload for portal.account.password_reset_forced messages.
type PasswordResetForcedEvent struct {
	EventID         string
	AccountID       string
	TenantID        string
	PortalID        string
	ForcedBy        string
	SessionsRevoked int
	ForcedAt        time.Time
	Metadata        map[string]any
}

// TwoFactorEnabledEvent represents the payload for portal.account.two_factor_enabled messages.
type TwoFactorEnabledEvent struct {
	EventID         string
	AccountID       string
	TenantID        string
	PortalID        string
	BackupCodes     int
	SessionsRevoked int
	EnabledAt       time.Time
	Metadata        map[string]any
}
