package domain

import "time"

// Revocation reasons recorded on sessions and session events.
const (
	RevokeReasonLogout          = "logout"
	RevokeReasonExpired         = "expired"
	RevokeReasonConcurrentLimit = "concurrent_limit_exceeded"
	RevokeReasonRefreshReuse    = "refresh_token_reuse"
	RevokeReasonAdmin           = "admin_revoke"
	RevokeReasonPasswordReset   = "password_reset"
	RevokeReasonTwoFactorSetup  = "two_factor_enabled"
)

// Session represents a persisted authenticated context bound to one issued
// token pair. TokenHash holds the SHA-256 of the current refresh token; it is
// swapped on every refresh so a refresh token is single-use.
type Session struct {
	ID                string
	AccountID         string
	TenantID          string
	TokenHash         string
	IP                *string
	DeviceFingerprint *string
	CreatedAt         time.Time
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	Timeout           time.Duration
	Suspicious        bool
	RevokedAt         *time.Time
	RevokeReason      *string
}

// IsActive reports whether the session is still valid at the supplied moment:
// not revoked and not past its fixed expiry.
func (s Session) IsActive(at time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	return s.ExpiresAt.After(at)
}

// Touch records activity on the session. Activity is sliding; the expiry is
// fixed at creation and only moves on an explicit refresh.
func (s *Session) Touch(at time.Time) {
	s.LastActivityAt = at
}

// Revoke marks the session as revoked. A revoked session never becomes active
// again. Returns true when the session changed state.
func (s *Session) Revoke(at time.Time, reason string) bool {
	if s.RevokedAt != nil {
		return false
	}
	s.RevokedAt = &at
	s.RevokeReason = &reason
	return true
}

// Session event kinds appended to the audit trail.
const (
	SessionEventCreated    = "created"
	SessionEventRefreshed  = "refreshed"
	SessionEventRevoked    = "revoked"
	SessionEventEvicted    = "evicted"
	SessionEventSuspicious = "suspicious_activity"
)

// SessionEvent captures a lifecycle change for a session. Events are
// append-only; corrections are new compensating events, never mutation.
type SessionEvent struct {
	ID        string
	SessionID string
	AccountID string
	Kind      string
	At        time.Time
	IP        *string
	Details   map[string]any
}
