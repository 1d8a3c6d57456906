package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountSummary describes the minimal account view returned by the API. The
// password hash and 2FA secret never leave the service.
type AccountSummary struct {
	ID                 string               `json:"id"`
	TenantID           string               `json:"tenant_id"`
	PortalID           string               `json:"portal_id"`
	AccountType        domain.AccountType   `json:"account_type"`
	Status             domain.AccountStatus `json:"status"`
	TwoFactorEnabled   bool                 `json:"two_factor_enabled"`
	MustChangePassword bool                 `json:"must_change_password"`
	CreatedAt          time.Time            `json:"created_at"`
	LastLogin          *time.Time           `json:"last_login,omitempty"`
}

func newAccountSummary(account *domain.Account) AccountSummary {
	return AccountSummary{
		ID:                 account.ID,
		TenantID:           account.TenantID,
		PortalID:           account.PortalID,
		AccountType:        account.Type,
		Status:             account.Status,
		TwoFactorEnabled:   account.Security.TwoFactorEnabled(),
		MustChangePassword: account.MustChangePassword,
		CreatedAt:          account.CreatedAt,
		LastLogin:          account.LastLogin,
	}
}

// SessionSummary provides a compact view of a session in API responses.
type SessionSummary struct {
	ID                string     `json:"id"`
	IP                *string    `json:"ip,omitempty"`
	DeviceFingerprint *string    `json:"device_fingerprint,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastActivityAt    time.Time  `json:"last_activity_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	Suspicious        bool       `json:"suspicious"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	Current           bool       `json:"current,omitempty"`
}

func newSessionSummary(session domain.Session, currentID string) SessionSummary {
	return SessionSummary{
		ID:                session.ID,
		IP:                session.IP,
		DeviceFingerprint: session.DeviceFingerprint,
		CreatedAt:         session.CreatedAt,
		LastActivityAt:    session.LastActivityAt,
		ExpiresAt:         session.ExpiresAt,
		Suspicious:        session.Suspicious,
		RevokedAt:         session.RevokedAt,
		Current:           currentID != "" && session.ID == currentID,
	}
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	TenantID          string `json:"tenant_id" binding:"required"`
	PortalID          string `json:"portal_id" binding:"required"`
	Password          string `json:"password" binding:"required"`
	TwoFactorCode     string `json:"two_factor_code"`
	RememberMe        bool   `json:"remember_me"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// LoginResponse describes the response returned for a successful login.
type LoginResponse struct {
	AccessToken        string         `json:"access_token"`
	RefreshToken       string         `json:"refresh_token"`
	TokenType          string         `json:"token_type"`
	ExpiresIn          int            `json:"expires_in"`
	Account            AccountSummary `json:"account"`
	Session            SessionSummary `json:"session"`
	RiskScore          int            `json:"risk_score"`
	MustChangePassword bool           `json:"must_change_password,omitempty"`
}

// TwoFactorRequiredResponse is returned when the account needs a second factor.
type TwoFactorRequiredResponse struct {
	Error             string `json:"error"`
	TwoFactorRequired bool   `json:"two_factor_required"`
	TraceID           string `json:"trace_id,omitempty"`
}

// LockedResponse is returned while an account is locked out.
type LockedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// TokenRefreshRequest represents the payload to refresh an access token.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenRefreshResponse contains the rotated token pair.
type TokenRefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// ActivateRequest carries the first-login activation payload.
type ActivateRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	PortalID string `json:"portal_id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ChangePasswordRequest carries a password change for the authenticated account.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// TwoFactorSetupResponse returns enrolment material. Backup codes are shown
// exactly once, at setup time.
type TwoFactorSetupResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// TwoFactorConfirmRequest carries the first TOTP code proving the enrolment.
type TwoFactorConfirmRequest struct {
	Code string `json:"code" binding:"required"`
}

// SessionListResponse wraps the authenticated account's active sessions.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// ProvisionAccountRequest defines the admin account-provisioning payload.
// Session overrides are optional; zero values fall back to service defaults.
type ProvisionAccountRequest struct {
	TenantID              string `json:"tenant_id" binding:"required"`
	AccountType           string `json:"account_type" binding:"required"`
	Timezone              string `json:"timezone"`
	SessionTimeoutSeconds int    `json:"session_timeout_seconds"`
	MaxConcurrentSessions int    `json:"max_concurrent_sessions"`
}

// ProvisionAccountResponse returns the freshly provisioned account.
type ProvisionAccountResponse struct {
	Account AccountSummary `json:"account"`
}

// AdminNoteRequest appends a manual entry to the account's security ledger.
type AdminNoteRequest struct {
	Note string `json:"note" binding:"required"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadyResponse reports dependency readiness.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
