package domain

import "time"

// FailureReason is the internal, specific cause recorded on the audit trail.
// Callers at the boundary only ever see the generic invalid-credentials error;
// the specific reason exists for operational diagnosis.
type FailureReason string

const (
	FailureNone              FailureReason = ""
	FailurePortalIDNotFound  FailureReason = "portal_id_not_found"
	FailureBadPassword       FailureReason = "bad_password"
	FailureBadOTP            FailureReason = "bad_otp"
	FailureAccountLocked     FailureReason = "account_locked"
	FailureAccountSuspended  FailureReason = "account_suspended"
	FailureAccountInactive   FailureReason = "account_inactive"
	FailureTwoFactorRequired FailureReason = "two_factor_required"
)

// LoginAttempt is one append-only record of an authentication attempt.
// AccountID is nil when the portal id did not resolve. Records are immutable
// once written and ordered by CreatedAt per account for risk computation.
type LoginAttempt struct {
	ID                string
	TenantID          string
	AccountID         *string
	PortalIDAttempted string
	Success           bool
	FailureReason     FailureReason
	IP                *string
	DeviceFingerprint *string
	CountryCode       *string
	RiskScore         int
	TwoFactorUsed     bool
	CreatedAt         time.Time
}
