package domain

import (
	"strings"
	"time"
)

// PortalIDAlphabet is the symbol set portal identifiers are drawn from:
// alphanumerics with the visually ambiguous 0/O/I/1 removed.
const PortalIDAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// PortalIDLength is the fixed length of a portal identifier.
const PortalIDLength = 8

// AccountType enumerates the kinds of portal accounts.
type AccountType string

const (
	AccountTypeCustomer   AccountType = "customer"
	AccountTypeTechnician AccountType = "technician"
	AccountTypeReseller   AccountType = "reseller"
)

// Valid reports whether the account type is one of the closed set.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeCustomer, AccountTypeTechnician, AccountTypeReseller:
		return true
	}
	return false
}

// AccountStatus enumerates possible account lifecycle states.
type AccountStatus string

const (
	AccountStatusPendingActivation AccountStatus = "pending_activation"
	AccountStatusActive            AccountStatus = "active"
	AccountStatusLocked            AccountStatus = "locked"
	AccountStatusSuspended         AccountStatus = "suspended"
	AccountStatusDeactivated       AccountStatus = "deactivated"
)

// Valid reports whether the status is one of the closed set.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusPendingActivation, AccountStatusActive, AccountStatusLocked,
		AccountStatusSuspended, AccountStatusDeactivated:
		return true
	}
	return false
}

// CanTransitionTo encodes the account lifecycle state machine. Deactivated is terminal.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	switch s {
	case AccountStatusPendingActivation:
		return next == AccountStatusActive || next == AccountStatusDeactivated
	case AccountStatusActive:
		return next == AccountStatusLocked || next == AccountStatusSuspended || next == AccountStatusDeactivated
	case AccountStatusLocked:
		return next == AccountStatusActive || next == AccountStatusSuspended || next == AccountStatusDeactivated
	case AccountStatusSuspended:
		return next == AccountStatusActive || next == AccountStatusDeactivated
	case AccountStatusDeactivated:
		return false
	}
	return false
}

// SecurityState groups the mutable security posture of an account: failure
// counters, lock window, and second-factor material. Embedded in Account by
// composition rather than inherited.
type SecurityState struct {
	FailedAttempts  int
	LockedUntil     *time.Time
	TwoFactorSecret *string
	BackupCodes     []string
}

// TwoFactorEnabled reports whether a TOTP secret is configured.
func (s SecurityState) TwoFactorEnabled() bool {
	return s.TwoFactorSecret != nil && *s.TwoFactorSecret != ""
}

// LockExpired reports whether a lock window has elapsed at the supplied moment.
func (s SecurityState) LockExpired(at time.Time) bool {
	return s.LockedUntil != nil && !s.LockedUntil.After(at)
}

// Account mirrors the persisted representation in the portal_iam.accounts table.
// PortalID is immutable after creation and unique within a tenant.
type Account struct {
	ID                    string
	TenantID              string
	PortalID              string
	Type                  AccountType
	Status                AccountStatus
	PasswordHash          string
	MustChangePassword    bool
	Timezone              string
	SessionTimeout        time.Duration
	MaxConcurrentSessions int
	Security              SecurityState
	CreatedAt             time.Time
	ActivatedAt           *time.Time
	LastLogin             *time.Time
}

// Location resolves the account timezone, falling back to UTC when unset or unknown.
func (a Account) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NormalizePortalID canonicalises user input for lookup: trimmed, uppercased.
func NormalizePortalID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidPortalID reports whether the value is a well-formed portal identifier.
func ValidPortalID(id string) bool {
	if len(id) != PortalIDLength {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune(PortalIDAlphabet, r) {
			return false
		}
	}
	return true
}

// SecurityNote is one entry in the append-only per-account security ledger.
// Notes are written on every lockout transition and administrative action and
// are never updated or deleted.
type SecurityNote struct {
	ID        string
	AccountID string
	Note      string
	Author    string
	CreatedAt time.Time
}
