package port

import (
	"context"
	"time"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
)

// FailureOutcome is the post-image of an atomic failed-attempt update.
type FailureOutcome struct {
	FailedAttempts int
	Status         domain.AccountStatus
	LockedUntil    *time.Time
}

// AccountRepository exposes persistence behavior for portal accounts.
//
// RecordFailure and ConsumeBackupCode carry the engine's atomicity guarantees:
// both must be a single conditional read-modify-write against the account row
// so concurrent attempts can neither under-count failures nor replay a backup
// code.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByPortalID(ctx context.Context, tenantID, portalID string) (*domain.Account, error)
	PortalIDExists(ctx context.Context, tenantID, portalID string) (bool, error)

	// RecordFailure atomically increments the failure counter and, when the
	// threshold is crossed, transitions the account to locked with the
	// supplied lock expiry. Returns the resulting counter and status.
	RecordFailure(ctx context.Context, id string, threshold int, lockedUntil time.Time) (*FailureOutcome, error)
	// ResetFailures clears the failure counter and any lock after a
	// successful login, recording the login moment.
	ResetFailures(ctx context.Context, id string, at time.Time) error
	// Unlock restores a locked account to active without touching the
	// cumulative counter semantics beyond clearing the lock window.
	Unlock(ctx context.Context, id string) error

	UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error
	UpdatePassword(ctx context.Context, id string, passwordHash string, mustChange bool, changedAt time.Time) error
	SetMustChangePassword(ctx context.Context, id string, mustChange bool) error

	// SetTwoFactor persists the TOTP secret and the hashed backup-code set.
	SetTwoFactor(ctx context.Context, id string, secret string, backupCodeHashes []string) error
	// ConsumeBackupCode atomically removes one backup-code hash from the
	// account's set. Returns false when the code was absent (already used or
	// never issued); exactly one of two concurrent consumers wins.
	ConsumeBackupCode(ctx context.Context, id string, codeHash string) (bool, error)

	// AppendSecurityNote adds one entry to the append-only security ledger.
	AppendSecurityNote(ctx context.Context, note domain.SecurityNote) error
}
