package port

import (
	"context"
	"time"
)

// PendingTwoFactor holds a 2FA enrolment awaiting its first valid TOTP
// confirmation. The secret is not persisted on the account until confirmed.
type PendingTwoFactor struct {
	AccountID        string
	Secret           string
	BackupCodeHashes []string
	CreatedAt        time.Time
}

// TwoFactorSetupStore keeps pending enrolments with a TTL.
type TwoFactorSetupStore interface {
	Put(ctx context.Context, pending PendingTwoFactor, ttl time.Duration) error
	Get(ctx context.Context, accountID string) (*PendingTwoFactor, error)
	Delete(ctx context.Context, accountID string) error
}
