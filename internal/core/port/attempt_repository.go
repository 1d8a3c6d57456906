package port

import (
	"context"
	"time"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
)

// AttemptRepository is the append-only login-attempt trail. No update or
// delete operation is exposed to any caller; corrections are modeled as new
// compensating records.
type AttemptRepository interface {
	Append(ctx context.Context, attempt domain.LoginAttempt) error
	ListRecentByAccount(ctx context.Context, accountID string, limit int) ([]domain.LoginAttempt, error)
	// CountByIPSince counts attempts from one IP against any portal id in the
	// window, the credential-stuffing signal for the risk scorer.
	CountByIPSince(ctx context.Context, tenantID, ip string, since time.Time) (int, error)
	// SuccessfulCountriesSince lists distinct countries observed on successful
	// logins for the account since the cutoff.
	SuccessfulCountriesSince(ctx context.Context, accountID string, since time.Time) ([]string, error)
}
