package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

const (
	// lockoutThreshold is the failure count at which the account locks.
	lockoutThreshold = 5
	// repeatedFailureAlertCount triggers the higher-severity alert. It does
	// not change the lockout math.
	repeatedFailureAlertCount = 10

	lockoutBaseDuration = 30 * time.Minute
	lockoutMaxDuration  = 24 * time.Hour
)

// LockDuration returns the escalating lock window for the given failure
// count: 30 minutes doubling per failure past the threshold, capped at 24h.
func LockDuration(failedAttempts int) time.Duration {
	if failedAttempts < lockoutThreshold {
		return 0
	}
	duration := lockoutBaseDuration
	for i := lockoutThreshold; i < failedAttempts; i++ {
		duration *= 2
		if duration >= lockoutMaxDuration {
			return lockoutMaxDuration
		}
	}
	if duration > lockoutMaxDuration {
		duration = lockoutMaxDuration
	}
	return duration
}

// LockoutPolicy owns the failed-attempt counter and the active/locked state
// machine. The counter increment and any resulting lock transition happen in
// one conditional update at the store so concurrent failures cannot
// under-count.
type LockoutPolicy struct {
	accounts port.AccountRepository
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewLockoutPolicy constructs a LockoutPolicy.
func NewLockoutPolicy(accounts port.AccountRepository, events port.EventPublisher, logger *zap.Logger) *LockoutPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := &LockoutPolicy{
		accounts: accounts,
		events:   events,
		logger:   logger,
	}
	policy.now = func() time.Time { return time.Now().UTC() }
	return policy
}

// WithClock overrides the internal clock for deterministic tests.
func (p *LockoutPolicy) WithClock(clock func() time.Time) {
	if clock != nil {
		p.now = clock
	}
}

// RegisterFailure records one failed attempt against the account. When the
// resulting count crosses the threshold the account transitions to locked
// atomically with the increment; the lock window escalates with the count.
// Returns the post-image so callers can shape their error response.
func (p *LockoutPolicy) RegisterFailure(ctx context.Context, account *domain.Account, ip *string) (*port.FailureOutcome, error) {
	now := p.now()
	prospective := account.Security.FailedAttempts + 1
	lockedUntil := now.Add(LockDuration(prospective))

	outcome, err := p.accounts.RecordFailure(ctx, account.ID, lockoutThreshold, lockedUntil)
	if err != nil {
		return nil, fmt.Errorf("record login failure: %w", err)
	}

	if outcome.Status == domain.AccountStatusLocked && account.Status != domain.AccountStatusLocked {
		p.onLocked(ctx, account, outcome, ip, now)
	}

	if outcome.FailedAttempts == repeatedFailureAlertCount {
		p.publishRepeatedFailures(ctx, account, outcome, ip, now)
	}

	return outcome, nil
}

// RegisterSuccess resets the failure counter and clears any expired lock
// residue after a successful authentication.
func (p *LockoutPolicy) RegisterSuccess(ctx context.Context, accountID string) error {
	if err := p.accounts.ResetFailures(ctx, accountID, p.now()); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}

// MaybeUnlock performs the lazy locked-to-active transition when the lock
// window has elapsed. Returns true when the account was unlocked.
func (p *LockoutPolicy) MaybeUnlock(ctx context.Context, account *domain.Account) (bool, error) {
	if account.Status != domain.AccountStatusLocked {
		return false, nil
	}
	now := p.now()
	if !account.Security.LockExpired(now) {
		return false, nil
	}

	if err := p.accounts.Unlock(ctx, account.ID); err != nil {
		return false, fmt.Errorf("unlock account: %w", err)
	}
	account.Status = domain.AccountStatusActive
	account.Security.LockedUntil = nil

	p.appendNote(ctx, account.ID, fmt.Sprintf("lock expired, account unlocked at %s", now.Format(time.RFC3339)), "system")
	return true, nil
}

// RemainingLock reports how long the account stays locked from now. Zero when
// not locked or already elapsed.
func (p *LockoutPolicy) RemainingLock(account *domain.Account) time.Duration {
	if account.Status != domain.AccountStatusLocked || account.Security.LockedUntil == nil {
		return 0
	}
	remaining := account.Security.LockedUntil.Sub(p.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *LockoutPolicy) onLocked(ctx context.Context, account *domain.Account, outcome *port.FailureOutcome, ip *string, now time.Time) {
	until := now
	if outcome.LockedUntil != nil {
		until = *outcome.LockedUntil
	}

	p.appendNote(ctx, account.ID, fmt.Sprintf(
		"account locked after %d failed attempts until %s",
		outcome.FailedAttempts, until.Format(time.RFC3339),
	), "system")

	if p.events == nil {
		return
	}
	event := domain.AccountLockedEvent{
		EventID:        uuid.NewString(),
		AccountID:      account.ID,
		TenantID:       account.TenantID,
		PortalID:       account.PortalID,
		FailedAttempts: outcome.FailedAttempts,
		LockedUntil:    until,
		IPAddress:      ip,
		LockedAt:       now,
	}
	if err := p.events.PublishAccountLocked(ctx, event); err != nil {
		p.logger.Error("publish account locked event failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
}

func (p *LockoutPolicy) publishRepeatedFailures(ctx context.Context, account *domain.Account, outcome *port.FailureOutcome, ip *string, now time.Time) {
	if p.events == nil {
		return
	}
	event := domain.RepeatedFailuresEvent{
		EventID:        uuid.NewString(),
		AccountID:      account.ID,
		TenantID:       account.TenantID,
		PortalID:       account.PortalID,
		FailedAttempts: outcome.FailedAttempts,
		IPAddress:      ip,
		ObservedAt:     now,
	}
	if err := p.events.PublishRepeatedFailures(ctx, event); err != nil {
		p.logger.Error("publish repeated failures event failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
}

func (p *LockoutPolicy) appendNote(ctx context.Context, accountID, note, author string) {
	entry := domain.SecurityNote{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Note:      note,
		Author:    author,
		CreatedAt: p.now(),
	}
	if err := p.accounts.AppendSecurityNote(ctx, entry); err != nil {
		p.logger.Error("append security note failed",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
}
