package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

// ErrInvalidTransition rejects lifecycle moves the state machine forbids.
var ErrInvalidTransition = errors.New("invalid account state transition")

// AdminService applies administrative account mutations. Authorization
// happens upstream; this layer only enforces the lifecycle state machine and
// keeps the security ledger and event stream consistent.
type AdminService struct {
	accounts port.AccountRepository
	sessions *SessionService
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewAdminService constructs an AdminService.
func NewAdminService(accounts port.AccountRepository, sessions *SessionService, events port.EventPublisher, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AdminService{
		accounts: accounts,
		sessions: sessions,
		events:   events,
		logger:   logger,
	}
	svc.now = func() time.Time { return time.Now().UTC() }
	return svc
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AdminService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Unlock clears a lock ahead of its natural expiry.
func (s *AdminService) Unlock(ctx context.Context, accountID, adminID string) error {
	account, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Status != domain.AccountStatusLocked {
		return ErrInvalidTransition
	}

	if err := s.accounts.Unlock(ctx, accountID); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	s.appendNote(ctx, accountID, "account unlocked by administrator", adminID)
	return nil
}

// ForcePasswordReset flags the account so the next login demands a password
// change, and ends every live session so a compromised credential cannot ride
// an existing session past the reset.
func (s *AdminService) ForcePasswordReset(ctx context.Context, accountID, adminID string) error {
	account, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}

	if err := s.accounts.SetMustChangePassword(ctx, accountID, true); err != nil {
		return fmt.Errorf("flag password reset: %w", err)
	}

	revoked := 0
	if s.sessions != nil {
		revoked, err = s.sessions.RevokeAllForAccount(ctx, accountID, domain.RevokeReasonPasswordReset)
		if err != nil {
			s.logger.Error("revoke sessions for password reset failed", zap.String("account_id", accountID), zap.Error(err))
		}
	}

	s.appendNote(ctx, accountID, "password reset forced by administrator", adminID)
	s.publishPasswordResetForced(ctx, account, adminID, revoked)
	return nil
}

// Suspend moves the account to suspended and ends its sessions.
func (s *AdminService) Suspend(ctx context.Context, accountID, adminID string) error {
	return s.transition(ctx, accountID, adminID, domain.AccountStatusSuspended, "account suspended by administrator")
}

// Reinstate moves a suspended account back to active.
func (s *AdminService) Reinstate(ctx context.Context, accountID, adminID string) error {
	account, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Status.CanTransitionTo(domain.AccountStatusActive) || account.Status != domain.AccountStatusSuspended {
		return ErrInvalidTransition
	}
	if err := s.accounts.UpdateStatus(ctx, accountID, domain.AccountStatusActive); err != nil {
		return fmt.Errorf("reinstate account: %w", err)
	}
	s.appendNote(ctx, accountID, "account reinstated by administrator", adminID)
	return nil
}

// Deactivate retires the account permanently. Terminal; no transition leads
// out of deactivated.
func (s *AdminService) Deactivate(ctx context.Context, accountID, adminID string) error {
	return s.transition(ctx, accountID, adminID, domain.AccountStatusDeactivated, "account deactivated by administrator")
}

// RecordNote appends a free-form administrative entry to the security ledger.
func (s *AdminService) RecordNote(ctx context.Context, accountID, note, adminID string) error {
	if _, err := s.load(ctx, accountID); err != nil {
		return err
	}
	s.appendNote(ctx, accountID, note, adminID)
	return nil
}

func (s *AdminService) transition(ctx context.Context, accountID, adminID string, target domain.AccountStatus, note string) error {
	account, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	if err := s.accounts.UpdateStatus(ctx, accountID, target); err != nil {
		return fmt.Errorf("update account status: %w", err)
	}

	if s.sessions != nil {
		if _, err := s.sessions.RevokeAllForAccount(ctx, accountID, domain.RevokeReasonAdmin); err != nil {
			s.logger.Error("revoke sessions on status change failed", zap.String("account_id", accountID), zap.Error(err))
		}
	}

	s.appendNote(ctx, accountID, note, adminID)
	return nil
}

func (s *AdminService) load(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (s *AdminService) appendNote(ctx context.Context, accountID, note, author string) {
	entry := domain.SecurityNote{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Note:      note,
		Author:    author,
		CreatedAt: s.now(),
	}
	if err := s.accounts.AppendSecurityNote(ctx, entry); err != nil {
		s.logger.Error("append security note failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (s *AdminService) publishPasswordResetForced(ctx context.Context, account *domain.Account, adminID string, revoked int) {
	if s.events == nil {
		return
	}
	event := domain.PasswordResetForcedEvent{
		EventID:         uuid.NewString(),
		AccountID:       account.ID,
		TenantID:        account.TenantID,
		PortalID:        account.PortalID,
		ForcedBy:        adminID,
		SessionsRevoked: revoked,
		ForcedAt:        s.now(),
	}
	if err := s.events.PublishPasswordResetForced(ctx, event); err != nil {
		s.logger.Error("publish password reset forced event failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}
