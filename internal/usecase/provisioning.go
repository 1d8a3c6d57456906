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

var (
	// ErrInvalidAccountType rejects provisioning requests outside the closed
	// account type set.
	ErrInvalidAccountType = errors.New("invalid account type")
	// ErrAccountNotFound is returned when an account lookup finds nothing.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotActivatable is returned when activation is attempted on an
	// account outside pending_activation.
	ErrNotActivatable = errors.New("account not awaiting activation")
)

// ProvisionInput describes a new account requested by the onboarding flow.
type ProvisionInput struct {
	TenantID              string
	Type                  domain.AccountType
	Timezone              string
	SessionTimeout        time.Duration
	MaxConcurrentSessions int
	RequestedBy           string
}

// ProvisioningService creates accounts in pending_activation with a freshly
// generated portal id, and activates them once the holder sets a password
// that clears the policy.
type ProvisioningService struct {
	accounts  port.AccountRepository
	generator *IdentifierGenerator
	hasher    port.PasswordHasher
	policy    port.PasswordPolicyValidator
	events    port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewProvisioningService constructs a ProvisioningService.
func NewProvisioningService(
	accounts port.AccountRepository,
	generator *IdentifierGenerator,
	hasher port.PasswordHasher,
	policy port.PasswordPolicyValidator,
	events port.EventPublisher,
	logger *zap.Logger,
) *ProvisioningService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ProvisioningService{
		accounts:  accounts,
		generator: generator,
		hasher:    hasher,
		policy:    policy,
		events:    events,
		logger:    logger,
	}
	svc.now = func() time.Time { return time.Now().UTC() }
	return svc
}

// WithClock overrides the internal clock for deterministic tests.
func (s *ProvisioningService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CreateAccount mints a portal id and stores the account in
// pending_activation. No password exists until activation.
func (s *ProvisioningService) CreateAccount(ctx context.Context, input ProvisionInput) (*domain.Account, error) {
	if !input.Type.Valid() {
		return nil, ErrInvalidAccountType
	}

	portalID, err := s.generator.Generate(ctx, input.TenantID)
	if err != nil {
		if errors.Is(err, ErrIdentifierExhausted) {
			return nil, err
		}
		return nil, fmt.Errorf("generate portal id: %w", err)
	}

	now := s.now()
	account := domain.Account{
		ID:                    uuid.NewString(),
		TenantID:              input.TenantID,
		PortalID:              portalID,
		Type:                  input.Type,
		Status:                domain.AccountStatusPendingActivation,
		Timezone:              input.Timezone,
		SessionTimeout:        input.SessionTimeout,
		MaxConcurrentSessions: input.MaxConcurrentSessions,
		CreatedAt:             now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.appendNote(ctx, account.ID, fmt.Sprintf("account provisioned as %s", input.Type), input.RequestedBy)
	s.publishProvisioned(ctx, &account, now)

	return &account, nil
}

// Activate sets the first password and moves the account to active. The
// password must clear the policy with the portal id and tenant as contextual
// inputs.
func (s *ProvisioningService) Activate(ctx context.Context, tenantID, portalID, password string) (*domain.Account, error) {
	account, err := s.accounts.GetByPortalID(ctx, tenantID, domain.NormalizePortalID(portalID))
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	if account.Status != domain.AccountStatusPendingActivation {
		return nil, ErrNotActivatable
	}

	if err := s.policy.Validate(password, account.PortalID, account.TenantID); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, false, now); err != nil {
		return nil, fmt.Errorf("store password: %w", err)
	}
	if err := s.accounts.UpdateStatus(ctx, account.ID, domain.AccountStatusActive); err != nil {
		return nil, fmt.Errorf("activate account: %w", err)
	}

	account.PasswordHash = hash
	account.Status = domain.AccountStatusActive
	account.ActivatedAt = &now

	s.appendNote(ctx, account.ID, "account activated", "account")
	return account, nil
}

// ChangePassword replaces the password after verifying the current one, used
// both for routine changes and to clear a forced reset. Every other session
// is expected to be revoked by the caller when the change was forced.
func (s *ProvisioningService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return ErrAccountNotFound
	}

	ok, err := s.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify current password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := s.policy.Validate(newPassword, account.PortalID, account.TenantID); err != nil {
		return err
	}
	if newPassword == currentPassword {
		return errors.New("new password must differ from the current password")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, false, s.now()); err != nil {
		return fmt.Errorf("store password: %w", err)
	}

	s.appendNote(ctx, account.ID, "password changed", "account")
	return nil
}

func (s *ProvisioningService) appendNote(ctx context.Context, accountID, note, author string) {
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

func (s *ProvisioningService) publishProvisioned(ctx context.Context, account *domain.Account, at time.Time) {
	if s.events == nil {
		return
	}
	event := domain.AccountProvisionedEvent{
		EventID:       uuid.NewString(),
		AccountID:     account.ID,
		TenantID:      account.TenantID,
		PortalID:      account.PortalID,
		AccountType:   string(account.Type),
		ProvisionedAt: at,
	}
	if err := s.events.PublishAccountProvisioned(ctx, event); err != nil {
		s.logger.Error("publish account provisioned event failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}
