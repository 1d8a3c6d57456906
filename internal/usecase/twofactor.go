package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/security"
)

var (
	// ErrTwoFactorSetupNotFound is returned when no pending enrolment exists
	// or it has expired.
	ErrTwoFactorSetupNotFound = errors.New("no pending two-factor enrolment")
	// ErrTwoFactorAlreadyEnabled is returned when setup is requested for an
	// account that already has a confirmed second factor.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorInvalid is returned for a wrong or replayed code.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
)

// TwoFactorEnrolment is handed to the caller exactly once, at setup time.
// Backup codes are plaintext here and stored only as hashes.
type TwoFactorEnrolment struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// TwoFactorService manages TOTP enrolment and verification. A secret becomes
// effective only after the account holder proves possession with one valid
// code; until then it lives in a TTL-bound pending store and the account is
// untouched.
type TwoFactorService struct {
	accounts    port.AccountRepository
	pending     port.TwoFactorSetupStore
	sessions    *SessionService
	events      port.EventPublisher
	issuer      string
	setupTTL    time.Duration
	backupCodes int
	logger      *zap.Logger
	now         func() time.Time
}

// NewTwoFactorService constructs a TwoFactorService.
func NewTwoFactorService(
	accounts port.AccountRepository,
	pending port.TwoFactorSetupStore,
	sessions *SessionService,
	events port.EventPublisher,
	issuer string,
	setupTTL time.Duration,
	backupCodes int,
	logger *zap.Logger,
) *TwoFactorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if setupTTL <= 0 {
		setupTTL = 10 * time.Minute
	}
	if backupCodes <= 0 {
		backupCodes = 10
	}
	svc := &TwoFactorService{
		accounts:    accounts,
		pending:     pending,
		sessions:    sessions,
		events:      events,
		issuer:      issuer,
		setupTTL:    setupTTL,
		backupCodes: backupCodes,
		logger:      logger,
	}
	svc.now = func() time.Time { return time.Now().UTC() }
	return svc
}

// WithClock overrides the internal clock for deterministic tests.
func (s *TwoFactorService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// BeginSetup provisions a fresh TOTP secret and backup codes for the account
// and parks them in the pending store. Calling it again before confirmation
// replaces the previous pending enrolment.
func (s *TwoFactorService) BeginSetup(ctx context.Context, accountID string) (*TwoFactorEnrolment, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account.Security.TwoFactorEnabled() {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	enrolment, err := security.NewTOTPEnrolment(s.issuer, account.PortalID)
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	codes, err := security.GenerateBackupCodes(s.backupCodes)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = security.HashToken(code)
	}

	pending := port.PendingTwoFactor{
		AccountID:        account.ID,
		Secret:           enrolment.Secret,
		BackupCodeHashes: hashes,
		CreatedAt:        s.now(),
	}
	if err := s.pending.Put(ctx, pending, s.setupTTL); err != nil {
		return nil, fmt.Errorf("store pending enrolment: %w", err)
	}

	return &TwoFactorEnrolment{
		Secret:          enrolment.Secret,
		ProvisioningURI: enrolment.ProvisioningURI,
		BackupCodes:     codes,
	}, nil
}

// ConfirmSetup validates the first TOTP code against the pending secret and,
// on success, persists the second factor and revokes every other session for
// the account so stolen pre-2FA sessions do not outlive the upgrade.
func (s *TwoFactorService) ConfirmSetup(ctx context.Context, accountID, code, keepSessionID string) error {
	pending, err := s.pending.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load pending enrolment: %w", err)
	}
	if pending == nil {
		return ErrTwoFactorSetupNotFound
	}

	now := s.now()
	if !security.ValidateTOTP(code, pending.Secret, now) {
		return ErrTwoFactorInvalid
	}

	if err := s.accounts.SetTwoFactor(ctx, accountID, pending.Secret, pending.BackupCodeHashes); err != nil {
		return fmt.Errorf("persist two-factor material: %w", err)
	}
	if err := s.pending.Delete(ctx, accountID); err != nil {
		s.logger.Warn("delete pending enrolment failed", zap.String("account_id", accountID), zap.Error(err))
	}

	revoked := 0
	if s.sessions != nil {
		revoked, err = s.sessions.RevokeAllExcept(ctx, accountID, keepSessionID, domain.RevokeReasonTwoFactorSetup)
		if err != nil {
			s.logger.Error("revoke sessions after two-factor enable failed",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
		}
	}

	s.publishEnabled(ctx, accountID, len(pending.BackupCodeHashes), revoked, now)
	return nil
}

// Verify checks a second-factor proof during login. Six digits are treated as
// a TOTP code with a one-step skew window; anything else is tried as a backup
// code and consumed atomically on match.
func (s *TwoFactorService) Verify(ctx context.Context, account *domain.Account, code string) error {
	if code == "" || !account.Security.TwoFactorEnabled() {
		return ErrTwoFactorInvalid
	}

	if isTOTPCode(code) {
		if security.ValidateTOTP(code, *account.Security.TwoFactorSecret, s.now()) {
			return nil
		}
		return ErrTwoFactorInvalid
	}

	normalized := strings.ToUpper(strings.TrimSpace(code))
	consumed, err := s.accounts.ConsumeBackupCode(ctx, account.ID, security.HashToken(normalized))
	if err != nil {
		return fmt.Errorf("consume backup code: %w", err)
	}
	if !consumed {
		return ErrTwoFactorInvalid
	}
	return nil
}

func (s *TwoFactorService) publishEnabled(ctx context.Context, accountID string, backupCodes, revoked int, at time.Time) {
	if s.events == nil {
		return
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		s.logger.Warn("load account for two-factor event failed", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	event := domain.TwoFactorEnabledEvent{
		EventID:         uuid.NewString(),
		AccountID:       account.ID,
		TenantID:        account.TenantID,
		PortalID:        account.PortalID,
		BackupCodes:     backupCodes,
		SessionsRevoked: revoked,
		EnabledAt:       at,
	}
	if err := s.events.PublishTwoFactorEnabled(ctx, event); err != nil {
		s.logger.Error("publish two-factor enabled event failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func isTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
