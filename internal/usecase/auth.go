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
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/security"
)

var (
	// ErrInvalidCredentials is the generic authentication failure. Unknown
	// portal ids, wrong passwords, and non-loginable account states all fold
	// into it so no response shape reveals whether a portal id exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is the sentinel wrapped by AccountLockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrTwoFactorRequired asks the caller to repeat the login with a code.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrServiceUnavailable masks store-layer write failures.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// AccountLockedError carries the remaining lock duration. It unwraps to
// ErrAccountLocked.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// LoginInput is one authentication attempt as received at the boundary.
type LoginInput struct {
	TenantID          string
	PortalID          string
	Password          string
	TwoFactorCode     string
	RememberMe        bool
	IP                *string
	DeviceFingerprint *string
}

// LoginResult is a successful authentication.
type LoginResult struct {
	Account            *domain.Account
	Session            *domain.Session
	Tokens             *TokenPair
	RiskScore          int
	MustChangePassword bool
}

// AuthService orchestrates the login protocol: credential verification, risk
// scoring, lockout bookkeeping, second-factor checks, session creation, and
// token issuance. Idempotent reads are retried once; writes never are, so a
// store hiccup cannot double-count a failure or double-issue a session.
type AuthService struct {
	accounts  port.AccountRepository
	hasher    port.PasswordHasher
	risk      *RiskScorer
	lockout   *LockoutPolicy
	twoFactor *TwoFactorService
	sessions  *SessionService
	tokens    *TokenService
	audit     *AuditRecorder
	events    port.EventPublisher
	geo       port.GeoResolver

	stepUpThreshold int
	// timingDummy is a real hash verified against when the portal id does
	// not resolve, so the unknown-id path costs the same as a wrong password.
	timingDummy string
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuthService constructs the orchestrator. The timing-equalisation hash is
// produced once at startup.
func NewAuthService(
	accounts port.AccountRepository,
	hasher port.PasswordHasher,
	risk *RiskScorer,
	lockout *LockoutPolicy,
	twoFactor *TwoFactorService,
	sessions *SessionService,
	tokens *TokenService,
	audit *AuditRecorder,
	events port.EventPublisher,
	geo port.GeoResolver,
	stepUpThreshold int,
	logger *zap.Logger,
) (*AuthService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stepUpThreshold <= 0 {
		stepUpThreshold = 75
	}

	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare timing dummy hash: %w", err)
	}

	svc := &AuthService{
		accounts:        accounts,
		hasher:          hasher,
		risk:            risk,
		lockout:         lockout,
		twoFactor:       twoFactor,
		sessions:        sessions,
		tokens:          tokens,
		audit:           audit,
		events:          events,
		geo:             geo,
		stepUpThreshold: stepUpThreshold,
		timingDummy:     dummy,
		logger:          logger,
	}
	svc.now = func() time.Time { return time.Now().UTC() }
	return svc, nil
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login runs the full authentication protocol for one attempt.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	now := s.now()
	portalID := domain.NormalizePortalID(input.PortalID)
	country := s.resolveCountry(ctx, input.IP)
	twoFactorUsed := input.TwoFactorCode != ""

	if !domain.ValidPortalID(portalID) {
		s.equalizeTiming(input.Password)
		s.recordFailure(ctx, input, nil, portalID, domain.FailurePortalIDNotFound, country, s.scoreUnresolved(ctx, input, country, now), now)
		return nil, ErrInvalidCredentials
	}

	account, err := s.loadAccount(ctx, input.TenantID, portalID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		s.equalizeTiming(input.Password)
		s.recordFailure(ctx, input, nil, portalID, domain.FailurePortalIDNotFound, country, s.scoreUnresolved(ctx, input, country, now), now)
		return nil, ErrInvalidCredentials
	}

	if err := s.checkStatus(ctx, input, account, portalID, country, now); err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(input.Password, account.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", zap.String("account_id", account.ID), zap.Error(err))
		return nil, ErrServiceUnavailable
	}
	if !ok {
		return nil, s.failCounted(ctx, input, account, portalID, domain.FailureBadPassword, country, twoFactorUsed, now)
	}

	score := s.risk.Score(ctx, RiskInput{
		Account:       account,
		TenantID:      input.TenantID,
		IP:            input.IP,
		CountryCode:   country,
		Failed:        false,
		TwoFactorUsed: twoFactorUsed,
		At:            now,
	})

	if account.Security.TwoFactorEnabled() {
		if input.TwoFactorCode == "" {
			s.recordFailure(ctx, input, &account.ID, portalID, domain.FailureTwoFactorRequired, country, score, now)
			return nil, ErrTwoFactorRequired
		}
		if err := s.twoFactor.Verify(ctx, account, input.TwoFactorCode); err != nil {
			if errors.Is(err, ErrTwoFactorInvalid) {
				return nil, s.failCounted(ctx, input, account, portalID, domain.FailureBadOTP, country, twoFactorUsed, now)
			}
			s.logger.Error("two-factor verification failed", zap.String("account_id", account.ID), zap.Error(err))
			return nil, ErrServiceUnavailable
		}
	} else if score >= s.stepUpThreshold {
		// High-risk step-up: without an enrolled second factor there is
		// nothing to step up to, so the attempt proceeds and the event
		// carries the signal to downstream tooling.
		s.publishHighRisk(ctx, account, score, input.IP, country, now)
	}

	if err := s.lockout.RegisterSuccess(ctx, account.ID); err != nil {
		s.logger.Error("reset failure counter failed", zap.String("account_id", account.ID), zap.Error(err))
		return nil, ErrServiceUnavailable
	}

	session := s.sessions.Prepare(account, SessionContext{
		IP:                input.IP,
		DeviceFingerprint: input.DeviceFingerprint,
		RememberMe:        input.RememberMe,
	})

	pair, err := s.tokens.Mint(account, session)
	if err != nil {
		s.logger.Error("mint tokens failed", zap.String("account_id", account.ID), zap.Error(err))
		return nil, ErrServiceUnavailable
	}
	session.TokenHash = security.HashToken(pair.RefreshToken)

	if err := s.sessions.Persist(ctx, account, session); err != nil {
		s.logger.Error("persist session failed", zap.String("account_id", account.ID), zap.Error(err))
		return nil, ErrServiceUnavailable
	}

	if score >= s.stepUpThreshold && account.Security.TwoFactorEnabled() {
		s.publishHighRisk(ctx, account, score, input.IP, country, now)
	}

	s.audit.RecordAttempt(ctx, domain.LoginAttempt{
		TenantID:          input.TenantID,
		AccountID:         &account.ID,
		PortalIDAttempted: portalID,
		Success:           true,
		IP:                input.IP,
		DeviceFingerprint: input.DeviceFingerprint,
		CountryCode:       country,
		RiskScore:         score,
		TwoFactorUsed:     twoFactorUsed,
		CreatedAt:         now,
	})

	return &LoginResult{
		Account:            account,
		Session:            session,
		Tokens:             pair,
		RiskScore:          score,
		MustChangePassword: account.MustChangePassword,
	}, nil
}

// Refresh exchanges a live refresh token for a new pair. The stored hash is
// swapped conditionally, so the old token is single-use; presenting an
// already-rotated token revokes the session outright as a reuse signal.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.tokens.ParseClaims(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}

	session, err := s.sessions.Validate(ctx, claims.SessionID, nil)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionRevoked
		}
		if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionRevoked) {
			return nil, err
		}
		return nil, ErrServiceUnavailable
	}

	presentedHash := security.HashToken(refreshToken)
	if session.TokenHash != presentedHash {
		s.logger.Warn("refresh token reuse detected", zap.String("session_id", session.ID))
		if err := s.sessions.Revoke(ctx, session.ID, domain.RevokeReasonRefreshReuse, "system"); err != nil {
			s.logger.Error("revoke session after token reuse failed", zap.String("session_id", session.ID), zap.Error(err))
		}
		return nil, ErrSessionRevoked
	}

	account, err := s.loadAccountByID(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Status != domain.AccountStatusActive {
		return nil, ErrSessionRevoked
	}

	now := s.now()
	extended := *session
	extended.ExpiresAt = now.Add(session.Timeout)

	pair, err := s.tokens.Mint(account, &extended)
	if err != nil {
		s.logger.Error("mint tokens failed", zap.String("session_id", session.ID), zap.Error(err))
		return nil, ErrServiceUnavailable
	}

	rotated, err := s.sessions.Rotate(ctx, session, presentedHash, security.HashToken(pair.RefreshToken), extended.ExpiresAt)
	if err != nil {
		return nil, ErrServiceUnavailable
	}
	if !rotated {
		// Lost a concurrent rotation race; the presented token is no longer
		// current.
		return nil, ErrSessionRevoked
	}

	return &LoginResult{
		Account:   account,
		Session:   session,
		Tokens:    pair,
		RiskScore: 0,
	}, nil
}

// Logout revokes the session bound to the presented access token. Revoking an
// already-ended session succeeds quietly.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	err := s.sessions.Revoke(ctx, sessionID, domain.RevokeReasonLogout, "account")
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return ErrServiceUnavailable
	}
	return nil
}

// Authorize verifies an access token and revalidates the bound session,
// sliding its activity and feeding suspicious-activity detection with the
// current request IP.
func (s *AuthService) Authorize(ctx context.Context, accessToken string, currentIP *string) (*PortalClaims, *domain.Session, error) {
	claims, err := s.tokens.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.sessions.Validate(ctx, claims.SessionID, currentIP)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil, ErrSessionRevoked
		}
		if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrSessionRevoked) {
			return nil, nil, err
		}
		return nil, nil, ErrServiceUnavailable
	}
	return claims, session, nil
}

// checkStatus rejects attempts against accounts that cannot log in. Locked
// accounts are told so, with the remaining window; every other blocked state
// folds into the generic failure.
func (s *AuthService) checkStatus(ctx context.Context, input LoginInput, account *domain.Account, portalID string, country *string, now time.Time) error {
	if account.Status == domain.AccountStatusLocked {
		unlocked, err := s.lockout.MaybeUnlock(ctx, account)
		if err != nil {
			s.logger.Error("lazy unlock failed", zap.String("account_id", account.ID), zap.Error(err))
			return ErrServiceUnavailable
		}
		if !unlocked {
			remaining := s.lockout.RemainingLock(account)
			s.recordFailure(ctx, input, &account.ID, portalID, domain.FailureAccountLocked, country, s.scoreFailure(ctx, input, account, country, now), now)
			return &AccountLockedError{RetryAfter: remaining}
		}
	}

	switch account.Status {
	case domain.AccountStatusActive:
		return nil
	case domain.AccountStatusSuspended:
		s.equalizeTiming(input.Password)
		s.recordFailure(ctx, input, &account.ID, portalID, domain.FailureAccountSuspended, country, s.scoreFailure(ctx, input, account, country, now), now)
		return ErrInvalidCredentials
	default:
		// pending_activation and deactivated.
		s.equalizeTiming(input.Password)
		s.recordFailure(ctx, input, &account.ID, portalID, domain.FailureAccountInactive, country, s.scoreFailure(ctx, input, account, country, now), now)
		return ErrInvalidCredentials
	}
}

// failCounted registers a counted failure (wrong password or wrong code),
// records the attempt, and shapes the caller-facing error. When the failure
// tips the account into the locked state the lock is reported immediately.
func (s *AuthService) failCounted(ctx context.Context, input LoginInput, account *domain.Account, portalID string, reason domain.FailureReason, country *string, twoFactorUsed bool, now time.Time) error {
	score := s.risk.Score(ctx, RiskInput{
		Account:       account,
		TenantID:      input.TenantID,
		IP:            input.IP,
		CountryCode:   country,
		Failed:        true,
		TwoFactorUsed: twoFactorUsed,
		At:            now,
	})

	outcome, err := s.lockout.RegisterFailure(ctx, account, input.IP)
	if err != nil {
		s.logger.Error("register login failure failed", zap.String("account_id", account.ID), zap.Error(err))
		return ErrServiceUnavailable
	}

	s.audit.RecordAttempt(ctx, domain.LoginAttempt{
		TenantID:          input.TenantID,
		AccountID:         &account.ID,
		PortalIDAttempted: portalID,
		Success:           false,
		FailureReason:     reason,
		IP:                input.IP,
		DeviceFingerprint: input.DeviceFingerprint,
		CountryCode:       country,
		RiskScore:         score,
		TwoFactorUsed:     twoFactorUsed,
		CreatedAt:         now,
	})

	if outcome.Status == domain.AccountStatusLocked && outcome.LockedUntil != nil {
		return &AccountLockedError{RetryAfter: outcome.LockedUntil.Sub(now)}
	}
	return ErrInvalidCredentials
}

func (s *AuthService) recordFailure(ctx context.Context, input LoginInput, accountID *string, portalID string, reason domain.FailureReason, country *string, score int, now time.Time) {
	s.audit.RecordAttempt(ctx, domain.LoginAttempt{
		TenantID:          input.TenantID,
		AccountID:         accountID,
		PortalIDAttempted: portalID,
		Success:           false,
		FailureReason:     reason,
		IP:                input.IP,
		DeviceFingerprint: input.DeviceFingerprint,
		CountryCode:       country,
		RiskScore:         score,
		TwoFactorUsed:     input.TwoFactorCode != "",
		CreatedAt:         now,
	})
}

func (s *AuthService) scoreFailure(ctx context.Context, input LoginInput, account *domain.Account, country *string, now time.Time) int {
	return s.risk.Score(ctx, RiskInput{
		Account:       account,
		TenantID:      input.TenantID,
		IP:            input.IP,
		CountryCode:   country,
		Failed:        true,
		TwoFactorUsed: input.TwoFactorCode != "",
		At:            now,
	})
}

func (s *AuthService) scoreUnresolved(ctx context.Context, input LoginInput, country *string, now time.Time) int {
	return s.risk.Score(ctx, RiskInput{
		Account:       nil,
		TenantID:      input.TenantID,
		IP:            input.IP,
		CountryCode:   country,
		Failed:        true,
		TwoFactorUsed: input.TwoFactorCode != "",
		At:            now,
	})
}

// loadAccount retries the idempotent read once before giving up.
func (s *AuthService) loadAccount(ctx context.Context, tenantID, portalID string) (*domain.Account, error) {
	account, err := s.accounts.GetByPortalID(ctx, tenantID, portalID)
	if err != nil {
		time.Sleep(50 * time.Millisecond)
		account, err = s.accounts.GetByPortalID(ctx, tenantID, portalID)
		if err != nil {
			s.logger.Error("account lookup failed", zap.String("portal_id", portalID), zap.Error(err))
			return nil, ErrServiceUnavailable
		}
	}
	return account, nil
}

func (s *AuthService) loadAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		time.Sleep(50 * time.Millisecond)
		account, err = s.accounts.GetByID(ctx, id)
		if err != nil {
			s.logger.Error("account lookup failed", zap.String("account_id", id), zap.Error(err))
			return nil, ErrServiceUnavailable
		}
	}
	return account, nil
}

// equalizeTiming burns one hash verification so rejected lookups cost the
// same as a wrong password.
func (s *AuthService) equalizeTiming(password string) {
	_, _ = s.hasher.Verify(password, s.timingDummy)
}

func (s *AuthService) resolveCountry(ctx context.Context, ip *string) *string {
	if s.geo == nil || ip == nil || *ip == "" {
		return nil
	}
	location, err := s.geo.Resolve(ctx, *ip)
	if err != nil || location == nil || location.CountryCode == "" {
		return nil
	}
	return &location.CountryCode
}

func (s *AuthService) publishHighRisk(ctx context.Context, account *domain.Account, score int, ip *string, country *string, now time.Time) {
	if s.events == nil {
		return
	}
	event := domain.HighRiskLoginEvent{
		EventID:    uuid.NewString(),
		AccountID:  account.ID,
		TenantID:   account.TenantID,
		PortalID:   account.PortalID,
		RiskScore:  score,
		IPAddress:  ip,
		Country:    country,
		ObservedAt: now,
	}
	if err := s.events.PublishHighRiskLogin(ctx, event); err != nil {
		s.logger.Error("publish high risk login event failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}
