package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

// fakeAccountRepo is an in-memory AccountRepository. The mutex mirrors the
// atomicity the real store provides with conditional updates.
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	notes    []domain.SecurityNote

	failErr error
}

func newFakeAccountRepo(accounts ...*domain.Account) *fakeAccountRepo {
	repo := &fakeAccountRepo{accounts: make(map[string]*domain.Account)}
	for _, account := range accounts {
		copied := *account
		repo.accounts[account.ID] = &copied
	}
	return repo
}

func (r *fakeAccountRepo) get(id string) *domain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id]
}

func (r *fakeAccountRepo) Create(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := account
	r.accounts[account.ID] = &copied
	return nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (r *fakeAccountRepo) GetByPortalID(_ context.Context, tenantID, portalID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.TenantID == tenantID && account.PortalID == portalID {
			copied := *account
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) PortalIDExists(_ context.Context, tenantID, portalID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.TenantID == tenantID && account.PortalID == portalID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeAccountRepo) RecordFailure(_ context.Context, id string, threshold int, lockedUntil time.Time) (*port.FailureOutcome, error) {
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	account.Security.FailedAttempts++
	if account.Security.FailedAttempts >= threshold {
		account.Status = domain.AccountStatusLocked
		until := lockedUntil
		account.Security.LockedUntil = &until
	}
	return &port.FailureOutcome{
		FailedAttempts: account.Security.FailedAttempts,
		Status:         account.Status,
		LockedUntil:    account.Security.LockedUntil,
	}, nil
}

func (r *fakeAccountRepo) ResetFailures(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	account.Security.FailedAttempts = 0
	account.Security.LockedUntil = nil
	account.LastLogin = &at
	return nil
}

func (r *fakeAccountRepo) Unlock(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	account.Status = domain.AccountStatusActive
	account.Security.LockedUntil = nil
	return nil
}

func (r *fakeAccountRepo) UpdateStatus(_ context.Context, id string, status domain.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[id].Status = status
	return nil
}

func (r *fakeAccountRepo) UpdatePassword(_ context.Context, id string, passwordHash string, mustChange bool, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	account.PasswordHash = passwordHash
	account.MustChangePassword = mustChange
	return nil
}

func (r *fakeAccountRepo) SetMustChangePassword(_ context.Context, id string, mustChange bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[id].MustChangePassword = mustChange
	return nil
}

func (r *fakeAccountRepo) SetTwoFactor(_ context.Context, id string, secret string, backupCodeHashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	account.Security.TwoFactorSecret = &secret
	account.Security.BackupCodes = append([]string(nil), backupCodeHashes...)
	return nil
}

func (r *fakeAccountRepo) ConsumeBackupCode(_ context.Context, id string, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[id]
	for i, hash := range account.Security.BackupCodes {
		if hash == codeHash {
			account.Security.BackupCodes = append(account.Security.BackupCodes[:i], account.Security.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeAccountRepo) AppendSecurityNote(_ context.Context, note domain.SecurityNote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

// fakeSessionRepo is an in-memory SessionRepository.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	events   []domain.SessionEvent
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *fakeSessionRepo) Create(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.TokenHash == tokenHash {
			copied := *session
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) ListActiveByAccount(_ context.Context, accountID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []domain.Session
	for _, session := range r.sessions {
		if session.AccountID == accountID && session.RevokedAt == nil {
			active = append(active, *session)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActivityAt.After(active[j].LastActivityAt)
	})
	return active, nil
}

func (r *fakeSessionRepo) CountActiveByAccount(ctx context.Context, accountID string) (int, error) {
	active, err := r.ListActiveByAccount(ctx, accountID)
	return len(active), err
}

func (r *fakeSessionRepo) Touch(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[sessionID]; ok {
		session.LastActivityAt = at
	}
	return nil
}

func (r *fakeSessionRepo) MarkSuspicious(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[sessionID]; ok {
		session.Suspicious = true
	}
	return nil
}

func (r *fakeSessionRepo) Revoke(_ context.Context, sessionID string, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[sessionID]; ok && session.RevokedAt == nil {
		session.RevokedAt = &at
		session.RevokeReason = &reason
	}
	return nil
}

func (r *fakeSessionRepo) RevokeAllForAccount(_ context.Context, accountID string, reason string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := 0
	for _, session := range r.sessions {
		if session.AccountID == accountID && session.RevokedAt == nil {
			session.RevokedAt = &at
			session.RevokeReason = &reason
			revoked++
		}
	}
	return revoked, nil
}

func (r *fakeSessionRepo) RotateToken(_ context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || session.RevokedAt != nil || session.TokenHash != oldHash {
		return false, nil
	}
	session.TokenHash = newHash
	session.ExpiresAt = expiresAt
	return true, nil
}

func (r *fakeSessionRepo) StoreEvent(_ context.Context, event domain.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *fakeSessionRepo) DeleteEndedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, session := range r.sessions {
		ended := session.RevokedAt != nil || !session.ExpiresAt.After(cutoff)
		if ended && session.ExpiresAt.Before(cutoff) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeSessionRepo) eventKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.events))
	for _, event := range r.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

// fakeAttemptRepo is an in-memory AttemptRepository.
type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.LoginAttempt

	countErr error
}

func (r *fakeAttemptRepo) Append(_ context.Context, attempt domain.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *fakeAttemptRepo) ListRecentByAccount(_ context.Context, accountID string, limit int) ([]domain.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []domain.LoginAttempt
	for i := len(r.attempts) - 1; i >= 0 && len(matched) < limit; i-- {
		if r.attempts[i].AccountID != nil && *r.attempts[i].AccountID == accountID {
			matched = append(matched, r.attempts[i])
		}
	}
	return matched, nil
}

func (r *fakeAttemptRepo) CountByIPSince(_ context.Context, tenantID, ip string, since time.Time) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, attempt := range r.attempts {
		if attempt.TenantID == tenantID && attempt.IP != nil && *attempt.IP == ip && attempt.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *fakeAttemptRepo) SuccessfulCountriesSince(_ context.Context, accountID string, since time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	var countries []string
	for _, attempt := range r.attempts {
		if attempt.AccountID == nil || *attempt.AccountID != accountID || !attempt.Success {
			continue
		}
		if attempt.CountryCode == nil || !attempt.CreatedAt.After(since) {
			continue
		}
		if _, dup := seen[*attempt.CountryCode]; dup {
			continue
		}
		seen[*attempt.CountryCode] = struct{}{}
		countries = append(countries, *attempt.CountryCode)
	}
	return countries, nil
}

func (r *fakeAttemptRepo) lastAttempt() *domain.LoginAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.attempts) == 0 {
		return nil
	}
	copied := r.attempts[len(r.attempts)-1]
	return &copied
}

// fakePublisher captures published events by name.
type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *fakePublisher) record(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakePublisher) published(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, t := range p.topics {
		if t == topic {
			count++
		}
	}
	return count
}

func (p *fakePublisher) PublishAccountProvisioned(context.Context, domain.AccountProvisionedEvent) error {
	return p.record("account.provisioned")
}

func (p *fakePublisher) PublishAccountLocked(context.Context, domain.AccountLockedEvent) error {
	return p.record("account.locked")
}

func (p *fakePublisher) PublishRepeatedFailures(context.Context, domain.RepeatedFailuresEvent) error {
	return p.record("account.repeated_failures")
}

func (p *fakePublisher) PublishHighRiskLogin(context.Context, domain.HighRiskLoginEvent) error {
	return p.record("login.high_risk")
}

func (p *fakePublisher) PublishSuspiciousSession(context.Context, domain.SuspiciousSessionEvent) error {
	return p.record("session.suspicious")
}

func (p *fakePublisher) PublishSessionRevoked(context.Context, domain.SessionRevokedEvent) error {
	return p.record("session.revoked")
}

func (p *fakePublisher) PublishPasswordResetForced(context.Context, domain.PasswordResetForcedEvent) error {
	return p.record("account.password_reset_forced")
}

func (p *fakePublisher) PublishTwoFactorEnabled(context.Context, domain.TwoFactorEnabledEvent) error {
	return p.record("account.two_factor_enabled")
}

// fakeRevocationCache records revocation marks.
type fakeRevocationCache struct {
	mu      sync.Mutex
	revoked map[string]string

	lookupErr error
}

func newFakeRevocationCache() *fakeRevocationCache {
	return &fakeRevocationCache{revoked: make(map[string]string)}
}

func (c *fakeRevocationCache) MarkRevoked(_ context.Context, sessionID string, reason string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[sessionID] = reason
	return nil
}

func (c *fakeRevocationCache) IsRevoked(_ context.Context, sessionID string) (bool, string, error) {
	if c.lookupErr != nil {
		return false, "", c.lookupErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	reason, ok := c.revoked[sessionID]
	return ok, reason, nil
}

func (c *fakeRevocationCache) Clear(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.revoked, sessionID)
	return nil
}

// fakeGeoResolver maps IPs to fixed locations.
type fakeGeoResolver struct {
	locations map[string]port.GeoLocation
}

func (g *fakeGeoResolver) Resolve(_ context.Context, ip string) (*port.GeoLocation, error) {
	if g == nil || g.locations == nil {
		return nil, nil
	}
	location, ok := g.locations[ip]
	if !ok {
		return nil, nil
	}
	return &location, nil
}

// fakeSetupStore keeps pending enrolments in memory, ignoring TTLs.
type fakeSetupStore struct {
	mu      sync.Mutex
	pending map[string]port.PendingTwoFactor
}

func newFakeSetupStore() *fakeSetupStore {
	return &fakeSetupStore{pending: make(map[string]port.PendingTwoFactor)}
}

func (s *fakeSetupStore) Put(_ context.Context, pending port.PendingTwoFactor, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pending.AccountID] = pending
	return nil
}

func (s *fakeSetupStore) Get(_ context.Context, accountID string) (*port.PendingTwoFactor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.pending[accountID]
	if !ok {
		return nil, nil
	}
	return &pending, nil
}

func (s *fakeSetupStore) Delete(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, accountID)
	return nil
}

// fakeHasher is a trivial reversible hasher keeping tests fast; the real
// argon2 implementation has its own tests.
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (fakeHasher) Verify(password string, encoded string) (bool, error) {
	return encoded == "hashed:"+password, nil
}
