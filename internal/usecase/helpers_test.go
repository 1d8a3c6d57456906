package usecase

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
)

// testKeys implements security.KeyProvider over a throwaway RSA key.
type testKeys struct {
	key *rsa.PrivateKey
}

func newTestKeys(t *testing.T) *testKeys {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return &testKeys{key: key}
}

func (k *testKeys) GetSigningKey() (*rsa.PrivateKey, error) { return k.key, nil }

func (k *testKeys) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	return &k.key.PublicKey, nil
}

func (k *testKeys) SigningKID() string { return "test-key" }

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func strPtr(value string) *string { return &value }

func activeAccount() *domain.Account {
	return &domain.Account{
		ID:                    "acc-1",
		TenantID:              "tenant-1",
		PortalID:              "AB23CD45",
		Type:                  domain.AccountTypeCustomer,
		Status:                domain.AccountStatusActive,
		PasswordHash:          "hashed:correct-password",
		Timezone:              "UTC",
		SessionTimeout:        30 * time.Minute,
		MaxConcurrentSessions: 3,
		CreatedAt:             time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// harness wires the full service graph over fakes with one shared clock.
type harness struct {
	accounts   *fakeAccountRepo
	sessions   *fakeSessionRepo
	attempts   *fakeAttemptRepo
	publisher  *fakePublisher
	revocation *fakeRevocationCache
	geo        *fakeGeoResolver
	setup      *fakeSetupStore

	audit      *AuditRecorder
	risk       *RiskScorer
	lockout    *LockoutPolicy
	sessionSvc *SessionService
	tokenSvc   *TokenService
	twoFactor  *TwoFactorService
	auth       *AuthService
}

func newHarness(t *testing.T, at time.Time, accounts ...*domain.Account) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := fixedClock(at)

	h := &harness{
		accounts:   newFakeAccountRepo(accounts...),
		sessions:   newFakeSessionRepo(),
		attempts:   &fakeAttemptRepo{},
		publisher:  &fakePublisher{},
		revocation: newFakeRevocationCache(),
		geo:        &fakeGeoResolver{},
		setup:      newFakeSetupStore(),
	}

	h.audit = NewAuditRecorder(h.attempts, h.sessions, logger)
	h.audit.WithClock(clock)

	h.risk = NewRiskScorer(h.attempts, logger)

	h.lockout = NewLockoutPolicy(h.accounts, h.publisher, logger)
	h.lockout.WithClock(clock)

	h.sessionSvc = NewSessionService(h.sessions, h.revocation, h.geo, h.publisher, h.audit, SessionSettings{}, logger)
	h.sessionSvc.WithClock(clock)

	h.tokenSvc = NewTokenService(newTestKeys(t), h.sessions, h.revocation,
		domain.NewDegradationPolicy(domain.DegradationPolicyModeLenient), "portal-iam", time.Hour, logger)
	h.tokenSvc.WithClock(clock)

	h.twoFactor = NewTwoFactorService(h.accounts, h.setup, h.sessionSvc, h.publisher,
		"Portal", 10*time.Minute, 10, logger)
	h.twoFactor.WithClock(clock)

	auth, err := NewAuthService(h.accounts, fakeHasher{}, h.risk, h.lockout, h.twoFactor,
		h.sessionSvc, h.tokenSvc, h.audit, h.publisher, h.geo, 75, logger)
	if err != nil {
		t.Fatalf("NewAuthService returned error: %v", err)
	}
	auth.WithClock(clock)
	h.auth = auth

	return h
}

// advance re-pins every service clock to the new moment.
func (h *harness) advance(t *testing.T, at time.Time) {
	t.Helper()
	clock := fixedClock(at)
	h.audit.WithClock(clock)
	h.lockout.WithClock(clock)
	h.sessionSvc.WithClock(clock)
	h.tokenSvc.WithClock(clock)
	h.twoFactor.WithClock(clock)
	h.auth.WithClock(clock)
}
