package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
)

func newProvisioning(t *testing.T, accounts *fakeAccountRepo, publisher *fakePublisher) *ProvisioningService {
	t.Helper()
	generator := NewIdentifierGenerator(accounts)
	svc := NewProvisioningService(accounts, generator, fakeHasher{}, permissivePolicy{}, publisher, zaptest.NewLogger(t))
	svc.WithClock(fixedClock(noon))
	return svc
}

// permissivePolicy accepts everything except the literal "weak".
type permissivePolicy struct{}

func (permissivePolicy) Validate(password string, _ ...string) error {
	if password == "weak" {
		return errors.New("password too weak")
	}
	return nil
}

func TestCreateAccountStartsPendingActivation(t *testing.T) {
	accounts := newFakeAccountRepo()
	publisher := &fakePublisher{}
	svc := newProvisioning(t, accounts, publisher)

	account, err := svc.CreateAccount(context.Background(), ProvisionInput{
		TenantID:    "tenant-1",
		Type:        domain.AccountTypeCustomer,
		Timezone:    "Europe/Berlin",
		RequestedBy: "onboarding",
	})
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}

	if account.Status != domain.AccountStatusPendingActivation {
		t.Fatalf("expected pending_activation, got %s", account.Status)
	}
	if !domain.ValidPortalID(account.PortalID) {
		t.Fatalf("generated portal id %q is malformed", account.PortalID)
	}
	if account.PasswordHash != "" {
		t.Fatal("no password may exist before activation")
	}
	if publisher.published("account.provisioned") != 1 {
		t.Fatal("expected a provisioned event")
	}
	if len(accounts.notes) != 1 {
		t.Fatalf("expected one security note, got %d", len(accounts.notes))
	}
}

func TestCreateAccountRejectsUnknownType(t *testing.T) {
	svc := newProvisioning(t, newFakeAccountRepo(), &fakePublisher{})
	_, err := svc.CreateAccount(context.Background(), ProvisionInput{TenantID: "tenant-1", Type: "robot"})
	if !errors.Is(err, ErrInvalidAccountType) {
		t.Fatalf("expected ErrInvalidAccountType, got %v", err)
	}
}

func TestActivateSetsPasswordAndStatus(t *testing.T) {
	pending := activeAccount()
	pending.Status = domain.AccountStatusPendingActivation
	pending.PasswordHash = ""
	accounts := newFakeAccountRepo(pending)
	svc := newProvisioning(t, accounts, &fakePublisher{})
	ctx := context.Background()

	if _, err := svc.Activate(ctx, "tenant-1", "ab23cd45", "weak"); err == nil {
		t.Fatal("expected policy rejection for a weak password")
	}
	if accounts.get("acc-1").Status != domain.AccountStatusPendingActivation {
		t.Fatal("failed activation must not change the status")
	}

	account, err := svc.Activate(ctx, "tenant-1", "ab23cd45", "Str0ng-Enough!Pass")
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if account.Status != domain.AccountStatusActive {
		t.Fatalf("expected active, got %s", account.Status)
	}
	if accounts.get("acc-1").PasswordHash != "hashed:Str0ng-Enough!Pass" {
		t.Fatal("activation must store the hashed password")
	}

	// A second activation is rejected.
	if _, err := svc.Activate(ctx, "tenant-1", "AB23CD45", "Another-Str0ng!Pass"); !errors.Is(err, ErrNotActivatable) {
		t.Fatalf("expected ErrNotActivatable, got %v", err)
	}
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	accounts := newFakeAccountRepo(activeAccount())
	svc := newProvisioning(t, accounts, &fakePublisher{})
	ctx := context.Background()

	err := svc.ChangePassword(ctx, "acc-1", "not-the-password", "New-Passw0rd!")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := svc.ChangePassword(ctx, "acc-1", "correct-password", "New-Passw0rd!"); err != nil {
		t.Fatalf("ChangePassword returned error: %v", err)
	}
	if accounts.get("acc-1").PasswordHash != "hashed:New-Passw0rd!" {
		t.Fatal("new password hash must be stored")
	}
	if accounts.get("acc-1").MustChangePassword {
		t.Fatal("a completed change clears the forced flag")
	}
}
