package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

func TestConcurrencyCapEvictsOldest(t *testing.T) {
	account := activeAccount()
	account.MaxConcurrentSessions = 2
	h := newHarness(t, noon, account)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		h.advance(t, noon.Add(time.Duration(i)*time.Minute))
		session := h.sessionSvc.Prepare(account, SessionContext{})
		session.TokenHash = "hash-" + session.ID
		if err := h.sessionSvc.Persist(ctx, account, session); err != nil {
			t.Fatalf("Persist returned error: %v", err)
		}
		ids = append(ids, session.ID)
	}

	active, err := h.sessionSvc.ListActive(ctx, account.ID)
	if err != nil {
		t.Fatalf("ListActive returned error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 surviving sessions, got %d", len(active))
	}
	for _, session := range active {
		if session.ID == ids[0] {
			t.Fatal("oldest session must have been evicted")
		}
	}

	evicted, _ := h.sessions.GetByID(ctx, ids[0])
	if evicted.RevokedAt == nil || *evicted.RevokeReason != domain.RevokeReasonConcurrentLimit {
		t.Fatalf("evicted session must carry the concurrency reason, got %+v", evicted)
	}

	// The newest session always survives.
	newest, _ := h.sessions.GetByID(ctx, ids[2])
	if newest.RevokedAt != nil {
		t.Fatal("newest session must never be evicted")
	}
}

func TestValidateSlidesActivityNotExpiry(t *testing.T) {
	account := activeAccount()
	h := newHarness(t, noon, account)
	ctx := context.Background()

	session := h.sessionSvc.Prepare(account, SessionContext{IP: strPtr("203.0.113.10")})
	session.TokenHash = "hash"
	if err := h.sessionSvc.Persist(ctx, account, session); err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}
	expiry := session.ExpiresAt

	h.advance(t, noon.Add(10*time.Minute))
	validated, err := h.sessionSvc.Validate(ctx, session.ID, strPtr("203.0.113.10"))
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !validated.LastActivityAt.Equal(noon.Add(10 * time.Minute)) {
		t.Fatalf("expected activity to slide, got %v", validated.LastActivityAt)
	}
	if !validated.ExpiresAt.Equal(expiry) {
		t.Fatal("expiry must stay fixed on validate")
	}
	if validated.Suspicious {
		t.Fatal("same-IP validate must not flag the session")
	}

	h.advance(t, expiry.Add(time.Second))
	if _, err := h.sessionSvc.Validate(ctx, session.ID, nil); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired past expiry, got %v", err)
	}
}

func TestValidateFlagsIPChangeWithoutRevoking(t *testing.T) {
	account := activeAccount()
	h := newHarness(t, noon, account)
	ctx := context.Background()

	session := h.sessionSvc.Prepare(account, SessionContext{IP: strPtr("203.0.113.10")})
	session.TokenHash = "hash"
	if err := h.sessionSvc.Persist(ctx, account, session); err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}

	h.advance(t, noon.Add(5*time.Minute))
	validated, err := h.sessionSvc.Validate(ctx, session.ID, strPtr("198.51.100.7"))
	if err != nil {
		t.Fatalf("Validate must not fail on IP change, got %v", err)
	}
	if !validated.Suspicious {
		t.Fatal("IP change must flag the session suspicious")
	}
	if h.publisher.published("session.suspicious") != 1 {
		t.Fatal("expected one suspicious session event")
	}

	// Still valid afterwards; flagging never revokes.
	if _, err := h.sessionSvc.Validate(ctx, session.ID, strPtr("198.51.100.7")); err != nil {
		t.Fatalf("flagged session must stay valid, got %v", err)
	}
}

func TestValidateFlagsImpossibleVelocity(t *testing.T) {
	account := activeAccount()
	h := newHarness(t, noon, account)
	// Sydney and London, ~17000 km apart.
	h.geo.locations = map[string]port.GeoLocation{
		"203.0.113.10": {CountryCode: "AU", Latitude: -33.87, Longitude: 151.21},
		"198.51.100.7": {CountryCode: "GB", Latitude: 51.51, Longitude: -0.13},
	}
	ctx := context.Background()

	session := h.sessionSvc.Prepare(account, SessionContext{IP: strPtr("203.0.113.10")})
	session.TokenHash = "hash"
	if err := h.sessionSvc.Persist(ctx, account, session); err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}

	h.advance(t, noon.Add(10*time.Minute))
	if _, err := h.sessionSvc.Validate(ctx, session.ID, strPtr("198.51.100.7")); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	found := false
	for _, event := range h.sessions.events {
		if event.Kind == domain.SessionEventSuspicious && event.Details["reason"] == "impossible_velocity" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an impossible_velocity suspicious event")
	}
}

func TestRevokedSessionStaysRevoked(t *testing.T) {
	account := activeAccount()
	h := newHarness(t, noon, account)
	ctx := context.Background()

	session := h.sessionSvc.Prepare(account, SessionContext{})
	session.TokenHash = "hash"
	if err := h.sessionSvc.Persist(ctx, account, session); err != nil {
		t.Fatalf("Persist returned error: %v", err)
	}

	if err := h.sessionSvc.Revoke(ctx, session.ID, domain.RevokeReasonAdmin, "admin-1"); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if _, err := h.sessionSvc.Validate(ctx, session.ID, nil); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if revoked, _, _ := h.revocation.IsRevoked(ctx, session.ID); !revoked {
		t.Fatal("revocation must reach the cache")
	}

	// Idempotent.
	if err := h.sessionSvc.Revoke(ctx, session.ID, domain.RevokeReasonAdmin, "admin-1"); err != nil {
		t.Fatalf("second revoke must be a no-op, got %v", err)
	}
}

func TestSweeperDeletesOnlyOldEndedSessions(t *testing.T) {
	account := activeAccount()
	h := newHarness(t, noon, account)
	ctx := context.Background()

	old := h.sessionSvc.Prepare(account, SessionContext{})
	old.TokenHash = "old"
	old.ExpiresAt = noon.Add(-40 * 24 * time.Hour)
	if err := h.sessions.Create(ctx, *old); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	live := h.sessionSvc.Prepare(account, SessionContext{})
	live.TokenHash = "live"
	if err := h.sessions.Create(ctx, *live); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	sweeper := NewSessionSweeper(h.sessions, time.Hour, 30*24*time.Hour, nil)
	sweeper.WithClock(fixedClock(noon))
	sweeper.SweepOnce(ctx)

	if session, _ := h.sessions.GetByID(ctx, old.ID); session != nil {
		t.Fatal("expected expired session past retention to be deleted")
	}
	if session, _ := h.sessions.GetByID(ctx, live.ID); session == nil {
		t.Fatal("live session must survive the sweep")
	}

	// Idempotent second pass.
	sweeper.SweepOnce(ctx)
}

func TestSweeperStartStop(t *testing.T) {
	h := newHarness(t, noon, activeAccount())
	sweeper := NewSessionSweeper(h.sessions, 10*time.Millisecond, 30*24*time.Hour, nil)

	sweeper.Start(context.Background())
	sweeper.Start(context.Background()) // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
	sweeper.Stop() // second stop is a no-op
}
