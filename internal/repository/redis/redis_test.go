package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestSessionRevocationCache_MarkAndCheck(t *testing.T) {
	client, _ := newTestRedis(t)
	cache := NewSessionRevocationCache(client, "session:revoked:test")

	if err := cache.MarkRevoked(context.Background(), "session-1", "logout", time.Minute); err != nil {
		t.Fatalf("MarkRevoked returned error: %v", err)
	}

	revoked, reason, err := cache.IsRevoked(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("IsRevoked returned error: %v", err)
	}
	if !revoked {
		t.Fatal("expected session to be flagged")
	}
	if reason != "logout" {
		t.Fatalf("expected reason logout, got %s", reason)
	}
}

func TestSessionRevocationCache_Miss(t *testing.T) {
	client, _ := newTestRedis(t)
	cache := NewSessionRevocationCache(client, "session:revoked:test")

	revoked, _, err := cache.IsRevoked(context.Background(), "missing")
	if err != nil {
		t.Fatalf("IsRevoked returned error: %v", err)
	}
	if revoked {
		t.Fatal("an unknown session must not be flagged")
	}
}

func TestSessionRevocationCache_EntryExpires(t *testing.T) {
	client, server := newTestRedis(t)
	cache := NewSessionRevocationCache(client, "session:revoked:test")

	if err := cache.MarkRevoked(context.Background(), "session-1", "logout", time.Minute); err != nil {
		t.Fatalf("MarkRevoked returned error: %v", err)
	}

	server.FastForward(2 * time.Minute)

	revoked, _, err := cache.IsRevoked(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("IsRevoked returned error: %v", err)
	}
	if revoked {
		t.Fatal("the flag must lapse with its TTL")
	}
}

func TestTwoFactorSetupStore_RoundTrip(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewTwoFactorSetupStore(client, "2fa:setup:test")
	ctx := context.Background()

	pending := port.PendingTwoFactor{
		AccountID:        "acc-1",
		Secret:           "JBSWY3DPEHPK3PXP",
		BackupCodeHashes: []string{"hash-1", "hash-2"},
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
	}

	if err := store.Put(ctx, pending, 10*time.Minute); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	got, err := store.Get(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a pending enrolment")
	}
	if got.Secret != pending.Secret {
		t.Fatalf("expected secret %s, got %s", pending.Secret, got.Secret)
	}
	if len(got.BackupCodeHashes) != 2 {
		t.Fatalf("expected 2 backup code hashes, got %d", len(got.BackupCodeHashes))
	}

	if err := store.Delete(ctx, "acc-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	got, err = store.Get(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != nil {
		t.Fatal("expected no pending enrolment after delete")
	}
}

func TestTwoFactorSetupStore_Expires(t *testing.T) {
	client, server := newTestRedis(t)
	store := NewTwoFactorSetupStore(client, "2fa:setup:test")
	ctx := context.Background()

	pending := port.PendingTwoFactor{AccountID: "acc-1", Secret: "JBSWY3DPEHPK3PXP"}
	if err := store.Put(ctx, pending, 10*time.Minute); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	server.FastForward(11 * time.Minute)

	got, err := store.Get(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != nil {
		t.Fatal("an abandoned enrolment must expire")
	}
}

func TestRateLimitRepository_SlidingWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "ratelimit:test", TTL: time.Hour})
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := repo.RecordAttempt(ctx, "203.0.113.7", now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "203.0.113.7", time.Minute, now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts in window, got %d", count)
	}

	oldest, ok, err := repo.OldestAttempt(ctx, "203.0.113.7", time.Minute, now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected an oldest attempt")
	}
	if !oldest.Equal(now) {
		t.Fatalf("expected oldest attempt at %v, got %v", now, oldest)
	}

	// Attempts sliding out of the window stop counting.
	if err := repo.TrimWindow(ctx, "203.0.113.7", time.Minute, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}
	count, err = repo.CountAttempts(ctx, "203.0.113.7", time.Minute, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected trimmed window to be empty, got %d", count)
	}
}
