package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
)

func TestRiskScoreWeights(t *testing.T) {
	account := activeAccount()
	attempts := &fakeAttemptRepo{}
	scorer := NewRiskScorer(attempts, zaptest.NewLogger(t))
	ctx := context.Background()

	// Clean daytime attempt scores zero.
	score := scorer.Score(ctx, RiskInput{Account: account, TenantID: "tenant-1", At: noon})
	if score != 0 {
		t.Fatalf("expected 0 for a clean attempt, got %d", score)
	}

	// Failure alone.
	score = scorer.Score(ctx, RiskInput{Account: account, TenantID: "tenant-1", Failed: true, At: noon})
	if score != 25 {
		t.Fatalf("expected 25 for a bare failure, got %d", score)
	}

	// Off-hours in the account timezone.
	threeAM := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	score = scorer.Score(ctx, RiskInput{Account: account, TenantID: "tenant-1", At: threeAM})
	if score != 10 {
		t.Fatalf("expected 10 for off-hours, got %d", score)
	}

	// 2FA enabled but unused.
	secret := "SECRET"
	account.Security.TwoFactorSecret = &secret
	score = scorer.Score(ctx, RiskInput{Account: account, TenantID: "tenant-1", At: noon})
	if score != 15 {
		t.Fatalf("expected 15 for skipped second factor, got %d", score)
	}
	score = scorer.Score(ctx, RiskInput{Account: account, TenantID: "tenant-1", TwoFactorUsed: true, At: noon})
	if score != 0 {
		t.Fatalf("expected 0 when the second factor was used, got %d", score)
	}
}

func TestRiskScoreIPBurst(t *testing.T) {
	attempts := &fakeAttemptRepo{}
	scorer := NewRiskScorer(attempts, zaptest.NewLogger(t))
	ctx := context.Background()
	ip := strPtr("203.0.113.10")

	for i := 0; i < 4; i++ {
		_ = attempts.Append(ctx, domain.LoginAttempt{
			TenantID:  "tenant-1",
			IP:        ip,
			CreatedAt: noon.Add(-time.Duration(i+1) * time.Minute),
		})
	}

	score := scorer.Score(ctx, RiskInput{Account: activeAccount(), TenantID: "tenant-1", IP: ip, At: noon})
	if score != 30 {
		t.Fatalf("expected 30 for an IP burst, got %d", score)
	}

	// Attempts older than the window do not count.
	stale := &fakeAttemptRepo{}
	for i := 0; i < 4; i++ {
		_ = stale.Append(ctx, domain.LoginAttempt{
			TenantID:  "tenant-1",
			IP:        ip,
			CreatedAt: noon.Add(-2 * time.Hour),
		})
	}
	scorer = NewRiskScorer(stale, zaptest.NewLogger(t))
	if score := scorer.Score(ctx, RiskInput{Account: activeAccount(), TenantID: "tenant-1", IP: ip, At: noon}); score != 0 {
		t.Fatalf("expected 0 for stale burst, got %d", score)
	}
}

func TestRiskScoreNovelCountry(t *testing.T) {
	account := activeAccount()
	attempts := &fakeAttemptRepo{}
	scorer := NewRiskScorer(attempts, zaptest.NewLogger(t))
	ctx := context.Background()

	// Cold start: no located successful login yet, no penalty.
	score := scorer.Score(ctx, RiskInput{
		Account: account, TenantID: "tenant-1", CountryCode: strPtr("BR"), At: noon,
	})
	if score != 0 {
		t.Fatalf("cold-start account must not be penalized, got %d", score)
	}

	_ = attempts.Append(ctx, domain.LoginAttempt{
		TenantID:    "tenant-1",
		AccountID:   &account.ID,
		Success:     true,
		CountryCode: strPtr("DE"),
		CreatedAt:   noon.Add(-24 * time.Hour),
	})

	score = scorer.Score(ctx, RiskInput{
		Account: account, TenantID: "tenant-1", CountryCode: strPtr("BR"), At: noon,
	})
	if score != 20 {
		t.Fatalf("expected 20 for a novel country, got %d", score)
	}

	score = scorer.Score(ctx, RiskInput{
		Account: account, TenantID: "tenant-1", CountryCode: strPtr("DE"), At: noon,
	})
	if score != 0 {
		t.Fatalf("known country must not be penalized, got %d", score)
	}
}

func TestRiskScoreBoundsAndDegradation(t *testing.T) {
	account := activeAccount()
	secret := "SECRET"
	account.Security.TwoFactorSecret = &secret
	attempts := &fakeAttemptRepo{}
	ctx := context.Background()
	ip := strPtr("203.0.113.10")

	for i := 0; i < 5; i++ {
		_ = attempts.Append(ctx, domain.LoginAttempt{TenantID: "tenant-1", IP: ip, CreatedAt: noon.Add(-time.Minute)})
	}
	_ = attempts.Append(ctx, domain.LoginAttempt{
		TenantID: "tenant-1", AccountID: &account.ID, Success: true,
		CountryCode: strPtr("DE"), CreatedAt: noon.Add(-24 * time.Hour),
	})

	scorer := NewRiskScorer(attempts, zaptest.NewLogger(t))
	threeAM := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	// Every signal at once: 25+30+20+10+15 = 100, clamp holds.
	score := scorer.Score(ctx, RiskInput{
		Account: account, TenantID: "tenant-1", IP: ip,
		CountryCode: strPtr("BR"), Failed: true, At: threeAM,
	})
	if score != 100 {
		t.Fatalf("expected clamp at 100, got %d", score)
	}

	// A failing signal store degrades that signal to neutral.
	attempts.countErr = errors.New("store down")
	score = scorer.Score(ctx, RiskInput{
		Account: account, TenantID: "tenant-1", IP: ip, Failed: true, At: noon,
	})
	if score != 40 {
		t.Fatalf("expected 40 with the burst signal degraded, got %d", score)
	}
}
