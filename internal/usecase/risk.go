package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

// Risk weights. Additive, clamped to [0, 100].
const (
	riskWeightFailure       = 25
	riskWeightIPBurst       = 30
	riskWeightNovelCountry  = 20
	riskWeightOffHours      = 10
	riskWeightTwoFactorSkip = 15

	riskIPBurstWindow    = time.Hour
	riskIPBurstThreshold = 3
	riskCountryLookback  = 30 * 24 * time.Hour

	riskDayStartHour = 6
	riskDayEndHour   = 22
)

// RiskInput carries the contextual signals for one scoring pass.
type RiskInput struct {
	Account       *domain.Account
	TenantID      string
	IP            *string
	CountryCode   *string
	Failed        bool
	TwoFactorUsed bool
	At            time.Time
}

// RiskScorer computes a deterministic 0-100 advisory score for a login
// attempt. The score never blocks on its own; lockout is the only blocking
// mechanism. Signal lookups that fail degrade to a neutral contribution so a
// slow attempt store cannot take logins down.
type RiskScorer struct {
	attempts port.AttemptRepository
	logger   *zap.Logger
}

// NewRiskScorer constructs a RiskScorer.
func NewRiskScorer(attempts port.AttemptRepository, logger *zap.Logger) *RiskScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskScorer{attempts: attempts, logger: logger}
}

// Score evaluates all weighted signals for the attempt and clamps the sum.
func (s *RiskScorer) Score(ctx context.Context, input RiskInput) int {
	score := 0

	if input.Failed {
		score += riskWeightFailure
	}

	if s.ipBurst(ctx, input) {
		score += riskWeightIPBurst
	}

	if s.novelCountry(ctx, input) {
		score += riskWeightNovelCountry
	}

	if offHours(input) {
		score += riskWeightOffHours
	}

	if input.Account != nil && input.Account.Security.TwoFactorEnabled() && !input.TwoFactorUsed {
		score += riskWeightTwoFactorSkip
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ipBurst reports whether the source IP produced more than three attempts
// against any portal id in the tenant within the last hour.
func (s *RiskScorer) ipBurst(ctx context.Context, input RiskInput) bool {
	if input.IP == nil || *input.IP == "" {
		return false
	}
	count, err := s.attempts.CountByIPSince(ctx, input.TenantID, *input.IP, input.At.Add(-riskIPBurstWindow))
	if err != nil {
		s.logger.Warn("ip burst lookup failed, scoring neutral", zap.Error(err))
		return false
	}
	return count > riskIPBurstThreshold
}

// novelCountry reports whether the attempt comes from a country unseen in any
// successful login for this account in the last 30 days. Accounts with no
// located successful login yet are never penalised.
func (s *RiskScorer) novelCountry(ctx context.Context, input RiskInput) bool {
	if input.Account == nil || input.CountryCode == nil || *input.CountryCode == "" {
		return false
	}
	countries, err := s.attempts.SuccessfulCountriesSince(ctx, input.Account.ID, input.At.Add(-riskCountryLookback))
	if err != nil {
		s.logger.Warn("country history lookup failed, scoring neutral", zap.Error(err))
		return false
	}
	if len(countries) == 0 {
		return false
	}
	for _, country := range countries {
		if country == *input.CountryCode {
			return false
		}
	}
	return true
}

// offHours reports whether the attempt lands outside 06:00-22:00 in the
// account's local timezone. Without an account the attempt is scored in UTC.
func offHours(input RiskInput) bool {
	loc := time.UTC
	if input.Account != nil {
		loc = input.Account.Location()
	}
	hour := input.At.In(loc).Hour()
	return hour < riskDayStartHour || hour >= riskDayEndHour
}
