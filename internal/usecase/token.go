package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
	"github.com/michaelayoade/dotmac-portal-iam/internal/infra/security"
)

// Token type discriminators carried in the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	// ErrInvalidToken is returned for malformed, forged, or expired tokens
	// and for tokens of the wrong type.
	ErrInvalidToken = errors.New("invalid token")
	// ErrLivenessUnknown is returned under the strict degradation policy
	// when session liveness cannot be confirmed.
	ErrLivenessUnknown = errors.New("session liveness unknown")
)

// PortalClaims is the payload of both access and refresh tokens. Subject is
// the account id.
type PortalClaims struct {
	PortalID  string `json:"pid"`
	TenantID  string `json:"tid"`
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is the result of minting tokens for a session.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenService mints and verifies RS256-signed token pairs. A valid signature
// is necessary but never sufficient: access-token verification always
// re-checks that the bound session is still live, first against the
// revocation cache and then, as the degradation policy allows, against the
// durable store.
type TokenService struct {
	keys       security.KeyProvider
	sessions   port.SessionRepository
	revocation port.SessionRevocationCache
	policy     domain.DegradationPolicy
	issuer     string
	accessTTL  time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(
	keys security.KeyProvider,
	sessions port.SessionRepository,
	revocation port.SessionRevocationCache,
	policy domain.DegradationPolicy,
	issuer string,
	accessTTL time.Duration,
	logger *zap.Logger,
) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	svc := &TokenService{
		keys:       keys,
		sessions:   sessions,
		revocation: revocation,
		policy:     policy,
		issuer:     issuer,
		accessTTL:  accessTTL,
		logger:     logger,
	}
	svc.now = func() time.Time { return time.Now().UTC() }
	return svc
}

// WithClock overrides the internal clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Mint issues an access/refresh pair bound to the session. The refresh token
// expires with the session itself so it can never outlive the session row.
func (s *TokenService) Mint(account *domain.Account, session *domain.Session) (*TokenPair, error) {
	now := s.now()
	accessExpiry := now.Add(s.accessTTL)
	if accessExpiry.After(session.ExpiresAt) {
		accessExpiry = session.ExpiresAt
	}

	access, err := s.sign(account, session, TokenTypeAccess, now, accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(account, session, TokenTypeRefresh, now, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: session.ExpiresAt,
	}, nil
}

// ParseClaims verifies the signature and expiry of a token and asserts its
// type discriminator. No liveness check happens here.
func (s *TokenService) ParseClaims(tokenString, expectedType string) (*PortalClaims, error) {
	claims := &PortalClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		return s.keys.GetVerificationKey(kid)
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expectedType {
		return nil, ErrInvalidToken
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyAccess validates an access token end to end: signature, expiry, type,
// and session liveness. Revoked or expired sessions reject the token even
// while the signature remains cryptographically valid.
func (s *TokenService) VerifyAccess(ctx context.Context, tokenString string) (*PortalClaims, error) {
	claims, err := s.ParseClaims(tokenString, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	if err := s.checkLiveness(ctx, claims.SessionID); err != nil {
		return nil, err
	}
	return claims, nil
}

// checkLiveness consults the revocation cache first. A miss or cache failure
// falls through to the durable store under the lenient policy; strict mode
// refuses to answer when liveness cannot be confirmed anywhere.
func (s *TokenService) checkLiveness(ctx context.Context, sessionID string) error {
	if s.revocation != nil {
		revoked, _, err := s.revocation.IsRevoked(ctx, sessionID)
		if err == nil {
			if revoked {
				return ErrSessionRevoked
			}
		} else {
			s.logger.Warn("revocation cache lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		s.logger.Warn("session liveness lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		if !s.policy.AllowsFallback(domain.DegradationReasonSessionLookupFailure) {
			return ErrLivenessUnknown
		}
		// Lenient mode accepts a signed, unexpired token when neither the
		// cache nor the store can answer.
		return nil
	}
	if session == nil || session.RevokedAt != nil {
		return ErrSessionRevoked
	}
	if !session.ExpiresAt.After(s.now()) {
		return ErrSessionExpired
	}
	return nil
}

func (s *TokenService) sign(account *domain.Account, session *domain.Session, tokenType string, issuedAt, expiresAt time.Time) (string, error) {
	claims := PortalClaims{
		PortalID:  account.PortalID,
		TenantID:  account.TenantID,
		SessionID: session.ID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   account.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	key, err := s.keys.GetSigningKey()
	if err != nil {
		return "", fmt.Errorf("load signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keys.SigningKID()
	return token.SignedString(key)
}
