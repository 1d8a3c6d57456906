package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

var (
	// ErrSessionExpired is returned when a session exists but its fixed
	// expiry has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked is returned when a session has been revoked.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionNotFound is returned when no session matches the lookup.
	ErrSessionNotFound = errors.New("session not found")
)

// SessionSettings carries the tunables the session manager needs.
type SessionSettings struct {
	DefaultTimeout        time.Duration
	RememberMeDuration    time.Duration
	MaxConcurrentDefault  int
	ImpossibleVelocityKmh float64
	RevocationTTL         time.Duration
}

// SessionContext is the request context a new session binds to.
type SessionContext struct {
	IP                *string
	DeviceFingerprint *string
	RememberMe        bool
}

// SessionService governs the session lifecycle: creation with a concurrency
// cap, sliding-activity validation, suspicious-activity flagging, rotation,
// and revocation. Revocations are pushed into the revocation cache so token
// verification rejects them without waiting for natural expiry.
type SessionService struct {
	sessions   port.SessionRepository
	revocation port.SessionRevocationCache
	geo        port.GeoResolver
	events     port.EventPublisher
	audit      *AuditRecorder
	settings   SessionSettings
	logger     *zap.Logger
	now        func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(
	sessions port.SessionRepository,
	revocation port.SessionRevocationCache,
	geo port.GeoResolver,
	events port.EventPublisher,
	audit *AuditRecorder,
	settings SessionSettings,
	logger *zap.Logger,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.DefaultTimeout <= 0 {
		settings.DefaultTimeout = 30 * time.Minute
	}
	if settings.RememberMeDuration <= 0 {
		settings.RememberMeDuration = 30 * 24 * time.Hour
	}
	if settings.MaxConcurrentDefault <= 0 {
		settings.MaxConcurrentDefault = 5
	}
	if settings.ImpossibleVelocityKmh <= 0 {
		settings.ImpossibleVelocityKmh = 900
	}
	if settings.RevocationTTL <= 0 {
		settings.RevocationTTL = 30 * 24 * time.Hour
	}
	svc := &SessionService{
		sessions:   sessions,
		revocation: revocation,
		geo:        geo,
		events:     events,
		audit:      audit,
		settings:   settings,
		logger:     logger,
	}
	svc.now = func() time.Time { return time.Now().UTC() }
	return svc
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Prepare builds an unsaved session for the account. The expiry window is the
// account's session timeout, or the remember-me duration when requested; the
// window is recorded on the session so refresh extends by the same amount.
func (s *SessionService) Prepare(account *domain.Account, sctx SessionContext) *domain.Session {
	now := s.now()
	window := account.SessionTimeout
	if window <= 0 {
		window = s.settings.DefaultTimeout
	}
	if sctx.RememberMe {
		window = s.settings.RememberMeDuration
	}
	return &domain.Session{
		ID:                uuid.NewString(),
		AccountID:         account.ID,
		TenantID:          account.TenantID,
		IP:                sctx.IP,
		DeviceFingerprint: sctx.DeviceFingerprint,
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(window),
		Timeout:           window,
	}
}

// Persist stores a prepared session, records the creation event, and enforces
// the per-account concurrency cap. The cap is enforced after creation so the
// newest session always survives.
func (s *SessionService) Persist(ctx context.Context, account *domain.Account, session *domain.Session) error {
	if err := s.sessions.Create(ctx, *session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if s.audit != nil {
		s.audit.RecordSessionEvent(ctx, domain.SessionEvent{
			SessionID: session.ID,
			AccountID: session.AccountID,
			Kind:      domain.SessionEventCreated,
			At:        session.CreatedAt,
			IP:        session.IP,
		})
	}

	if err := s.enforceLimit(ctx, account, session.ID); err != nil {
		s.logger.Error("enforce session limit failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
	return nil
}

// Validate resolves a session by id and confirms it is still live. Activity
// slides as a side effect; the fixed expiry does not move. The current
// request IP feeds suspicious-activity detection, which flags but never
// revokes.
func (s *SessionService) Validate(ctx context.Context, sessionID string, currentIP *string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !session.ExpiresAt.After(now) {
		return nil, ErrSessionExpired
	}

	s.detectSuspicious(ctx, session, currentIP, now)

	if err := s.sessions.Touch(ctx, sessionID, now); err != nil {
		s.logger.Warn("touch session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	session.Touch(now)

	return session, nil
}

// Rotate swaps the refresh-token hash bound to the session and moves the
// expiry to expiresAt, normally one original window from now. The swap is
// conditional on the old hash so a replayed refresh token loses; false means
// the caller lost the race or presented a stale token.
func (s *SessionService) Rotate(ctx context.Context, session *domain.Session, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	now := s.now()

	rotated, err := s.sessions.RotateToken(ctx, session.ID, oldHash, newHash, expiresAt)
	if err != nil {
		return false, fmt.Errorf("rotate session token: %w", err)
	}
	if !rotated {
		return false, nil
	}

	session.TokenHash = newHash
	session.ExpiresAt = expiresAt
	session.LastActivityAt = now

	if s.audit != nil {
		s.audit.RecordSessionEvent(ctx, domain.SessionEvent{
			SessionID: session.ID,
			AccountID: session.AccountID,
			Kind:      domain.SessionEventRefreshed,
			At:        now,
			IP:        session.IP,
		})
	}
	return true, nil
}

// GetByTokenHash resolves a session from a refresh-token hash.
func (s *SessionService) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("load session by token: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Revoke ends one session. Idempotent: revoking an already revoked session is
// a no-op.
func (s *SessionService) Revoke(ctx context.Context, sessionID, reason, revokedBy string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.RevokedAt != nil {
		return nil
	}

	now := s.now()
	if err := s.sessions.Revoke(ctx, sessionID, reason, now); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.markRevoked(ctx, sessionID, reason)

	if s.audit != nil {
		s.audit.RecordSessionEvent(ctx, domain.SessionEvent{
			SessionID: sessionID,
			AccountID: session.AccountID,
			Kind:      domain.SessionEventRevoked,
			At:        now,
			IP:        session.IP,
			Details:   map[string]any{"reason": reason, "revoked_by": revokedBy},
		})
	}
	s.publishRevoked(ctx, session, reason, revokedBy, now)
	return nil
}

// RevokeAllForAccount ends every active session for the account.
func (s *SessionService) RevokeAllForAccount(ctx context.Context, accountID, reason string) (int, error) {
	return s.RevokeAllExcept(ctx, accountID, "", reason)
}

// RevokeAllExcept ends every active session for the account except the one
// identified by keepSessionID. Returns how many sessions were revoked.
func (s *SessionService) RevokeAllExcept(ctx context.Context, accountID, keepSessionID, reason string) (int, error) {
	active, err := s.sessions.ListActiveByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	now := s.now()
	revoked := 0
	for i := range active {
		session := active[i]
		if session.ID == keepSessionID {
			continue
		}
		if err := s.sessions.Revoke(ctx, session.ID, reason, now); err != nil {
			s.logger.Error("revoke session failed", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		s.markRevoked(ctx, session.ID, reason)
		if s.audit != nil {
			s.audit.RecordSessionEvent(ctx, domain.SessionEvent{
				SessionID: session.ID,
				AccountID: accountID,
				Kind:      domain.SessionEventRevoked,
				At:        now,
				IP:        session.IP,
				Details:   map[string]any{"reason": reason},
			})
		}
		s.publishRevoked(ctx, &session, reason, "system", now)
		revoked++
	}
	return revoked, nil
}

// ListActive returns the live sessions for an account, most recently active
// first.
func (s *SessionService) ListActive(ctx context.Context, accountID string) ([]domain.Session, error) {
	sessions, err := s.sessions.ListActiveByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// enforceLimit revokes the oldest sessions past the account's concurrency
// cap. The session identified by newestID is never evicted.
func (s *SessionService) enforceLimit(ctx context.Context, account *domain.Account, newestID string) error {
	limit := account.MaxConcurrentSessions
	if limit <= 0 {
		limit = s.settings.MaxConcurrentDefault
	}

	active, err := s.sessions.ListActiveByAccount(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	if len(active) <= limit {
		return nil
	}

	// Repository ordering is last_activity_at descending; evict from the
	// tail, skipping the session just created.
	now := s.now()
	excess := len(active) - limit
	for i := len(active) - 1; i >= 0 && excess > 0; i-- {
		session := active[i]
		if session.ID == newestID {
			continue
		}
		if err := s.sessions.Revoke(ctx, session.ID, domain.RevokeReasonConcurrentLimit, now); err != nil {
			s.logger.Error("evict session failed", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		s.markRevoked(ctx, session.ID, domain.RevokeReasonConcurrentLimit)
		if s.audit != nil {
			s.audit.RecordSessionEvent(ctx, domain.SessionEvent{
				SessionID: session.ID,
				AccountID: account.ID,
				Kind:      domain.SessionEventEvicted,
				At:        now,
				IP:        session.IP,
			})
		}
		s.publishRevoked(ctx, &session, domain.RevokeReasonConcurrentLimit, "system", now)
		excess--
	}
	return nil
}

// detectSuspicious flags the session when the request IP changed or the move
// between the two located IPs implies impossible travel speed. Flagging is
// one-way and never revokes.
func (s *SessionService) detectSuspicious(ctx context.Context, session *domain.Session, currentIP *string, now time.Time) {
	if session.Suspicious || currentIP == nil || *currentIP == "" {
		return
	}
	if session.IP == nil || *session.IP == *currentIP {
		return
	}

	reason := "ip_change"
	if s.impossibleVelocity(ctx, *session.IP, *currentIP, now.Sub(session.LastActivityAt)) {
		reason = "impossible_velocity"
	}

	if err := s.sessions.MarkSuspicious(ctx, session.ID); err != nil {
		s.logger.Error("mark session suspicious failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	session.Suspicious = true

	if s.audit != nil {
		s.audit.RecordSessionEvent(ctx, domain.SessionEvent{
			SessionID: session.ID,
			AccountID: session.AccountID,
			Kind:      domain.SessionEventSuspicious,
			At:        now,
			IP:        currentIP,
			Details:   map[string]any{"reason": reason, "previous_ip": *session.IP},
		})
	}

	if s.events != nil {
		event := domain.SuspiciousSessionEvent{
			EventID:    uuid.NewString(),
			SessionID:  session.ID,
			AccountID:  session.AccountID,
			TenantID:   session.TenantID,
			Reason:     reason,
			PreviousIP: session.IP,
			CurrentIP:  currentIP,
			ObservedAt: now,
		}
		if err := s.events.PublishSuspiciousSession(ctx, event); err != nil {
			s.logger.Error("publish suspicious session event failed", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
}

// impossibleVelocity reports whether covering the distance between two
// located IPs within elapsed time would require faster-than-airliner travel.
// Unresolvable IPs are treated as plausible.
func (s *SessionService) impossibleVelocity(ctx context.Context, previousIP, currentIP string, elapsed time.Duration) bool {
	if s.geo == nil || elapsed <= 0 {
		return false
	}
	from, err := s.geo.Resolve(ctx, previousIP)
	if err != nil || from == nil {
		return false
	}
	to, err := s.geo.Resolve(ctx, currentIP)
	if err != nil || to == nil {
		return false
	}

	distanceKm := haversineKm(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	speed := distanceKm / elapsed.Hours()
	return speed > s.settings.ImpossibleVelocityKmh
}

func (s *SessionService) markRevoked(ctx context.Context, sessionID, reason string) {
	if s.revocation == nil {
		return
	}
	if err := s.revocation.MarkRevoked(ctx, sessionID, reason, s.settings.RevocationTTL); err != nil {
		s.logger.Warn("mark session revoked in cache failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *SessionService) publishRevoked(ctx context.Context, session *domain.Session, reason, revokedBy string, at time.Time) {
	if s.events == nil {
		return
	}
	event := domain.SessionRevokedEvent{
		EventID:   uuid.NewString(),
		SessionID: session.ID,
		AccountID: session.AccountID,
		TenantID:  session.TenantID,
		Reason:    reason,
		RevokedBy: revokedBy,
		RevokedAt: at,
		IPAddress: session.IP,
	}
	if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
		s.logger.Error("publish session revoked event failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
