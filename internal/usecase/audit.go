package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

// AuditRecorder appends login-attempt and session-lifecycle records. It is
// write-only: no caller, including administrators, can update or delete what
// it writes. Append failures are logged for operator attention and never
// retried, so a flaky store cannot double-count an attempt.
type AuditRecorder struct {
	attempts port.AttemptRepository
	sessions port.SessionRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuditRecorder constructs an AuditRecorder.
func NewAuditRecorder(attempts port.AttemptRepository, sessions port.SessionRepository, logger *zap.Logger) *AuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := &AuditRecorder{
		attempts: attempts,
		sessions: sessions,
		logger:   logger,
	}
	recorder.now = func() time.Time { return time.Now().UTC() }
	return recorder
}

// WithClock overrides the internal clock for deterministic tests.
func (r *AuditRecorder) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// RecordAttempt appends one login attempt. Missing ID/CreatedAt fields are
// filled in; everything else is written exactly as supplied.
func (r *AuditRecorder) RecordAttempt(ctx context.Context, attempt domain.LoginAttempt) {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = r.now()
	}

	if err := r.attempts.Append(ctx, attempt); err != nil {
		r.logger.Error("append login attempt failed",
			zap.String("portal_id", attempt.PortalIDAttempted),
			zap.String("tenant_id", attempt.TenantID),
			zap.Error(err),
		)
	}
}

// RecordSessionEvent appends one session lifecycle event.
func (r *AuditRecorder) RecordSessionEvent(ctx context.Context, event domain.SessionEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = r.now()
	}

	if err := r.sessions.StoreEvent(ctx, event); err != nil {
		r.logger.Error("append session event failed",
			zap.String("session_id", event.SessionID),
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
	}
}
