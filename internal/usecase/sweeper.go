package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

// SessionSweeper periodically deletes expired and revoked session rows past
// the retention window. Pure storage hygiene: expired sessions are already
// rejected at validation, so skipping a sweep never affects correctness. Each
// pass is idempotent.
type SessionSweeper struct {
	sessions  port.SessionRepository
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionSweeper constructs a SessionSweeper.
func NewSessionSweeper(sessions port.SessionRepository, interval, retention time.Duration, logger *zap.Logger) *SessionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	sweeper := &SessionSweeper{
		sessions:  sessions,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
	sweeper.now = func() time.Time { return time.Now().UTC() }
	return sweeper
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionSweeper) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a
// no-op.
func (s *SessionSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *SessionSweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single deletion pass.
func (s *SessionSweeper) SweepOnce(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.sessions.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("session sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("session sweep completed",
			zap.Int("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
}
