package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
	"github.com/michaelayoade/dotmac-portal-iam/internal/repository"
)

// SessionRepository implements port.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	repo := &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var sessionColumns = []string{
	"id",
	"account_id",
	"tenant_id",
	"token_hash",
	"ip",
	"device_fingerprint",
	"created_at",
	"last_activity_at",
	"expires_at",
	"timeout_seconds",
	"suspicious",
	"revoked_at",
	"revoke_reason",
}

// Create inserts a session record.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	stmt, args, err := r.builder.Insert("portal_iam.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.AccountID,
			session.TenantID,
			session.TokenHash,
			session.IP,
			session.DeviceFingerprint,
			session.CreatedAt,
			session.LastActivityAt,
			session.ExpiresAt,
			int64(session.Timeout/time.Second),
			session.Suspicious,
			session.RevokedAt,
			session.RevokeReason,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by identifier. Returns nil when nothing matches.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("portal_iam.sessions").
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	return r.scanSession(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByTokenHash retrieves the session bound to a refresh-token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("portal_iam.sessions").
		Where(squirrel.Eq{"token_hash": tokenHash}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session by token sql: %w", err)
	}

	return r.scanSession(r.exec.QueryRow(ctx, stmt, args...))
}

// ListActiveByAccount returns live sessions ordered by last activity, newest
// first. The ordering is what the concurrency cap eviction relies on.
func (r *SessionRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("portal_iam.sessions").
		Where(squirrel.Eq{"account_id": accountID}).
		Where("revoked_at IS NULL").
		Where("expires_at > NOW()").
		OrderBy("last_activity_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list active sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := r.scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active sessions: %w", err)
	}
	return sessions, nil
}

// CountActiveByAccount counts live sessions for the account.
func (r *SessionRepository) CountActiveByAccount(ctx context.Context, accountID string) (int, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)").
		From("portal_iam.sessions").
		Where(squirrel.Eq{"account_id": accountID}).
		Where("revoked_at IS NULL").
		Where("expires_at > NOW()").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count active sessions sql: %w", err)
	}

	var count int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("scan active session count: %w", err)
	}
	return int(count), nil
}

// Touch slides the activity marker.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	stmt, args, err := r.builder.Update("portal_iam.sessions").
		Set("last_activity_at", at).
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkSuspicious sets the suspicious flag. One-way; nothing clears it.
func (r *SessionRepository) MarkSuspicious(ctx context.Context, sessionID string) error {
	stmt, args, err := r.builder.Update("portal_iam.sessions").
		Set("suspicious", true).
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark suspicious sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark session suspicious: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Revoke ends a session. Only an unrevoked row matches, so the first
// revocation wins and the rest are no-ops.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, reason string, at time.Time) error {
	stmt, args, err := r.builder.Update("portal_iam.sessions").
		Set("revoked_at", at).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"id": sessionID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForAccount ends every live session for the account.
func (r *SessionRepository) RevokeAllForAccount(ctx context.Context, accountID string, reason string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update("portal_iam.sessions").
		Set("revoked_at", at).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"account_id": accountID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke account sessions sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke account sessions: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// RotateToken swaps the refresh-token hash conditionally on the current one.
// A replayed token matches no row and reports false.
func (r *SessionRepository) RotateToken(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	stmt := `
		UPDATE portal_iam.sessions
		   SET token_hash = $3,
		       expires_at = $4,
		       last_activity_at = NOW()
		 WHERE id = $1
		   AND token_hash = $2
		   AND revoked_at IS NULL
	`

	ct, err := r.exec.Exec(ctx, stmt, sessionID, oldHash, newHash, expiresAt)
	if err != nil {
		return false, fmt.Errorf("rotate session token: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// StoreEvent appends a session lifecycle event.
func (r *SessionRepository) StoreEvent(ctx context.Context, event domain.SessionEvent) error {
	var details any
	if event.Details != nil {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("encode session event details: %w", err)
		}
		details = encoded
	}

	stmt, args, err := r.builder.Insert("portal_iam.session_events").
		Columns("id", "session_id", "account_id", "kind", "occurred_at", "ip", "details").
		Values(event.ID, event.SessionID, event.AccountID, event.Kind, event.At, event.IP, details).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// DeleteEndedBefore removes ended sessions past the retention cutoff.
func (r *SessionRepository) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	stmt := `
		DELETE FROM portal_iam.sessions
		 WHERE expires_at < $1
		    OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`

	ct, err := r.exec.Exec(ctx, stmt, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete ended sessions: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (r *SessionRepository) scanSession(row pgx.Row) (*domain.Session, error) {
	session, err := scanSessionFrom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) scanSessionRow(rows pgx.Rows) (*domain.Session, error) {
	session, err := scanSessionFrom(rows)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

func scanSessionFrom(row pgx.Row) (*domain.Session, error) {
	var (
		session        domain.Session
		timeoutSeconds int64
	)

	if err := row.Scan(
		&session.ID,
		&session.AccountID,
		&session.TenantID,
		&session.TokenHash,
		&session.IP,
		&session.DeviceFingerprint,
		&session.CreatedAt,
		&session.LastActivityAt,
		&session.ExpiresAt,
		&timeoutSeconds,
		&session.Suspicious,
		&session.RevokedAt,
		&session.RevokeReason,
	); err != nil {
		return nil, err
	}

	session.Timeout = time.Duration(timeoutSeconds) * time.Second
	return &session, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
