package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/domain"
	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

// AttemptRepository persists the append-only login-attempt trail.
type AttemptRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAttemptRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAttemptRepository(exec pgExecutor) *AttemptRepository {
	repo := &AttemptRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *AttemptRepository) WithTx(tx pgx.Tx) *AttemptRepository {
	if tx == nil {
		return r
	}
	return &AttemptRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var attemptColumns = []string{
	"id",
	"tenant_id",
	"account_id",
	"portal_id_attempted",
	"success",
	"failure_reason",
	"ip",
	"device_fingerprint",
	"country_code",
	"risk_score",
	"two_factor_used",
	"created_at",
}

// Append inserts a login attempt. There is deliberately no update or delete.
func (r *AttemptRepository) Append(ctx context.Context, attempt domain.LoginAttempt) error {
	stmt, args, err := r.builder.Insert("portal_iam.login_attempts").
		Columns(attemptColumns...).
		Values(
			attempt.ID,
			attempt.TenantID,
			attempt.AccountID,
			attempt.PortalIDAttempted,
			attempt.Success,
			attempt.FailureReason,
			attempt.IP,
			attempt.DeviceFingerprint,
			attempt.CountryCode,
			attempt.RiskScore,
			attempt.TwoFactorUsed,
			attempt.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert attempt sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// ListRecentByAccount returns the latest attempts for the account, newest first.
func (r *AttemptRepository) ListRecentByAccount(ctx context.Context, accountID string, limit int) ([]domain.LoginAttempt, error) {
	if limit <= 0 {
		limit = 20
	}

	stmt, args, err := r.builder.
		Select(attemptColumns...).
		From("portal_iam.login_attempts").
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list attempts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query login attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.LoginAttempt, 0, limit)
	for rows.Next() {
		var attempt domain.LoginAttempt
		if err := rows.Scan(
			&attempt.ID,
			&attempt.TenantID,
			&attempt.AccountID,
			&attempt.PortalIDAttempted,
			&attempt.Success,
			&attempt.FailureReason,
			&attempt.IP,
			&attempt.DeviceFingerprint,
			&attempt.CountryCode,
			&attempt.RiskScore,
			&attempt.TwoFactorUsed,
			&attempt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan login attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate login attempts: %w", err)
	}
	return attempts, nil
}

// CountByIPSince counts attempts originating from one IP across the tenant.
func (r *AttemptRepository) CountByIPSince(ctx context.Context, tenantID, ip string, since time.Time) (int, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)").
		From("portal_iam.login_attempts").
		Where(squirrel.Eq{"tenant_id": tenantID, "ip": ip}).
		Where(squirrel.GtOrEq{"created_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count attempts by ip sql: %w", err)
	}

	var count int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("scan attempt count: %w", err)
	}
	return int(count), nil
}

// SuccessfulCountriesSince lists distinct countries seen on successful logins.
func (r *AttemptRepository) SuccessfulCountriesSince(ctx context.Context, accountID string, since time.Time) ([]string, error) {
	stmt, args, err := r.builder.
		Select("DISTINCT country_code").
		From("portal_iam.login_attempts").
		Where(squirrel.Eq{"account_id": accountID, "success": true}).
		Where(squirrel.GtOrEq{"created_at": since}).
		Where("country_code IS NOT NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build distinct countries sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query successful countries: %w", err)
	}
	defer rows.Close()

	countries := make([]string, 0)
	for rows.Next() {
		var country string
		if err := rows.Scan(&country); err != nil {
			return nil, fmt.Errorf("scan country code: %w", err)
		}
		countries = append(countries, country)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate successful countries: %w", err)
	}
	return countries, nil
}

var _ port.AttemptRepository = (*AttemptRepository)(nil)
