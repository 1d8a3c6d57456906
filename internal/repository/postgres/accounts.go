package postgres

import (
	"context"
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

// AccountRepository implements port.AccountRepository using PostgreSQL.
// Lookups return a nil account when nothing matches; targeted mutations on a
// missing row return repository.ErrNotFound.
type AccountRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	repo := &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var accountColumns = []string{
	"id",
	"tenant_id",
	"portal_id",
	"account_type",
	"status",
	"password_hash",
	"must_change_password",
	"timezone",
	"session_timeout_seconds",
	"max_concurrent_sessions",
	"failed_attempts",
	"locked_until",
	"two_factor_secret",
	"backup_codes",
	"created_at",
	"activated_at",
	"last_login",
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	stmt, args, err := r.builder.Insert("portal_iam.accounts").
		Columns(accountColumns...).
		Values(
			account.ID,
			account.TenantID,
			account.PortalID,
			account.Type,
			account.Status,
			account.PasswordHash,
			account.MustChangePassword,
			account.Timezone,
			int64(account.SessionTimeout/time.Second),
			account.MaxConcurrentSessions,
			account.Security.FailedAttempts,
			account.Security.LockedUntil,
			account.Security.TwoFactorSecret,
			account.Security.BackupCodes,
			account.CreatedAt,
			account.ActivatedAt,
			account.LastLogin,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From("portal_iam.accounts").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	return r.scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByPortalID retrieves an account by its portal identifier within a tenant.
func (r *AccountRepository) GetByPortalID(ctx context.Context, tenantID, portalID string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From("portal_iam.accounts").
		Where(squirrel.Eq{"tenant_id": tenantID, "portal_id": portalID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by portal id sql: %w", err)
	}

	return r.scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

// PortalIDExists reports whether a portal id is already taken in the tenant.
func (r *AccountRepository) PortalIDExists(ctx context.Context, tenantID, portalID string) (bool, error) {
	stmt, args, err := r.builder.
		Select("1").
		From("portal_iam.accounts").
		Where(squirrel.Eq{"tenant_id": tenantID, "portal_id": portalID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build portal id exists sql: %w", err)
	}

	var one int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query portal id exists: %w", err)
	}
	return true, nil
}

// RecordFailure increments the failure counter and applies the lock
// transition in one conditional update, so two concurrent failures can never
// under-count. The lock expiry passed in only lands when the threshold is
// crossed.
func (r *AccountRepository) RecordFailure(ctx context.Context, id string, threshold int, lockedUntil time.Time) (*port.FailureOutcome, error) {
	stmt := `
		UPDATE portal_iam.accounts
		   SET failed_attempts = failed_attempts + 1,
		       status = CASE WHEN failed_attempts + 1 >= $2 THEN 'locked' ELSE status END,
		       locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END
		 WHERE id = $1
		RETURNING failed_attempts, status, locked_until
	`

	var outcome port.FailureOutcome
	if err := r.exec.QueryRow(ctx, stmt, id, threshold, lockedUntil).Scan(
		&outcome.FailedAttempts,
		&outcome.Status,
		&outcome.LockedUntil,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("record login failure: %w", err)
	}
	return &outcome, nil
}

// ResetFailures clears the counter and lock after a successful login.
func (r *AccountRepository) ResetFailures(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("portal_iam.accounts").
		Set("failed_attempts", 0).
		Set("locked_until", nil).
		Set("last_login", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset failures sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Unlock restores a locked account to active and clears the lock window.
func (r *AccountRepository) Unlock(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("portal_iam.accounts").
		Set("status", domain.AccountStatusActive).
		Set("locked_until", nil).
		Where(squirrel.Eq{"id": id, "status": domain.AccountStatusLocked}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build unlock account sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStatus moves the account to the supplied status. The first transition
// into active stamps activated_at.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	stmt, args, err := r.builder.Update("portal_iam.accounts").
		Set("status", status).
		Set("activated_at", squirrel.Expr(
			"CASE WHEN ? = 'active' AND activated_at IS NULL THEN NOW() ELSE activated_at END",
			status,
		)).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account status sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdatePassword stores a new password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, mustChange bool, changedAt time.Time) error {
	stmt, args, err := r.builder.Update("portal_iam.accounts").
		Set("password_hash", passwordHash).
		Set("must_change_password", mustChange).
		Set("password_changed_at", changedAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetMustChangePassword flags or clears the forced password change.
func (r *AccountRepository) SetMustChangePassword(ctx context.Context, id string, mustChange bool) error {
	stmt, args, err := r.builder.Update("portal_iam.accounts").
		Set("must_change_password", mustChange).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set must change password sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("set must change password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetTwoFactor persists the confirmed TOTP secret and the hashed backup codes.
func (r *AccountRepository) SetTwoFactor(ctx context.Context, id string, secret string, backupCodeHashes []string) error {
	stmt, args, err := r.builder.Update("portal_iam.accounts").
		Set("two_factor_secret", secret).
		Set("backup_codes", backupCodeHashes).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set two factor sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("set two factor: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ConsumeBackupCode removes one code hash from the account's set. The row
// matches only while the hash is still present, so of two concurrent
// consumers exactly one sees an affected row.
func (r *AccountRepository) ConsumeBackupCode(ctx context.Context, id string, codeHash string) (bool, error) {
	stmt := `
		UPDATE portal_iam.accounts
		   SET backup_codes = array_remove(backup_codes, $2)
		 WHERE id = $1
		   AND $2 = ANY(backup_codes)
	`

	ct, err := r.exec.Exec(ctx, stmt, id, codeHash)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// AppendSecurityNote adds one entry to the append-only ledger.
func (r *AccountRepository) AppendSecurityNote(ctx context.Context, note domain.SecurityNote) error {
	stmt, args, err := r.builder.Insert("portal_iam.account_security_notes").
		Columns("id", "account_id", "note", "author", "created_at").
		Values(note.ID, note.AccountID, note.Note, note.Author, note.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert security note sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert security note: %w", err)
	}
	return nil
}

// ListSecurityNotes returns the ledger for an account, newest first.
func (r *AccountRepository) ListSecurityNotes(ctx context.Context, accountID string, limit int) ([]domain.SecurityNote, error) {
	query := r.builder.Select("id", "account_id", "note", "author", "created_at").
		From("portal_iam.account_security_notes").
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("created_at DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list security notes sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query security notes: %w", err)
	}
	defer rows.Close()

	notes := make([]domain.SecurityNote, 0)
	for rows.Next() {
		var note domain.SecurityNote
		if err := rows.Scan(&note.ID, &note.AccountID, &note.Note, &note.Author, &note.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan security note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security notes: %w", err)
	}
	return notes, nil
}

func (r *AccountRepository) scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account        domain.Account
		timeoutSeconds int64
	)

	if err := row.Scan(
		&account.ID,
		&account.TenantID,
		&account.PortalID,
		&account.Type,
		&account.Status,
		&account.PasswordHash,
		&account.MustChangePassword,
		&account.Timezone,
		&timeoutSeconds,
		&account.MaxConcurrentSessions,
		&account.Security.FailedAttempts,
		&account.Security.LockedUntil,
		&account.Security.TwoFactorSecret,
		&account.Security.BackupCodes,
		&account.CreatedAt,
		&account.ActivatedAt,
		&account.LastLogin,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	account.SessionTimeout = time.Duration(timeoutSeconds) * time.Second
	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
