package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/michaelayoade/dotmac-portal-iam/internal/core/port"
)

const defaultTwoFactorSetupPrefix = "2fa:setup"

// TwoFactorSetupStore keeps pending 2FA enrolments in Redis. A pending secret
// never touches PostgreSQL; an enrolment the user abandons simply expires with
// its key.
type TwoFactorSetupStore struct {
	client *red.Client
	prefix string
}

// NewTwoFactorSetupStore constructs a Redis-backed pending-enrolment store.
func NewTwoFactorSetupStore(client *red.Client, keyPrefix string) *TwoFactorSetupStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultTwoFactorSetupPrefix
	}

	return &TwoFactorSetupStore{client: client, prefix: prefix}
}

type pendingTwoFactorRecord struct {
	AccountID        string    `json:"account_id"`
	Secret           string    `json:"secret"`
	BackupCodeHashes []string  `json:"backup_code_hashes"`
	CreatedAt        time.Time `json:"created_at"`
}

// Put stores a pending enrolment, replacing any previous one for the account.
func (s *TwoFactorSetupStore) Put(ctx context.Context, pending port.PendingTwoFactor, ttl time.Duration) error {
	key := s.key(pending.AccountID)
	if key == "" {
		return fmt.Errorf("account id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	payload, err := json.Marshal(pendingTwoFactorRecord{
		AccountID:        pending.AccountID,
		Secret:           pending.Secret,
		BackupCodeHashes: pending.BackupCodeHashes,
		CreatedAt:        pending.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode pending enrolment: %w", err)
	}

	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set pending enrolment: %w", err)
	}
	return nil
}

// Get returns the pending enrolment for the account, or nil when none exists.
func (s *TwoFactorSetupStore) Get(ctx context.Context, accountID string) (*port.PendingTwoFactor, error) {
	key := s.key(accountID)
	if key == "" {
		return nil, fmt.Errorf("account id is required")
	}

	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get pending enrolment: %w", err)
	}

	var record pendingTwoFactorRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode pending enrolment: %w", err)
	}

	return &port.PendingTwoFactor{
		AccountID:        record.AccountID,
		Secret:           record.Secret,
		BackupCodeHashes: record.BackupCodeHashes,
		CreatedAt:        record.CreatedAt,
	}, nil
}

// Delete removes the pending enrolment after confirmation or cancellation.
func (s *TwoFactorSetupStore) Delete(ctx context.Context, accountID string) error {
	key := s.key(accountID)
	if key == "" {
		return fmt.Errorf("account id is required")
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete pending enrolment: %w", err)
	}
	return nil
}

func (s *TwoFactorSetupStore) key(accountID string) string {
	trimmed := strings.TrimSpace(accountID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed)
}

var _ port.TwoFactorSetupStore = (*TwoFactorSetupStore)(nil)
