package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tailortalk/assistant/internal/services/assistant/storage"
)

// PutState stores a new authorization state row.
func (s *Store) PutState(ctx context.Context, row storage.OAuthStateRow) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(row.StateHash) == "" {
		return fmt.Errorf("state hash is required")
	}
	if strings.TrimSpace(row.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if row.ExpiresAt.IsZero() {
		return fmt.Errorf("expires at is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth_states (state_hash, session_id, consumed, created_at, expires_at)
VALUES (?, ?, 0, ?, ?)
`, row.StateHash, row.SessionID, toMillis(row.CreatedAt), toMillis(row.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put oauth state: %w", err)
	}
	return nil
}

// GetState fetches one authorization state row by hash.
func (s *Store) GetState(ctx context.Context, stateHash string) (storage.OAuthStateRow, error) {
	if err := s.ensureDB(); err != nil {
		return storage.OAuthStateRow{}, err
	}
	stateHash = strings.TrimSpace(stateHash)
	if stateHash == "" {
		return storage.OAuthStateRow{}, fmt.Errorf("state hash is required")
	}

	var (
		row       storage.OAuthStateRow
		consumed  int
		createdAt int64
		expiresAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT state_hash, session_id, consumed, created_at, expires_at
FROM oauth_states
WHERE state_hash = ?
`, stateHash).Scan(&row.StateHash, &row.SessionID, &consumed, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OAuthStateRow{}, storage.ErrNotFound
		}
		return storage.OAuthStateRow{}, fmt.Errorf("get oauth state: %w", err)
	}
	row.Consumed = consumed != 0
	row.CreatedAt = fromMillis(createdAt)
	row.ExpiresAt = fromMillis(expiresAt)
	return row, nil
}

// ConsumeState marks an unconsumed, unexpired state as consumed. The guarded
// UPDATE makes consumption atomic: under duplicate callbacks exactly one
// caller observes success.
func (s *Store) ConsumeState(ctx context.Context, stateHash string, now time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	stateHash = strings.TrimSpace(stateHash)
	if stateHash == "" {
		return fmt.Errorf("state hash is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE oauth_states
SET consumed = 1
WHERE state_hash = ? AND consumed = 0 AND expires_at > ?
`, stateHash, toMillis(now))
	if err != nil {
		return fmt.Errorf("consume oauth state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume oauth state rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PurgeExpiredStates removes states whose TTL elapsed without use.
func (s *Store) PurgeExpiredStates(ctx context.Context, now time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, toMillis(now)); err != nil {
		return fmt.Errorf("purge oauth states: %w", err)
	}
	return nil
}
