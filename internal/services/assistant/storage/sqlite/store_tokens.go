package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tailortalk/assistant/internal/services/assistant/storage"
)

// PutToken upserts the sealed token payload for a session.
func (s *Store) PutToken(ctx context.Context, row storage.TokenRow) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(row.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(row.Ciphertext) == "" {
		return fmt.Errorf("ciphertext is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO session_tokens (session_id, ciphertext, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	ciphertext = excluded.ciphertext,
	updated_at = excluded.updated_at
`, row.SessionID, row.Ciphertext, toMillis(row.CreatedAt), toMillis(row.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

// GetToken fetches the sealed token payload for a session.
func (s *Store) GetToken(ctx context.Context, sessionID string) (storage.TokenRow, error) {
	if err := s.ensureDB(); err != nil {
		return storage.TokenRow{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.TokenRow{}, fmt.Errorf("session id is required")
	}

	var (
		row       storage.TokenRow
		createdAt int64
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT session_id, ciphertext, created_at, updated_at
FROM session_tokens
WHERE session_id = ?
`, sessionID).Scan(&row.SessionID, &row.Ciphertext, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TokenRow{}, storage.ErrNotFound
		}
		return storage.TokenRow{}, fmt.Errorf("get token: %w", err)
	}
	row.CreatedAt = fromMillis(createdAt)
	row.UpdatedAt = fromMillis(updatedAt)
	return row, nil
}

// DeleteToken removes the token payload for a session. Absent rows are fine.
func (s *Store) DeleteToken(ctx context.Context, sessionID string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM session_tokens WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
