package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/tailortalk/assistant/internal/services/assistant/storage"
)

// AppendMessage persists one chat transcript entry.
func (s *Store) AppendMessage(ctx context.Context, row storage.MessageRow) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(row.ID) == "" {
		return fmt.Errorf("message id is required")
	}
	if strings.TrimSpace(row.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(row.Sender) == "" {
		return fmt.Errorf("sender is required")
	}

	errorFlag := 0
	if row.ErrorFlag {
		errorFlag = 1
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO chat_messages (id, session_id, sender, text, error_flag, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, row.ID, row.SessionID, row.Sender, row.Text, errorFlag, toMillis(row.CreatedAt))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns the session transcript ordered oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]storage.MessageRow, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, session_id, sender, text, error_flag, created_at
FROM chat_messages
WHERE session_id = ?
ORDER BY created_at ASC, id ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []storage.MessageRow
	for rows.Next() {
		var (
			row       storage.MessageRow
			errorFlag int
			createdAt int64
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Sender, &row.Text, &errorFlag, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		row.ErrorFlag = errorFlag != 0
		row.CreatedAt = fromMillis(createdAt)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// DeleteMessages clears the transcript for a session.
func (s *Store) DeleteMessages(ctx context.Context, sessionID string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
