// Package memory implements assistant storage with in-process maps.
//
// It serves single-process deployments and tests. Anything that must
// survive a redirect round trip across processes needs the SQLite store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tailortalk/assistant/internal/services/assistant/storage"
)

// Store keeps all records in memory, guarded by a single mutex.
type Store struct {
	mu       sync.Mutex
	tokens   map[string]storage.TokenRow
	states   map[string]storage.OAuthStateRow
	messages map[string][]storage.MessageRow
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tokens:   make(map[string]storage.TokenRow),
		states:   make(map[string]storage.OAuthStateRow),
		messages: make(map[string][]storage.MessageRow),
	}
}

// PutToken upserts the sealed token payload for a session.
func (s *Store) PutToken(_ context.Context, row storage.TokenRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[row.SessionID] = row
	return nil
}

// GetToken fetches the sealed token payload for a session.
func (s *Store) GetToken(_ context.Context, sessionID string) (storage.TokenRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tokens[sessionID]
	if !ok {
		return storage.TokenRow{}, storage.ErrNotFound
	}
	return row, nil
}

// DeleteToken removes the token payload for a session.
func (s *Store) DeleteToken(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, sessionID)
	return nil
}

// PutState stores a new authorization state row.
func (s *Store) PutState(_ context.Context, row storage.OAuthStateRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[row.StateHash] = row
	return nil
}

// GetState fetches one authorization state row by hash.
func (s *Store) GetState(_ context.Context, stateHash string) (storage.OAuthStateRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.states[stateHash]
	if !ok {
		return storage.OAuthStateRow{}, storage.ErrNotFound
	}
	return row, nil
}

// ConsumeState marks an unconsumed, unexpired state as consumed under the
// store mutex, so exactly one caller succeeds even for duplicate callbacks.
func (s *Store) ConsumeState(_ context.Context, stateHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.states[stateHash]
	if !ok || row.Consumed || !row.ExpiresAt.After(now) {
		return storage.ErrNotFound
	}
	row.Consumed = true
	s.states[stateHash] = row
	return nil
}

// PurgeExpiredStates removes states whose TTL elapsed without use.
func (s *Store) PurgeExpiredStates(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, row := range s.states {
		if !row.ExpiresAt.After(now) {
			delete(s.states, hash)
		}
	}
	return nil
}

// AppendMessage persists one chat transcript entry.
func (s *Store) AppendMessage(_ context.Context, row storage.MessageRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[row.SessionID] = append(s.messages[row.SessionID], row)
	return nil
}

// ListMessages returns the session transcript ordered oldest first.
func (s *Store) ListMessages(_ context.Context, sessionID string) ([]storage.MessageRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.messages[sessionID]
	out := make([]storage.MessageRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteMessages clears the transcript for a session.
func (s *Store) DeleteMessages(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, sessionID)
	return nil
}
