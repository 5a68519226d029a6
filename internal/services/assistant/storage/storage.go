// Package storage defines persistence contracts for the assistant service.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// TokenRow holds one sealed token payload for a session. The ciphertext is
// opaque to storage; sealing and unsealing happen in the token package.
type TokenRow struct {
	SessionID  string
	Ciphertext string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TokenStore persists sealed token payloads keyed by session ID.
//
// Writes must be atomic with respect to concurrent reads for the same
// session: a reader must never observe a partially written row.
type TokenStore interface {
	PutToken(ctx context.Context, row TokenRow) error
	GetToken(ctx context.Context, sessionID string) (TokenRow, error)
	// DeleteToken is idempotent; deleting an absent session is not an error.
	DeleteToken(ctx context.Context, sessionID string) error
}

// OAuthStateRow holds one CSRF state for an in-flight authorization round
// trip. Only a hash of the state token is stored.
type OAuthStateRow struct {
	StateHash string
	SessionID string
	Consumed  bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// OAuthStateStore persists single-use authorization states so a callback
// can be validated without trusting client-supplied state alone.
type OAuthStateStore interface {
	PutState(ctx context.Context, row OAuthStateRow) error
	GetState(ctx context.Context, stateHash string) (OAuthStateRow, error)
	// ConsumeState atomically marks an unconsumed, unexpired state as
	// consumed. It returns ErrNotFound when no such state exists, which
	// guarantees exactly one successful consumer under duplicate callbacks.
	ConsumeState(ctx context.Context, stateHash string, now time.Time) error
	// PurgeExpiredStates removes states whose TTL elapsed without use.
	PurgeExpiredStates(ctx context.Context, now time.Time) error
}

// MessageRow is one persisted chat transcript entry.
type MessageRow struct {
	ID        string
	SessionID string
	Sender    string
	Text      string
	ErrorFlag bool
	CreatedAt time.Time
}

// MessageStore persists per-session chat transcripts.
type MessageStore interface {
	AppendMessage(ctx context.Context, row MessageRow) error
	// ListMessages returns the session transcript ordered oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]MessageRow, error)
	DeleteMessages(ctx context.Context, sessionID string) error
}
