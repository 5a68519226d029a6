// Package token manages sealed OAuth token records per session.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
	"github.com/tailortalk/assistant/internal/services/assistant/secret"
	"github.com/tailortalk/assistant/internal/services/assistant/storage"
)

var (
	// ErrNotFound indicates no token record exists for the session.
	ErrNotFound = perrors.New(perrors.CodeNotFound, "token record not found")
	// ErrDecryption indicates a stored record cannot be opened under the
	// current key, e.g. after key rotation. Callers must prompt for
	// re-authorization rather than treat the session as never connected.
	ErrDecryption = perrors.New(perrors.CodeTokenDecryptionFailed, "token record cannot be decrypted")
)

// Record holds the plaintext token material for one connected session.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
	UserName     string    `json:"user_name,omitempty"`
}

// HasScopes reports whether the record's granted scopes cover required.
func (r Record) HasScopes(required []string) bool {
	granted := make(map[string]struct{}, len(r.Scopes))
	for _, scope := range r.Scopes {
		granted[scope] = struct{}{}
	}
	for _, scope := range required {
		if _, ok := granted[scope]; !ok {
			return false
		}
	}
	return true
}

// ExpiresWithin reports whether the access token expires before now+skew.
// Records without expiry metadata are treated as still valid.
func (r Record) ExpiresWithin(now time.Time, skew time.Duration) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(r.ExpiresAt)
}

// Store seals records before persistence and unseals them on read.
type Store struct {
	backing storage.TokenStore
	sealer  secret.Sealer
	clock   func() time.Time
}

// NewStore builds a token store over a backing store and sealer.
func NewStore(backing storage.TokenStore, sealer secret.Sealer) *Store {
	return &Store{backing: backing, sealer: sealer, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Put seals and persists the record, replacing any prior record for the
// session.
func (s *Store) Put(ctx context.Context, sessionID string, record Record) error {
	if s == nil || s.backing == nil || s.sealer == nil {
		return fmt.Errorf("token store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(record.AccessToken) == "" {
		return fmt.Errorf("access token is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}
	sealed, err := s.sealer.Seal(string(payload))
	if err != nil {
		return fmt.Errorf("seal token record: %w", err)
	}

	now := s.clock().UTC()
	return s.backing.PutToken(ctx, storage.TokenRow{
		SessionID:  sessionID,
		Ciphertext: sealed,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// Get unseals and returns the record for the session. A missing record is
// ErrNotFound; a record that cannot be opened under the current key is
// ErrDecryption.
func (s *Store) Get(ctx context.Context, sessionID string) (Record, error) {
	if s == nil || s.backing == nil || s.sealer == nil {
		return Record{}, fmt.Errorf("token store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Record{}, fmt.Errorf("session id is required")
	}

	row, err := s.backing.GetToken(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get token row: %w", err)
	}

	opened, err := s.sealer.Open(row.Ciphertext)
	if err != nil {
		if errors.Is(err, secret.ErrOpenFailed) {
			return Record{}, perrors.Wrap(perrors.CodeTokenDecryptionFailed, "token record cannot be decrypted", err)
		}
		return Record{}, fmt.Errorf("open token record: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(opened), &record); err != nil {
		return Record{}, perrors.Wrap(perrors.CodeTokenDecryptionFailed, "token record payload is malformed", err)
	}
	return record, nil
}

// Clear deletes the record for the session. Clearing an absent session is
// not an error.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if s == nil || s.backing == nil {
		return fmt.Errorf("token store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	return s.backing.DeleteToken(ctx, sessionID)
}
