// Package oauth runs the provider authorization-code flow for the assistant.
//
// The coordinator owns CSRF state lifecycle (mint, validate exactly once,
// expire) and delegates the provider-specific URL building and token
// endpoints to an Exchanger implementation.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
	"github.com/tailortalk/assistant/internal/services/assistant/storage"
	"github.com/tailortalk/assistant/internal/services/assistant/token"
)

var (
	// ErrInvalidState indicates the callback state does not match a stored,
	// unconsumed state.
	ErrInvalidState = perrors.New(perrors.CodeOAuthStateInvalid, "oauth state is invalid or already used")
	// ErrExpiredState indicates the matching state's TTL elapsed before the
	// callback arrived.
	ErrExpiredState = perrors.New(perrors.CodeOAuthStateExpired, "oauth state has expired")
	// ErrReauthorizationRequired indicates the stored grant is irrecoverably
	// invalid and the user must run the full authorization flow again.
	ErrReauthorizationRequired = perrors.New(perrors.CodeReauthRequired, "calendar authorization must be renewed")

	// ErrInvalidGrant is returned by exchangers when the provider rejects a
	// refresh token as invalid_grant.
	ErrInvalidGrant = errors.New("invalid_grant")
)

const (
	// DefaultStateTTL bounds how long an unconsumed authorization state
	// stays valid.
	DefaultStateTTL = 10 * time.Minute
	// DefaultRefreshSkew refreshes tokens slightly before their reported
	// expiry so a token fetched before a slow call cannot lapse mid-flight.
	DefaultRefreshSkew = 2 * time.Minute

	stateTokenBytes = 32
)

// Exchanger abstracts one OAuth provider's endpoints. The production
// implementation talks to Google; a deterministic implementation backs
// demo mode and tests.
type Exchanger interface {
	// AuthCodeURL builds the provider authorization URL for a state token.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for a token record.
	Exchange(ctx context.Context, code string) (token.Record, error)
	// Refresh mints a fresh access token from the record's refresh token.
	// It reports ErrInvalidGrant when the grant is irrecoverably invalid.
	Refresh(ctx context.Context, record token.Record) (token.Record, error)
	// Revoke invalidates the token at the provider.
	Revoke(ctx context.Context, accessToken string) error
}

// Coordinator drives the authorization flow and token lifecycle.
type Coordinator struct {
	exchanger Exchanger
	states    storage.OAuthStateStore
	tokens    *token.Store
	stateTTL  time.Duration
	skew      time.Duration
	clock     func() time.Time
}

// Option adjusts coordinator construction.
type Option func(*Coordinator)

// WithStateTTL overrides the authorization state TTL.
func WithStateTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.stateTTL = ttl }
}

// WithRefreshSkew overrides the refresh look-ahead window.
func WithRefreshSkew(skew time.Duration) Option {
	return func(c *Coordinator) { c.skew = skew }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// NewCoordinator builds a coordinator over an exchanger and backing stores.
func NewCoordinator(exchanger Exchanger, states storage.OAuthStateStore, tokens *token.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		exchanger: exchanger,
		states:    states,
		tokens:    tokens,
		stateTTL:  DefaultStateTTL,
		skew:      DefaultRefreshSkew,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func hashState(state string) string {
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:])
}

func newStateToken() (string, error) {
	buf := make([]byte, stateTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read state entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AuthorizationURL mints a single-use state bound to the session, stores it
// server-side, and returns the provider authorization URL plus the state.
func (c *Coordinator) AuthorizationURL(ctx context.Context, sessionID string) (string, string, error) {
	if c == nil || c.exchanger == nil || c.states == nil {
		return "", "", fmt.Errorf("oauth coordinator is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", "", fmt.Errorf("session id is required")
	}

	now := c.clock().UTC()
	// Stale states from abandoned round trips are purged opportunistically;
	// there is no background sweeper.
	if err := c.states.PurgeExpiredStates(ctx, now); err != nil {
		log.Printf("purge expired oauth states: %v", err)
	}

	state, err := newStateToken()
	if err != nil {
		return "", "", err
	}
	if err := c.states.PutState(ctx, storage.OAuthStateRow{
		StateHash: hashState(state),
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.stateTTL),
	}); err != nil {
		return "", "", fmt.Errorf("store oauth state: %w", err)
	}

	return c.exchanger.AuthCodeURL(state), state, nil
}

// HandleCallback validates and consumes the returned state, then exchanges
// the authorization code and persists the resulting record for the session.
//
// Consumption is atomic per state token: when the provider retries the
// callback or the user opens it in two tabs, exactly one exchange runs.
func (c *Coordinator) HandleCallback(ctx context.Context, code, returnedState string) (token.Record, error) {
	if c == nil || c.exchanger == nil || c.states == nil || c.tokens == nil {
		return token.Record{}, fmt.Errorf("oauth coordinator is not configured")
	}
	code = strings.TrimSpace(code)
	returnedState = strings.TrimSpace(returnedState)
	if code == "" || returnedState == "" {
		return token.Record{}, ErrInvalidState
	}

	now := c.clock().UTC()
	stateHash := hashState(returnedState)

	row, err := c.states.GetState(ctx, stateHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return token.Record{}, ErrInvalidState
		}
		return token.Record{}, fmt.Errorf("lookup oauth state: %w", err)
	}
	if row.Consumed {
		return token.Record{}, ErrInvalidState
	}
	if !row.ExpiresAt.After(now) {
		return token.Record{}, ErrExpiredState
	}
	if err := c.states.ConsumeState(ctx, stateHash, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Lost the race against a duplicate callback.
			return token.Record{}, ErrInvalidState
		}
		return token.Record{}, fmt.Errorf("consume oauth state: %w", err)
	}

	record, err := c.exchanger.Exchange(ctx, code)
	if err != nil {
		return token.Record{}, err
	}
	if err := c.tokens.Put(ctx, row.SessionID, record); err != nil {
		return token.Record{}, fmt.Errorf("persist token record: %w", err)
	}
	return record, nil
}

// RefreshIfNeeded returns the record as-is while it remains valid, and
// otherwise refreshes it through the provider and persists the update. On
// invalid_grant the stored record is cleared and the caller must start a
// full re-authorization.
func (c *Coordinator) RefreshIfNeeded(ctx context.Context, sessionID string, record token.Record) (token.Record, error) {
	if c == nil || c.exchanger == nil || c.tokens == nil {
		return token.Record{}, fmt.Errorf("oauth coordinator is not configured")
	}

	now := c.clock().UTC()
	if !record.ExpiresWithin(now, c.skew) {
		return record, nil
	}
	if strings.TrimSpace(record.RefreshToken) == "" {
		if err := c.tokens.Clear(ctx, sessionID); err != nil {
			log.Printf("clear unrefreshable token record: %v", err)
		}
		return token.Record{}, ErrReauthorizationRequired
	}

	refreshed, err := c.exchanger.Refresh(ctx, record)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			// The grant is dead; silently retrying can never succeed.
			if clearErr := c.tokens.Clear(ctx, sessionID); clearErr != nil {
				log.Printf("clear invalid token record: %v", clearErr)
			}
			return token.Record{}, ErrReauthorizationRequired
		}
		return token.Record{}, err
	}
	// Providers may omit a new refresh token; keep the one we have.
	if strings.TrimSpace(refreshed.RefreshToken) == "" {
		refreshed.RefreshToken = record.RefreshToken
	}
	if err := c.tokens.Put(ctx, sessionID, refreshed); err != nil {
		return token.Record{}, fmt.Errorf("persist refreshed record: %w", err)
	}
	return refreshed, nil
}

// Disconnect revokes the session's token best-effort and always clears the
// local record. A revoke failure is logged, never raised: stale local
// credentials must not outlive a disconnect.
func (c *Coordinator) Disconnect(ctx context.Context, sessionID string) error {
	if c == nil || c.tokens == nil {
		return fmt.Errorf("oauth coordinator is not configured")
	}

	record, err := c.tokens.Get(ctx, sessionID)
	switch {
	case err == nil:
		if revokeErr := c.exchanger.Revoke(ctx, record.AccessToken); revokeErr != nil {
			log.Printf("revoke token for session: %v", revokeErr)
		}
	case errors.Is(err, token.ErrNotFound), errors.Is(err, token.ErrDecryption):
		// Nothing usable to revoke; still clear below.
	default:
		return fmt.Errorf("load token record: %w", err)
	}

	return c.tokens.Clear(ctx, sessionID)
}
