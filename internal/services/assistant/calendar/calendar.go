// Package calendar wraps the upstream calendar provider behind a small
// gateway that validates inputs before any network call and normalizes
// provider failures for the conversation layer.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
	"github.com/tailortalk/assistant/internal/services/assistant/token"
)

// Scopes the assistant requests from the provider.
const (
	ScopeReadOnly = "https://www.googleapis.com/auth/calendar.readonly"
	ScopeEvents   = "https://www.googleapis.com/auth/calendar.events"
)

var (
	// ErrInvalidRange indicates a time window whose bounds are out of order.
	ErrInvalidRange = perrors.New(perrors.CodeRangeInvalid, "time range is invalid")
	// ErrScopeMissing indicates the stored grant does not cover the call.
	ErrScopeMissing = perrors.New(perrors.CodeCalendarScopeMissing, "calendar authorization is missing a required scope")
)

// Event is one calendar entry normalized from the provider's shape.
type Event struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees,omitempty"`
	Link      string    `json:"link,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// CreateEventInput carries the fields for a new event.
type CreateEventInput struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// APIError carries the provider's status code and message for one failed
// call. The status code decides retryability.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return "calendar api error: status " + strconv.Itoa(e.StatusCode) + ": " + e.Message
}

// IsRetryable reports whether the error is a rate limit or server-side
// provider failure worth exactly one more attempt.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

// API is the raw provider surface the gateway sits on. The production
// implementation talks to Google Calendar; a deterministic implementation
// backs demo mode and tests.
type API interface {
	ListEvents(ctx context.Context, accessToken string, timeMin, timeMax time.Time) ([]Event, error)
	InsertEvent(ctx context.Context, accessToken string, input CreateEventInput) (Event, error)
}

// Gateway validates and executes calendar operations for an authorized
// session. It performs no retries itself; callers own that decision.
type Gateway struct {
	api API
}

// NewGateway builds a gateway over a provider API.
func NewGateway(api API) *Gateway {
	return &Gateway{api: api}
}

func hasScope(scopes []string, wanted ...string) bool {
	for _, scope := range scopes {
		for _, want := range wanted {
			if scope == want {
				return true
			}
		}
	}
	return false
}

// ListEvents returns the session's events inside [timeMin, timeMax], sorted
// by start time ascending with cancelled entries dropped. An inverted range
// fails before any provider call.
func (g *Gateway) ListEvents(ctx context.Context, record token.Record, timeMin, timeMax time.Time) ([]Event, error) {
	if g == nil || g.api == nil {
		return nil, fmt.Errorf("calendar gateway is not configured")
	}
	if timeMin.After(timeMax) {
		return nil, ErrInvalidRange
	}
	if !hasScope(record.Scopes, ScopeReadOnly, ScopeEvents) {
		return nil, ErrScopeMissing
	}

	events, err := g.api.ListEvents(ctx, record.AccessToken, timeMin, timeMax)
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeCalendarAPIError, "list calendar events", err)
	}

	kept := events[:0]
	for _, event := range events {
		if event.Status == "cancelled" {
			continue
		}
		kept = append(kept, event)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Start.Before(kept[j].Start)
	})
	return kept, nil
}

// CreateEvent inserts a new event and returns it with the provider-assigned
// identifier and link. The gateway does not check the slot for conflicts;
// availability is a separate ListEvents call the caller issues beforehand.
func (g *Gateway) CreateEvent(ctx context.Context, record token.Record, input CreateEventInput) (Event, error) {
	if g == nil || g.api == nil {
		return Event{}, fmt.Errorf("calendar gateway is not configured")
	}
	if !input.Start.Before(input.End) {
		return Event{}, ErrInvalidRange
	}
	if !hasScope(record.Scopes, ScopeEvents) {
		return Event{}, ErrScopeMissing
	}

	event, err := g.api.InsertEvent(ctx, record.AccessToken, input)
	if err != nil {
		return Event{}, perrors.Wrap(perrors.CodeCalendarAPIError, "create calendar event", err)
	}
	return event, nil
}
