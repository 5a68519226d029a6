package oauth

import (
	"context"
	"net/url"
	"time"

	"github.com/tailortalk/assistant/internal/services/assistant/token"
)

// demoExchanger completes the authorization flow without touching a real
// provider, so the assistant runs end to end with no Google credentials.
type demoExchanger struct {
	redirectURL string
	clock       func() time.Time
}

// NewDemoExchanger builds an exchanger that short-circuits back to the
// callback URL and mints deterministic demo credentials.
func NewDemoExchanger(redirectURL string) Exchanger {
	return &demoExchanger{redirectURL: redirectURL, clock: time.Now}
}

func (e *demoExchanger) AuthCodeURL(state string) string {
	q := url.Values{
		"code":  {"demo-authorization-code"},
		"state": {state},
	}
	return e.redirectURL + "?" + q.Encode()
}

func (e *demoExchanger) Exchange(_ context.Context, _ string) (token.Record, error) {
	return token.Record{
		AccessToken:  "demo-access-token",
		RefreshToken: "demo-refresh-token",
		ExpiresAt:    e.clock().UTC().Add(time.Hour),
		Scopes: []string{
			"https://www.googleapis.com/auth/calendar.readonly",
			"https://www.googleapis.com/auth/calendar.events",
		},
		UserEmail: "demo@example.com",
		UserName:  "Demo User",
	}, nil
}

func (e *demoExchanger) Refresh(_ context.Context, record token.Record) (token.Record, error) {
	record.AccessToken = "demo-access-token"
	record.ExpiresAt = e.clock().UTC().Add(time.Hour)
	return record, nil
}

func (e *demoExchanger) Revoke(context.Context, string) error {
	return nil
}
