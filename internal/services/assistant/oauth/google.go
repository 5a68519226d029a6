package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
	"github.com/tailortalk/assistant/internal/platform/timeouts"
	"github.com/tailortalk/assistant/internal/services/assistant/token"
)

const (
	googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleRevokeURL   = "https://oauth2.googleapis.com/revoke"
)

// GoogleConfig carries the client registration for the Google exchanger.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// HTTPClient overrides the client used for token, userinfo, and revoke
	// calls. Tests point it at a local server.
	HTTPClient *http.Client
	// Endpoint overrides the provider endpoints, for tests.
	Endpoint *oauth2.Endpoint
	// UserinfoURL and RevokeURL override the defaults, for tests.
	UserinfoURL string
	RevokeURL   string
}

type googleExchanger struct {
	cfg         *oauth2.Config
	httpClient  *http.Client
	userinfoURL string
	revokeURL   string
}

// NewGoogleExchanger builds an Exchanger over Google's OAuth endpoints.
func NewGoogleExchanger(cfg GoogleConfig) Exchanger {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeouts.TokenExchange}
	}
	userinfoURL := cfg.UserinfoURL
	if userinfoURL == "" {
		userinfoURL = googleUserinfoURL
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = googleRevokeURL
	}
	return &googleExchanger{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		httpClient:  httpClient,
		userinfoURL: userinfoURL,
		revokeURL:   revokeURL,
	}
}

func (e *googleExchanger) AuthCodeURL(state string) string {
	// access_type=offline plus prompt=consent makes Google return a refresh
	// token on every completed flow, not only the first.
	return e.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (e *googleExchanger) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

func (e *googleExchanger) Exchange(ctx context.Context, code string) (token.Record, error) {
	tok, err := e.cfg.Exchange(e.clientContext(ctx), code)
	if err != nil {
		return token.Record{}, exchangeError("exchange authorization code", err)
	}
	record := recordFromToken(tok)
	if email, name, err := e.fetchUserinfo(ctx, tok.AccessToken); err != nil {
		// Userinfo is advisory display data; the grant itself succeeded.
		log.Printf("fetch google userinfo: %v", err)
	} else {
		record.UserEmail = email
		record.UserName = name
	}
	return record, nil
}

func (e *googleExchanger) Refresh(ctx context.Context, record token.Record) (token.Record, error) {
	source := e.cfg.TokenSource(e.clientContext(ctx), &oauth2.Token{
		RefreshToken: record.RefreshToken,
	})
	tok, err := source.Token()
	if err != nil {
		if isInvalidGrant(err) {
			return token.Record{}, fmt.Errorf("refresh access token: %w", ErrInvalidGrant)
		}
		return token.Record{}, exchangeError("refresh access token", err)
	}
	refreshed := recordFromToken(tok)
	if len(refreshed.Scopes) == 0 {
		refreshed.Scopes = record.Scopes
	}
	refreshed.UserEmail = record.UserEmail
	refreshed.UserName = record.UserName
	return refreshed, nil
}

func (e *googleExchanger) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("revoke token: status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (e *googleExchanger) fetchUserinfo(ctx context.Context, accessToken string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.userinfoURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := e.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch userinfo: status %d", res.StatusCode)
	}

	var payload struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", "", fmt.Errorf("decode userinfo: %w", err)
	}
	return payload.Email, payload.Name, nil
}

func recordFromToken(tok *oauth2.Token) token.Record {
	record := token.Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		record.Scopes = strings.Fields(scope)
	}
	return record
}

func exchangeError(op string, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		detail := strings.TrimSpace(string(retrieve.Body))
		if detail == "" {
			detail = retrieve.Response.Status
		}
		return perrors.Wrap(perrors.CodeTokenExchangeFailed, fmt.Sprintf("%s: %s", op, detail), err)
	}
	return perrors.Wrap(perrors.CodeTokenExchangeFailed, op, err)
}

func isInvalidGrant(err error) bool {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(retrieve.Body), "invalid_grant")
	}
	return false
}
