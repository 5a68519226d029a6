package rest

import (
	"errors"
	"net/http"
	"net/url"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
	"github.com/tailortalk/assistant/internal/services/assistant/oauth"
	"github.com/tailortalk/assistant/internal/services/assistant/token"
)

func (h *handler) oauthURL(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	authURL, state, err := h.coordinator.AuthorizationURL(r.Context(), session)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		URL   string `json:"url"`
		State string `json:"state"`
	}{URL: authURL, State: state})
}

// oauthCallback lands the provider redirect. The browser is always sent
// back to the UI; success or failure rides along as query parameters.
func (h *handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		h.redirectToUI(w, r, "error", errCode)
		return
	}

	_, err := h.coordinator.HandleCallback(r.Context(), query.Get("code"), query.Get("state"))
	switch {
	case err == nil:
		h.redirectToUI(w, r, "connected", "")
	case errors.Is(err, oauth.ErrExpiredState):
		h.redirectToUI(w, r, "error", "authorization request expired, please try again")
	case errors.Is(err, oauth.ErrInvalidState):
		h.redirectToUI(w, r, "error", "authorization request is invalid or already used")
	default:
		h.redirectToUI(w, r, "error", "connecting your calendar failed")
	}
}

func (h *handler) redirectToUI(w http.ResponseWriter, r *http.Request, result, reason string) {
	values := url.Values{"calendar": {result}}
	if reason != "" {
		values.Set("reason", reason)
	}
	http.Redirect(w, r, h.uiBaseURL+"/?"+values.Encode(), http.StatusFound)
}

func (h *handler) oauthStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	type statusPayload struct {
		Connected     bool     `json:"connected"`
		ReauthNeeded  bool     `json:"reauth_needed,omitempty"`
		UserEmail     string   `json:"user_email,omitempty"`
		UserName      string   `json:"user_name,omitempty"`
		Scopes        []string `json:"scopes,omitempty"`
		ExpiresAtUnix int64    `json:"expires_at_unix,omitempty"`
	}

	record, err := h.tokens.Get(r.Context(), session)
	switch {
	case err == nil:
		payload := statusPayload{
			Connected: true,
			UserEmail: record.UserEmail,
			UserName:  record.UserName,
			Scopes:    record.Scopes,
		}
		if !record.ExpiresAt.IsZero() {
			payload.ExpiresAtUnix = record.ExpiresAt.Unix()
		}
		writeJSON(w, http.StatusOK, payload)
	case errors.Is(err, token.ErrNotFound):
		writeJSON(w, http.StatusOK, statusPayload{Connected: false})
	case errors.Is(err, token.ErrDecryption):
		// A rotated encryption key is not "never connected"; the UI should
		// prompt for re-authorization.
		writeJSON(w, http.StatusOK, statusPayload{Connected: false, ReauthNeeded: true})
	default:
		writeError(w, err)
	}
}

func (h *handler) oauthDisconnect(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := h.coordinator.Disconnect(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizedRecord loads and, if needed, refreshes the session's token for
// a direct calendar endpoint call.
func (h *handler) authorizedRecord(r *http.Request, session string) (token.Record, error) {
	record, err := h.tokens.Get(r.Context(), session)
	if err != nil {
		if errors.Is(err, token.ErrDecryption) {
			return token.Record{}, perrors.Wrap(perrors.CodeReauthRequired, "calendar authorization must be renewed", err)
		}
		return token.Record{}, err
	}
	return h.coordinator.RefreshIfNeeded(r.Context(), session, record)
}
