// Package rest exposes the assistant over plain HTTP/JSON. Sessions are
// identified by an X-Session-ID header (or session cookie); raw access
// tokens are never accepted from clients.
package rest

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
	"github.com/tailortalk/assistant/internal/services/assistant/calendar"
	"github.com/tailortalk/assistant/internal/services/assistant/conversation"
	"github.com/tailortalk/assistant/internal/services/assistant/oauth"
	"github.com/tailortalk/assistant/internal/services/assistant/token"
)

const (
	sessionHeader = "X-Session-ID"
	sessionCookie = "tt_session"

	maxChatBodyBytes = 16 * 1024
)

// Config wires the handler to the assistant's components.
type Config struct {
	Controller  *conversation.Controller
	Coordinator *oauth.Coordinator
	Tokens      *token.Store
	Gateway     *calendar.Gateway

	// UIBaseURL is where the OAuth callback redirects the browser back to.
	UIBaseURL string

	// ProviderName and GoogleConfigured feed the health report.
	ProviderName     string
	GoogleConfigured bool

	Clock func() time.Time
}

type handler struct {
	controller       *conversation.Controller
	coordinator      *oauth.Coordinator
	tokens           *token.Store
	gateway          *calendar.Gateway
	uiBaseURL        string
	providerName     string
	googleConfigured bool
	clock            func() time.Time
}

// NewHandler builds the assistant's HTTP routes.
func NewHandler(cfg Config) http.Handler {
	h := &handler{
		controller:       cfg.Controller,
		coordinator:      cfg.Coordinator,
		tokens:           cfg.Tokens,
		gateway:          cfg.Gateway,
		uiBaseURL:        strings.TrimRight(strings.TrimSpace(cfg.UIBaseURL), "/"),
		providerName:     cfg.ProviderName,
		googleConfigured: cfg.GoogleConfigured,
		clock:            cfg.Clock,
	}
	if h.providerName == "" {
		h.providerName = "demo"
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	if h.uiBaseURL == "" {
		h.uiBaseURL = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /oauth/url", h.oauthURL)
	mux.HandleFunc("GET /oauth/callback", h.oauthCallback)
	mux.HandleFunc("GET /oauth/status", h.oauthStatus)
	mux.HandleFunc("POST /oauth/disconnect", h.oauthDisconnect)
	mux.HandleFunc("POST /chat", h.chatSend)
	mux.HandleFunc("GET /chat/history", h.chatHistory)
	mux.HandleFunc("POST /chat/reset", h.chatReset)
	mux.HandleFunc("GET /calendar/events", h.calendarList)
	mux.HandleFunc("POST /calendar/events", h.calendarCreate)

	return traceRequests(mux)
}

// health reports liveness plus which collaborators are running in demo
// mode, so a misconfigured deployment is visible without reading logs.
func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status          string `json:"status"`
		Provider        string `json:"provider"`
		GoogleConnected bool   `json:"google_oauth_configured"`
	}{Status: "ok", Provider: h.providerName, GoogleConnected: h.googleConfigured})
}

// traceRequests opens one span per request when a tracer provider is
// configured; with the no-op global provider it costs nothing.
func traceRequests(next http.Handler) http.Handler {
	tracer := otel.Tracer("assistant/rest")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		span.SetAttributes(attribute.String("http.method", r.Method))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

type errorPayload struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// writeError maps domain error codes to HTTP statuses. Unclassified errors
// are logged and hidden behind a generic 500 so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	code := perrors.CodeOf(err)
	status := perrors.HTTPStatus(code)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		detail = "internal error"
	}
	writeJSON(w, status, errorPayload{Detail: detail, Code: string(code)})
}

func requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := sessionID(r)
	if id == "" {
		writeError(w, perrors.New(perrors.CodeInvalidArgument, "session id is required (X-Session-ID header)"))
		return "", false
	}
	return id, true
}
