// Package server composes the assistant service: storage, token sealing,
// the OAuth coordinator, the calendar gateway, the language-model provider,
// and the HTTP surface.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tailortalk/assistant/internal/platform/timeouts"
	"github.com/tailortalk/assistant/internal/services/assistant/api/rest"
	"github.com/tailortalk/assistant/internal/services/assistant/calendar"
	"github.com/tailortalk/assistant/internal/services/assistant/conversation"
	"github.com/tailortalk/assistant/internal/services/assistant/oauth"
	"github.com/tailortalk/assistant/internal/services/assistant/provider"
	"github.com/tailortalk/assistant/internal/services/assistant/secret"
	"github.com/tailortalk/assistant/internal/services/assistant/storage"
	"github.com/tailortalk/assistant/internal/services/assistant/storage/memory"
	"github.com/tailortalk/assistant/internal/services/assistant/storage/sqlite"
	"github.com/tailortalk/assistant/internal/services/assistant/token"
)

// Config defines the inputs for the assistant service process.
type Config struct {
	HTTPAddr string
	// DBPath is the SQLite file; empty selects in-memory storage, which
	// does not survive restarts.
	DBPath string
	// EncryptionKey is the base64-encoded 16/24/32-byte token sealing key.
	EncryptionKey string
	// UIBaseURL is where the OAuth callback sends the browser back to.
	UIBaseURL string

	// AIProvider selects the language model: demo, openai, gemini, claude.
	AIProvider   string
	OpenAIAPIKey string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string
	ClaudeAPIKey string
	ClaudeModel  string

	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string

	StateTTL          time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// backingStore is what both the SQLite and in-memory stores provide.
type backingStore interface {
	storage.TokenStore
	storage.OAuthStateStore
	storage.MessageStore
}

// Server hosts the assistant HTTP process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	storeCloser     io.Closer
}

// NewServer wires the assistant from configuration. Missing external
// credentials degrade to demo implementations instead of failing startup,
// so the service always runs end to end.
func NewServer(cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}
	redirectURL := strings.TrimSpace(cfg.OAuthRedirectURL)
	if redirectURL == "" {
		redirectURL = "http://localhost:8080/oauth/callback"
	}

	var backing backingStore
	var storeCloser io.Closer
	if path := strings.TrimSpace(cfg.DBPath); path != "" {
		sqliteStore, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		backing = sqliteStore
		storeCloser = sqliteStore
	} else {
		log.Printf("no db path configured, using in-memory storage")
		backing = memory.New()
	}

	sealer, err := buildSealer(cfg.EncryptionKey)
	if err != nil {
		if storeCloser != nil {
			_ = storeCloser.Close()
		}
		return nil, err
	}
	tokens := token.NewStore(backing, sealer)

	exchanger, calendarAPI := buildGoogleClients(cfg, redirectURL)

	var coordinatorOpts []oauth.Option
	if cfg.StateTTL > 0 {
		coordinatorOpts = append(coordinatorOpts, oauth.WithStateTTL(cfg.StateTTL))
	}
	coordinator := oauth.NewCoordinator(exchanger, backing, tokens, coordinatorOpts...)
	gateway := calendar.NewGateway(calendarAPI)

	llm, err := buildProvider(cfg)
	if err != nil {
		if storeCloser != nil {
			_ = storeCloser.Close()
		}
		return nil, err
	}
	log.Printf("assistant using %s language model provider", llm.Name())

	controller := conversation.NewController(llm, gateway, coordinator, tokens, backing)

	httpServer := &http.Server{
		Addr: httpAddr,
		Handler: rest.NewHandler(rest.Config{
			Controller:       controller,
			Coordinator:      coordinator,
			Tokens:           tokens,
			Gateway:          gateway,
			UIBaseURL:        cfg.UIBaseURL,
			ProviderName:     llm.Name(),
			GoogleConfigured: googleConfigured(cfg),
		}),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: cfg.ShutdownTimeout,
		httpServer:      httpServer,
		storeCloser:     storeCloser,
	}, nil
}

func buildSealer(encoded string) (secret.Sealer, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		// An ephemeral key keeps the service usable, but stored tokens are
		// unreadable after restart.
		log.Printf("no encryption key configured, generating an ephemeral key")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		return secret.NewAESGCMSealer(key)
	}
	key, err := secret.KeyFromBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	sealer, err := secret.NewAESGCMSealer(key)
	if err != nil {
		return nil, fmt.Errorf("build token sealer: %w", err)
	}
	return sealer, nil
}

func googleConfigured(cfg Config) bool {
	return strings.TrimSpace(cfg.GoogleClientID) != "" && strings.TrimSpace(cfg.GoogleClientSecret) != ""
}

func buildGoogleClients(cfg Config, redirectURL string) (oauth.Exchanger, calendar.API) {
	clientID := strings.TrimSpace(cfg.GoogleClientID)
	clientSecret := strings.TrimSpace(cfg.GoogleClientSecret)
	if clientID == "" || clientSecret == "" {
		log.Printf("google oauth credentials absent, using demo calendar and exchanger")
		return oauth.NewDemoExchanger(redirectURL), calendar.NewDemoAPI(time.Now())
	}
	exchanger := oauth.NewGoogleExchanger(oauth.GoogleConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			calendar.ScopeReadOnly,
			calendar.ScopeEvents,
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
	})
	return exchanger, calendar.NewGoogleAPI()
}

func buildProvider(cfg Config) (provider.Client, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	switch name {
	case "", "demo":
		return provider.NewDemo(), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			log.Printf("openai api key absent, falling back to demo provider")
			return provider.NewDemo(), nil
		}
		return provider.NewOpenAI(provider.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel})
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			log.Printf("gemini api key absent, falling back to demo provider")
			return provider.NewDemo(), nil
		}
		return provider.NewGemini(provider.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
	case "claude":
		if strings.TrimSpace(cfg.ClaudeAPIKey) == "" {
			log.Printf("claude api key absent, falling back to demo provider")
			return provider.NewDemo(), nil
		}
		return provider.NewClaude(provider.ClaudeConfig{APIKey: cfg.ClaudeAPIKey, Model: cfg.ClaudeModel})
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.AIProvider)
	}
}

// Run creates and serves an assistant server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := NewServer(cfg)
	if err != nil {
		return fmt.Errorf("init assistant server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve assistant: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("assistant server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("assistant server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.storeCloser != nil {
		if err := s.storeCloser.Close(); err != nil {
			log.Printf("close storage: %v", err)
		}
	}
}
