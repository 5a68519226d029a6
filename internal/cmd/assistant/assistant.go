// Package assistant parses assistant command flags and composes the
// service entrypoint.
package assistant

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/tailortalk/assistant/internal/platform/cmd"
	server "github.com/tailortalk/assistant/internal/services/assistant/app"
)

// Config holds assistant command configuration.
type Config struct {
	HTTPAddr      string `env:"TAILORTALK_HTTP_ADDR"      envDefault:":8080"`
	DBPath        string `env:"TAILORTALK_DB_PATH"        envDefault:"assistant.db"`
	EncryptionKey string `env:"TAILORTALK_ENCRYPTION_KEY"`
	UIBaseURL     string `env:"TAILORTALK_UI_BASE_URL"    envDefault:"http://localhost:3000"`

	AIProvider   string `env:"TAILORTALK_AI_PROVIDER"    envDefault:"demo"`
	OpenAIAPIKey string `env:"TAILORTALK_OPENAI_API_KEY"`
	OpenAIModel  string `env:"TAILORTALK_OPENAI_MODEL"`
	GeminiAPIKey string `env:"TAILORTALK_GEMINI_API_KEY"`
	GeminiModel  string `env:"TAILORTALK_GEMINI_MODEL"`
	ClaudeAPIKey string `env:"TAILORTALK_CLAUDE_API_KEY"`
	ClaudeModel  string `env:"TAILORTALK_CLAUDE_MODEL"`

	GoogleClientID     string `env:"TAILORTALK_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"TAILORTALK_GOOGLE_CLIENT_SECRET"`
	OAuthRedirectURL   string `env:"TAILORTALK_OAUTH_REDIRECT_URL" envDefault:"http://localhost:8080/oauth/callback"`

	StateTTL time.Duration `env:"TAILORTALK_OAUTH_STATE_TTL" envDefault:"10m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "assistant HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path (empty for in-memory)")
	fs.StringVar(&cfg.UIBaseURL, "ui-base-url", cfg.UIBaseURL, "chat UI base URL for OAuth redirects")
	fs.StringVar(&cfg.AIProvider, "ai-provider", cfg.AIProvider, "language model provider (demo, openai, gemini, claude)")
	fs.StringVar(&cfg.OAuthRedirectURL, "oauth-redirect-url", cfg.OAuthRedirectURL, "OAuth callback URL registered with Google")
	fs.DurationVar(&cfg.StateTTL, "oauth-state-ttl", cfg.StateTTL, "authorization state time to live")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the assistant app and serves until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAssistant, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:           cfg.HTTPAddr,
			DBPath:             cfg.DBPath,
			EncryptionKey:      cfg.EncryptionKey,
			UIBaseURL:          cfg.UIBaseURL,
			AIProvider:         cfg.AIProvider,
			OpenAIAPIKey:       cfg.OpenAIAPIKey,
			OpenAIModel:        cfg.OpenAIModel,
			GeminiAPIKey:       cfg.GeminiAPIKey,
			GeminiModel:        cfg.GeminiModel,
			ClaudeAPIKey:       cfg.ClaudeAPIKey,
			ClaudeModel:        cfg.ClaudeModel,
			GoogleClientID:     cfg.GoogleClientID,
			GoogleClientSecret: cfg.GoogleClientSecret,
			OAuthRedirectURL:   cfg.OAuthRedirectURL,
			StateTTL:           cfg.StateTTL,
		}); err != nil {
			return fmt.Errorf("serve assistant: %w", err)
		}
		return nil
	})
}
