// Package provider holds the language-model clients the assistant can talk
// through. Each provider implements the same Send contract; selection is a
// configuration value.
package provider

import (
	"context"
	"net/http"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
	"github.com/tailortalk/assistant/internal/platform/timeouts"
)

// Chat roles as they appear on the wire and in stored history.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one prior turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client sends one user message with its prior history and returns the
// model's reply text.
type Client interface {
	Send(ctx context.Context, history []Message, message string) (string, error)
	Name() string
}

// systemPrompt steers every provider toward the same scheduling behavior,
// including the confirmation questions the conversation layer watches for.
const systemPrompt = "You are TailorTalk, a friendly scheduling assistant with access to the " +
	"user's Google Calendar. Help the user check availability and book meetings. " +
	"When the user asks to schedule or book something, summarize the meeting and " +
	"ask exactly: \"Shall I go ahead and book it?\". When the user asks about " +
	"free time, ask exactly: \"Shall I check your availability?\". Never claim an " +
	"event was created yourself; the system confirms bookings separately."

func defaultHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: timeouts.ProviderCall}
}

func callFailed(name, message string, cause error) error {
	if cause == nil {
		return perrors.New(perrors.CodeLLMCallFailed, name+": "+message)
	}
	return perrors.Wrap(perrors.CodeLLMCallFailed, name+": "+message, cause)
}
