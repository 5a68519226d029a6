package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
)

func TestOpenAISendBuildsChatRequest(t *testing.T) {
	var captured struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		authorization = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Sure, 2 PM works."}}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAI(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	history := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleModel, Content: "hello"},
	}
	reply, err := client.Send(context.Background(), history, "book a meeting tomorrow")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply != "Sure, 2 PM works." {
		t.Fatalf("reply = %q, want %q", reply, "Sure, 2 PM works.")
	}
	if authorization != "Bearer test-key" {
		t.Fatalf("Authorization = %q, want bearer key", authorization)
	}
	if len(captured.Messages) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" {
		t.Fatalf("first role = %q, want system", captured.Messages[0].Role)
	}
	if captured.Messages[2].Role != "assistant" {
		t.Fatalf("history model role = %q, want assistant", captured.Messages[2].Role)
	}
	if captured.Messages[3].Content != "book a meeting tomorrow" {
		t.Fatalf("last content = %q, want user message", captured.Messages[3].Content)
	}
}

func TestOpenAISendNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	_, err = client.Send(context.Background(), nil, "hello")
	if got := perrors.CodeOf(err); got != perrors.CodeLLMCallFailed {
		t.Fatalf("CodeOf(err) = %q, want %q", got, perrors.CodeLLMCallFailed)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("error %q missing provider status", err)
	}
}

func TestGeminiSendMapsRolesAndKey(t *testing.T) {
	var captured struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	var apiKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("path = %q, want generateContent call", r.URL.Path)
		}
		apiKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"You are free at 3 PM."}]}}]}`))
	}))
	defer server.Close()

	client, err := NewGemini(GeminiConfig{APIKey: "gemini-key", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewGemini() error = %v", err)
	}

	history := []Message{{Role: RoleModel, Content: "hello"}}
	reply, err := client.Send(context.Background(), history, "when am I free?")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply != "You are free at 3 PM." {
		t.Fatalf("reply = %q, want %q", reply, "You are free at 3 PM.")
	}
	if apiKey != "gemini-key" {
		t.Fatalf("x-goog-api-key = %q, want %q", apiKey, "gemini-key")
	}
	if len(captured.Contents) != 2 {
		t.Fatalf("len(contents) = %d, want 2", len(captured.Contents))
	}
	if captured.Contents[0].Role != "model" {
		t.Fatalf("history role = %q, want model", captured.Contents[0].Role)
	}
}

func TestClaudeSendHeadersAndReply(t *testing.T) {
	var version, apiKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		version = r.Header.Get("anthropic-version")
		apiKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Booked-sounding reply."}]}`))
	}))
	defer server.Close()

	client, err := NewClaude(ClaudeConfig{APIKey: "claude-key", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClaude() error = %v", err)
	}

	reply, err := client.Send(context.Background(), nil, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply != "Booked-sounding reply." {
		t.Fatalf("reply = %q, want %q", reply, "Booked-sounding reply.")
	}
	if version == "" || apiKey != "claude-key" {
		t.Fatalf("headers version=%q key=%q, want version set and key %q", version, apiKey, "claude-key")
	}
}

func TestMissingAPIKeyRejected(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Fatal("NewOpenAI() error = nil, want missing key error")
	}
	if _, err := NewGemini(GeminiConfig{}); err == nil {
		t.Fatal("NewGemini() error = nil, want missing key error")
	}
	if _, err := NewClaude(ClaudeConfig{}); err == nil {
		t.Fatal("NewClaude() error = nil, want missing key error")
	}
}

func TestDemoSendKeywordReplies(t *testing.T) {
	client := NewDemo()
	ctx := context.Background()

	reply, err := client.Send(ctx, nil, "Schedule a meeting with John tomorrow at 2 PM")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.Contains(reply, "Shall I go ahead and book it?") {
		t.Fatalf("schedule reply = %q missing booking question", reply)
	}

	reply, err = client.Send(ctx, nil, "Am I free on Friday afternoon?")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.Contains(reply, "Shall I check your availability?") {
		t.Fatalf("availability reply = %q missing availability question", reply)
	}

	reply, err = client.Send(ctx, nil, "Tell me a joke")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if strings.Contains(reply, "Shall I") {
		t.Fatalf("smalltalk reply = %q should not ask for confirmation", reply)
	}
}
