package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultClaudeBaseURL   = "https://api.anthropic.com"
	defaultClaudeModel     = "claude-3-5-haiku-latest"
	claudeAPIVersion       = "2023-06-01"
	claudeMaxResponseToken = 1024
)

// ClaudeConfig carries the client settings for the Claude provider.
type ClaudeConfig struct {
	APIKey string
	Model  string

	// BaseURL and HTTPClient override the defaults, for tests.
	BaseURL    string
	HTTPClient *http.Client
}

type claudeClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClaude builds a Client over the Anthropic messages API.
func NewClaude(cfg ClaudeConfig) (Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("claude api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultClaudeModel
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultClaudeBaseURL
	}
	return &claudeClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: defaultHTTPClient(cfg.HTTPClient),
	}, nil
}

func (c *claudeClient) Name() string { return "claude" }

func (c *claudeClient) Send(ctx context.Context, history []Message, message string) (string, error) {
	type wireMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	messages := make([]wireMessage, 0, len(history)+1)
	for _, turn := range history {
		role := "user"
		if turn.Role == RoleModel {
			role = "assistant"
		}
		messages = append(messages, wireMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, wireMessage{Role: "user", Content: message})

	requestBody, err := json.Marshal(map[string]any{
		"model":      c.model,
		"max_tokens": claudeMaxResponseToken,
		"system":     systemPrompt,
		"messages":   messages,
	})
	if err != nil {
		return "", callFailed(c.Name(), "marshal messages request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(requestBody))
	if err != nil {
		return "", callFailed(c.Name(), "build messages request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", claudeAPIVersion)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", callFailed(c.Name(), "messages request failed", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", callFailed(c.Name(), fmt.Sprintf("messages request status %d: %s", res.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var payload struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", callFailed(c.Name(), "decode messages response", err)
	}
	for _, block := range payload.Content {
		if block.Type != "text" {
			continue
		}
		if reply := strings.TrimSpace(block.Text); reply != "" {
			return reply, nil
		}
	}
	return "", callFailed(c.Name(), "messages response missing reply text", nil)
}
