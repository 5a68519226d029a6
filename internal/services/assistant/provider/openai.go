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
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIConfig carries the client settings for the OpenAI provider.
type OpenAIConfig struct {
	APIKey string
	Model  string

	// BaseURL and HTTPClient override the defaults, for tests.
	BaseURL    string
	HTTPClient *http.Client
}

type openAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI builds a Client over the OpenAI chat completions API.
func NewOpenAI(cfg OpenAIConfig) (Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &openAIClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: defaultHTTPClient(cfg.HTTPClient),
	}, nil
}

func (c *openAIClient) Name() string { return "openai" }

func (c *openAIClient) Send(ctx context.Context, history []Message, message string) (string, error) {
	type wireMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	messages := make([]wireMessage, 0, len(history)+2)
	messages = append(messages, wireMessage{Role: "system", Content: systemPrompt})
	for _, turn := range history {
		role := "user"
		if turn.Role == RoleModel {
			role = "assistant"
		}
		messages = append(messages, wireMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, wireMessage{Role: "user", Content: message})

	requestBody, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": messages,
	})
	if err != nil {
		return "", callFailed(c.Name(), "marshal chat request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return "", callFailed(c.Name(), "build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", callFailed(c.Name(), "chat request failed", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", callFailed(c.Name(), fmt.Sprintf("chat request status %d: %s", res.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", callFailed(c.Name(), "decode chat response", err)
	}
	for _, choice := range payload.Choices {
		if reply := strings.TrimSpace(choice.Message.Content); reply != "" {
			return reply, nil
		}
	}
	return "", callFailed(c.Name(), "chat response missing reply text", nil)
}
