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
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-1.5-flash"
)

// GeminiConfig carries the client settings for the Gemini provider.
type GeminiConfig struct {
	APIKey string
	Model  string

	// BaseURL and HTTPClient override the defaults, for tests.
	BaseURL    string
	HTTPClient *http.Client
}

type geminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGemini builds a Client over the Gemini generateContent API.
func NewGemini(cfg GeminiConfig) (Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &geminiClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: defaultHTTPClient(cfg.HTTPClient),
	}, nil
}

func (c *geminiClient) Name() string { return "gemini" }

func (c *geminiClient) Send(ctx context.Context, history []Message, message string) (string, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	contents := make([]content, 0, len(history)+1)
	for _, turn := range history {
		role := "user"
		if turn.Role == RoleModel {
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: turn.Content}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: message}}})

	requestBody, err := json.Marshal(map[string]any{
		"systemInstruction": content{Parts: []part{{Text: systemPrompt}}},
		"contents":          contents,
	})
	if err != nil {
		return "", callFailed(c.Name(), "marshal generate request", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return "", callFailed(c.Name(), "build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", callFailed(c.Name(), "generate request failed", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", callFailed(c.Name(), fmt.Sprintf("generate request status %d: %s", res.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var payload struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", callFailed(c.Name(), "decode generate response", err)
	}
	for _, candidate := range payload.Candidates {
		var builder strings.Builder
		for _, p := range candidate.Content.Parts {
			builder.WriteString(p.Text)
		}
		if reply := strings.TrimSpace(builder.String()); reply != "" {
			return reply, nil
		}
	}
	return "", callFailed(c.Name(), "generate response missing reply text", nil)
}
