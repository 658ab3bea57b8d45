package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"llm-keyring/models"
)

// OpenAICaller speaks the OpenAI-compatible chat completions protocol.
// Both OpenRouter and Groq run behind it, each with its own base URL and
// extra headers.
type OpenAICaller struct {
	name       string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// NewOpenAICaller builds a caller for any OpenAI-compatible backend.
func NewOpenAICaller(name, baseURL string, headers map[string]string, client *http.Client) *OpenAICaller {
	if client == nil {
		client = NewHTTPClient()
	}
	return &OpenAICaller{
		name:       name,
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		headers:    headers,
		httpClient: client,
	}
}

// NewOpenRouterCaller OpenRouter 需要项目归属 Header
func NewOpenRouterCaller(baseURL string, client *http.Client) *OpenAICaller {
	return NewOpenAICaller("openrouter", baseURL, map[string]string{
		"HTTP-Referer": "https://github.com/llm-keyring",
		"X-Title":      "llm-keyring",
	}, client)
}

func NewGroqCaller(baseURL string, client *http.Client) *OpenAICaller {
	return NewOpenAICaller("groq", baseURL, nil, client)
}

func (c *OpenAICaller) Name() string { return c.name }

type openAIChatRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   *int                 `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Call issues one chat completion and returns the assistant text.
func (c *OpenAICaller) Call(ctx context.Context, model, apiKey string, req *models.ChatRequest) (string, error) {
	body, err := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%s: read response: %w", c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &models.UpstreamError{
			Provider:   c.name,
			StatusCode: resp.StatusCode,
			Message:    errorSnippet(respBody),
		}
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &models.UpstreamError{Provider: c.name, Message: "malformed response: " + errorSnippet(respBody)}
	}
	if parsed.Error != nil {
		// Some backends report errors with a 200 status.
		return "", &models.UpstreamError{Provider: c.name, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &models.UpstreamError{Provider: c.name, Message: "response has no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// errorSnippet extracts the upstream error message when the body is the
// standard {"error":{"message":...}} shape, else truncates the raw body.
func errorSnippet(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
