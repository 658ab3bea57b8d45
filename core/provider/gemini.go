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

// GeminiCaller speaks the Google generateContent REST protocol.
type GeminiCaller struct {
	baseURL    string
	httpClient *http.Client
}

func NewGeminiCaller(baseURL string, client *http.Client) *GeminiCaller {
	if client == nil {
		client = NewHTTPClient()
	}
	return &GeminiCaller{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: client,
	}
}

func (c *GeminiCaller) Name() string { return "gemini" }

// Call converts the uniform chat request into Gemini's contents/parts shape,
// issues generateContent and concatenates the first candidate's text parts.
func (c *GeminiCaller) Call(ctx context.Context, model, apiKey string, req *models.ChatRequest) (string, error) {
	gemReq := convertToGemini(req)

	body, err := json.Marshal(gemReq)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Header auth keeps the key out of URLs and access logs.
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &models.UpstreamError{
			Provider:   "gemini",
			StatusCode: resp.StatusCode,
			Message:    geminiErrorSnippet(respBody),
		}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &models.UpstreamError{Provider: "gemini", Message: "malformed response: " + errorSnippet(respBody)}
	}
	if parsed.Error != nil {
		return "", &models.UpstreamError{Provider: "gemini", StatusCode: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if len(parsed.Candidates) == 0 {
		return "", &models.UpstreamError{Provider: "gemini", Message: "response has no candidates"}
	}

	var out strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		out.WriteString(part.Text)
	}
	return out.String(), nil
}

// convertToGemini maps OpenAI-style messages onto Gemini contents:
// system messages fold into systemInstruction, assistant becomes "model",
// and data-URL images become inline_data blobs.
func convertToGemini(req *models.ChatRequest) *geminiRequest {
	gemReq := &geminiRequest{}

	var systemParts []geminiPart
	for i := range req.Messages {
		msg := &req.Messages[i]
		if msg.Role == "system" {
			if text := msg.StringContent(); text != "" {
				systemParts = append(systemParts, geminiPart{Text: text})
			}
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		content := geminiContent{Role: role, Parts: messageParts(msg)}
		if len(content.Parts) == 0 {
			continue
		}
		gemReq.Contents = append(gemReq.Contents, content)
	}

	if len(systemParts) > 0 {
		gemReq.SystemInstruction = &geminiContent{Parts: systemParts}
	}

	if req.Temperature != nil || req.MaxTokens != nil {
		cfg := &geminiGenConfig{Temperature: req.Temperature}
		if req.MaxTokens != nil {
			cfg.MaxOutputTokens = *req.MaxTokens
		}
		gemReq.GenerationConfig = cfg
	}
	return gemReq
}

func messageParts(msg *models.ChatMessage) []geminiPart {
	if str, ok := msg.Content.(string); ok {
		if str == "" {
			return nil
		}
		return []geminiPart{{Text: str}}
	}

	arr, ok := msg.Content.([]interface{})
	if !ok {
		if text := msg.StringContent(); text != "" {
			return []geminiPart{{Text: text}}
		}
		return nil
	}

	var parts []geminiPart
	for _, item := range arr {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch itemMap["type"] {
		case "text":
			if text, ok := itemMap["text"].(string); ok && text != "" {
				parts = append(parts, geminiPart{Text: text})
			}
		case "image_url":
			urlMap, ok := itemMap["image_url"].(map[string]interface{})
			if !ok {
				continue
			}
			urlVal, _ := urlMap["url"].(string)
			if blob := inlineDataFromDataURL(urlVal); blob != nil {
				parts = append(parts, geminiPart{InlineData: blob})
			}
		}
	}
	return parts
}

// inlineDataFromDataURL splits "data:image/jpeg;base64,<payload>" into a
// Gemini inline blob. Non-data URLs are dropped: the pool never fetches
// remote content on a caller's behalf.
func inlineDataFromDataURL(url string) *geminiInlineData {
	if !strings.HasPrefix(url, "data:") {
		return nil
	}
	segments := strings.SplitN(url, ",", 2)
	if len(segments) != 2 {
		return nil
	}
	mimeType := strings.TrimSuffix(strings.TrimPrefix(segments[0], "data:"), ";base64")
	return &geminiInlineData{MimeType: mimeType, Data: segments[1]}
}

func geminiErrorSnippet(body []byte) string {
	var envelope struct {
		Error geminiError `json:"error"`
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
