package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChatRequest is the single uniform contract every caller depends on.
// Callers never pick a model or a provider; pool configuration decides.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages" binding:"required,min=1"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// ChatOptions 可选生成参数
type ChatOptions struct {
	Temperature *float64
	MaxTokens   *int
}

// ChatMessage is one role-tagged message. Content is either a plain string
// or the multimodal array form [{"type":"text",...},{"type":"image_url",...}].
type ChatMessage struct {
	Role    string      `json:"role" binding:"required,oneof=system user assistant"`
	Content interface{} `json:"content,omitempty"`
}

// ChatResponse carries the normalized reply text plus metadata identifying
// which provider/credential ultimately served the request.
type ChatResponse struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	KeyMask  string `json:"key,omitempty"`
}

// ErrorResponse 标准错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ProviderStatus is one row of the observability snapshot.
type ProviderStatus struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Cooling   int `json:"cooling"`
	Successes int `json:"total_success_calls"`
	Failures  int `json:"total_error_calls"`
}

// StatusSummary maps provider name to its point-in-time status. Best-effort:
// computing it never mutates credential state.
type StatusSummary struct {
	Providers map[string]ProviderStatus `json:"providers"`
	Timestamp int64                     `json:"timestamp"`
}

// UpstreamError is a failed provider call carrying enough signal for
// classification: the HTTP status (0 for transport-level failures) and a
// truncated body or error message.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// StringContent 从ChatMessage.Content提取字符串内容
// 支持普通字符串和多模态数组格式
func (m *ChatMessage) StringContent() string {
	if m.Content == nil {
		return ""
	}

	if str, ok := m.Content.(string); ok {
		return str
	}

	if arr, ok := m.Content.([]interface{}); ok {
		var result strings.Builder
		for _, item := range arr {
			itemMap, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if itemType, _ := itemMap["type"].(string); itemType != "text" {
				continue
			}
			if text, ok := itemMap["text"].(string); ok {
				if result.Len() > 0 {
					result.WriteString(" ")
				}
				result.WriteString(text)
			}
		}
		return result.String()
	}

	if jsonBytes, err := json.Marshal(m.Content); err == nil {
		return string(jsonBytes)
	}
	return ""
}

// HasImageContent reports whether any message carries an image_url part.
// Such requests are only routed to vision-capable providers.
func (r *ChatRequest) HasImageContent() bool {
	for i := range r.Messages {
		arr, ok := r.Messages[i].Content.([]interface{})
		if !ok {
			continue
		}
		for _, item := range arr {
			if itemMap, ok := item.(map[string]interface{}); ok {
				if itemType, _ := itemMap["type"].(string); itemType == "image_url" {
					return true
				}
			}
		}
	}
	return false
}

// MaskAPIKey 脱敏API Key
func MaskAPIKey(key string) string {
	if key == "" {
		return "***"
	}
	if len(key) <= 4 {
		return key[:1] + "***"
	}
	if len(key) <= 8 {
		return key[:2] + "***" + key[len(key)-2:]
	}
	return key[:3] + "***" + key[len(key)-4:]
}
