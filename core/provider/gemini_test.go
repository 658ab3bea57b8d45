package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-keyring/models"
)

func TestGeminiCallerSuccess(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"role":  "model",
					"parts": []map[string]string{{"text": "part one "}, {"text": "part two"}},
				}},
			},
		})
	}))
	defer server.Close()

	caller := NewGeminiCaller(server.URL, server.Client())
	text, err := caller.Call(context.Background(), "gemini-2.0-flash-exp", "AIza-test", userReq("hi"))
	require.NoError(t, err)

	assert.Equal(t, "part one part two", text, "candidate text parts concatenate")
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash-exp:generateContent", gotPath)
	assert.Equal(t, "AIza-test", gotKey)
	require.Len(t, gotBody.Contents, 1)
	assert.Equal(t, "user", gotBody.Contents[0].Role)
}

func TestGeminiCallerErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"code":    400,
				"message": "API key not valid. Please pass a valid API key.",
				"status":  "INVALID_ARGUMENT",
			},
		})
	}))
	defer server.Close()

	caller := NewGeminiCaller(server.URL, server.Client())
	_, err := caller.Call(context.Background(), "m", "bad-key", userReq("hi"))

	var ue *models.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 400, ue.StatusCode)
	assert.Contains(t, ue.Message, "API key not valid")
}

func TestGeminiCallerNoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"candidates": []interface{}{}})
	}))
	defer server.Close()

	caller := NewGeminiCaller(server.URL, server.Client())
	_, err := caller.Call(context.Background(), "m", "k", userReq("hi"))

	var ue *models.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, ue.Message, "no candidates")
}

func TestConvertToGeminiRolesAndSystem(t *testing.T) {
	temp := 0.5
	maxTokens := 256
	req := &models.ChatRequest{
		Messages: []models.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "question"},
			{Role: "assistant", Content: "answer"},
			{Role: "user", Content: "followup"},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}

	out := convertToGemini(req)

	require.NotNil(t, out.SystemInstruction)
	assert.Equal(t, "be terse", out.SystemInstruction.Parts[0].Text)

	require.Len(t, out.Contents, 3, "system messages leave the contents array")
	assert.Equal(t, "user", out.Contents[0].Role)
	assert.Equal(t, "model", out.Contents[1].Role)
	assert.Equal(t, "user", out.Contents[2].Role)

	require.NotNil(t, out.GenerationConfig)
	assert.Equal(t, &temp, out.GenerationConfig.Temperature)
	assert.Equal(t, 256, out.GenerationConfig.MaxOutputTokens)
}

func TestConvertToGeminiMultimodal(t *testing.T) {
	req := &models.ChatRequest{Messages: []models.ChatMessage{{
		Role: "user",
		Content: []interface{}{
			map[string]interface{}{"type": "text", "text": "what is in this image"},
			map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{
				"url": "data:image/jpeg;base64,/9j/4AAQ",
			}},
			map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{
				"url": "https://example.com/remote.png",
			}},
		},
	}}}

	out := convertToGemini(req)

	require.Len(t, out.Contents, 1)
	parts := out.Contents[0].Parts
	require.Len(t, parts, 2, "remote URLs are dropped, not fetched")
	assert.Equal(t, "what is in this image", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/jpeg", parts[1].InlineData.MimeType)
	assert.Equal(t, "/9j/4AAQ", parts[1].InlineData.Data)
}

func TestConvertToGeminiSkipsEmptyMessages(t *testing.T) {
	req := &models.ChatRequest{Messages: []models.ChatMessage{
		{Role: "user", Content: ""},
		{Role: "user", Content: "real"},
	}}
	out := convertToGemini(req)
	require.Len(t, out.Contents, 1)
	assert.Equal(t, "real", out.Contents[0].Parts[0].Text)
}

func TestInlineDataFromDataURL(t *testing.T) {
	blob := inlineDataFromDataURL("data:image/png;base64,aGVsbG8=")
	require.NotNil(t, blob)
	assert.Equal(t, "image/png", blob.MimeType)
	assert.Equal(t, "aGVsbG8=", blob.Data)

	assert.Nil(t, inlineDataFromDataURL("https://example.com/a.png"))
	assert.Nil(t, inlineDataFromDataURL("data:missing-comma"))
}
