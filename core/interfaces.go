package core

import (
	"context"

	"llm-keyring/models"
)

// Caller 提供商调用能力抽象
// One variant per wire protocol; provider-specific response parsing stays out
// of the rotation logic entirely.
type Caller interface {
	Name() string
	// Call issues one chat request through the given credential and returns
	// the normalized reply text. Failed calls return *models.UpstreamError
	// (HTTP-level) or the raw transport error.
	Call(ctx context.Context, model, apiKey string, req *models.ChatRequest) (string, error)
}

// SecretProvider 密钥加解密抽象 (用于持久化时保护Key)
type SecretProvider interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AttemptRecorder 上游调用审计抽象 (可为 no-op)
type AttemptRecorder interface {
	Record(attempt *models.AttemptLog)
}
