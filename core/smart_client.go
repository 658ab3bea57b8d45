package core

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"llm-keyring/models"
)

// SmartClient is the public façade: one uniform chat contract, rotation and
// fallback handled underneath. Callers never see individual credential
// failures, only ErrAllExhausted.
type SmartClient struct {
	pool   *CredentialPool
	chain  *FallbackChain
	logger *logrus.Logger

	mu              sync.RWMutex
	currentProvider string
}

func NewSmartClient(pool *CredentialPool, chain *FallbackChain, logger *logrus.Logger) *SmartClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &SmartClient{pool: pool, chain: chain, logger: logger}
}

// Chat sends role-tagged messages and returns the reply text of whichever
// provider/credential ultimately succeeded.
func (s *SmartClient) Chat(ctx context.Context, messages []models.ChatMessage, opts models.ChatOptions) (string, error) {
	resp, err := s.Send(ctx, &models.ChatRequest{
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Send is the full-fidelity variant used by the HTTP layer: same semantics as
// Chat but the response keeps the serving provider metadata.
func (s *SmartClient) Send(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	resp, err := s.chain.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.currentProvider = resp.Provider
	s.mu.Unlock()

	return resp, nil
}

// CurrentProvider returns the provider that served the most recent successful
// call; empty before the first success.
func (s *SmartClient) CurrentProvider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentProvider
}

// StatusSummary 观测用途的即时快照 (只读)
func (s *SmartClient) StatusSummary() *models.StatusSummary {
	return s.pool.StatusSummary()
}

// ClearCooldowns 运维维护操作：立即解除冷却
func (s *SmartClient) ClearCooldowns(providers ...string) int {
	return s.pool.ClearCooldowns(providers...)
}
