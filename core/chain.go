package core

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"llm-keyring/models"
)

// ErrAllExhausted is the single terminal failure of the fallback chain: every
// provider and every credential is unavailable or failed. Callers should back
// off before retrying; cooldowns run from minutes to a day.
var ErrAllExhausted = errors.New("all providers exhausted: no available credentials")

// FallbackChain 提供商故障转移链
// Walks providers in the fixed pool order, draining each provider's keys
// before advancing. A success short-circuits; providers after it are never
// tried for that request.
type FallbackChain struct {
	pool     *CredentialPool
	callers  map[string]Caller
	logger   *logrus.Logger
	attempts AttemptRecorder // may be nil
}

func NewFallbackChain(pool *CredentialPool, callers map[string]Caller, logger *logrus.Logger, attempts AttemptRecorder) *FallbackChain {
	if logger == nil {
		logger = logrus.New()
	}
	return &FallbackChain{
		pool:     pool,
		callers:  callers,
		logger:   logger,
		attempts: attempts,
	}
}

// Send drives selector -> call -> classifier -> retry across keys and
// providers until one call succeeds or everything is exhausted.
func (fc *FallbackChain) Send(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	needsVision := req.HasImageContent()

	for _, prov := range fc.pool.Providers() {
		if needsVision && !prov.Vision() {
			fc.logger.Debugf("Chain: skipping %s (no vision support)", prov.Name())
			continue
		}
		caller := fc.callers[prov.Name()]
		if caller == nil {
			fc.logger.Errorf("Chain: no caller wired for provider %s", prov.Name())
			continue
		}

		for {
			cred := prov.NextCredential(fc.pool.Now())
			if cred == nil {
				// Provider exhausted for now; fall back to the next one.
				break
			}

			// No credential lock is held here: the status transition happens
			// before and after the call, never around the network I/O.
			callCtx, cancel := context.WithTimeout(ctx, prov.Timeout())
			start := time.Now()
			text, err := caller.Call(callCtx, prov.Model(), cred.Key(), req)
			latency := time.Since(start)
			cancel()

			if err == nil {
				fc.pool.MarkSuccess(cred)
				fc.record(prov, cred, "ok", 0, latency, "")
				fc.logger.Infof("Chain: %s served request via %s (%.0fms)",
					prov.Name(), models.MaskAPIKey(cred.Key()), float64(latency.Milliseconds()))
				return &models.ChatResponse{
					Text:     text,
					Provider: prov.Name(),
					Model:    prov.Model(),
					KeyMask:  models.MaskAPIKey(cred.Key()),
				}, nil
			}

			// The caller gave up, not the credential: don't penalize the key.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			kind := Classify(err)
			fc.pool.MarkFailure(cred, kind)
			fc.record(prov, cred, kind.String(), upstreamStatus(err), latency, err.Error())
			fc.logger.Warnf("Chain: %s key %s failed (%s): %v",
				prov.Name(), models.MaskAPIKey(cred.Key()), kind, err)
			// Try the next key of the same provider before giving up on it.
		}
	}

	return nil, ErrAllExhausted
}

func (fc *FallbackChain) record(prov *Provider, cred *Credential, outcome string, status int, latency time.Duration, msg string) {
	if fc.attempts == nil {
		return
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	fc.attempts.Record(&models.AttemptLog{
		CreatedAt:  time.Now(),
		Provider:   prov.Name(),
		KeyMask:    models.MaskAPIKey(cred.Key()),
		Outcome:    outcome,
		StatusCode: status,
		Duration:   latency.Milliseconds(),
		Message:    msg,
	})
}

func upstreamStatus(err error) int {
	var ue *models.UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}
