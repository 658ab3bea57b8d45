package core

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-keyring/models"
)

func TestSmartClientChat(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk, testProvider("alpha", "a-1"))
	alpha := &fakeCaller{name: "alpha", reply: "42"}
	chain := NewFallbackChain(pool, map[string]Caller{"alpha": alpha}, testLogger(), nil)
	smart := NewSmartClient(pool, chain, testLogger())

	assert.Empty(t, smart.CurrentProvider(), "no provider before the first success")

	text, err := smart.Chat(context.Background(), []models.ChatMessage{
		{Role: "system", Content: "answer briefly"},
		{Role: "user", Content: "meaning of life?"},
	}, models.ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "42", text)
	assert.Equal(t, "alpha", smart.CurrentProvider())
}

func TestSmartClientCurrentProviderTracksFallback(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk,
		testProvider("alpha", "a-1"),
		testProvider("beta", "b-1"),
	)
	alpha := &fakeCaller{name: "alpha", results: map[string]error{
		"a-1": &models.UpstreamError{Provider: "alpha", StatusCode: 401, Message: "unauthorized"},
	}}
	beta := &fakeCaller{name: "beta", reply: "served"}
	chain := NewFallbackChain(pool, map[string]Caller{"alpha": alpha, "beta": beta}, testLogger(), nil)
	smart := NewSmartClient(pool, chain, testLogger())

	resp, err := smart.Send(context.Background(), chatReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, "beta", resp.Provider)
	assert.Equal(t, "beta", smart.CurrentProvider())
}

func TestSmartClientExhaustionKeepsLastProvider(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk, testProvider("alpha", "a-1"))
	alpha := &fakeCaller{name: "alpha", reply: "ok"}
	chain := NewFallbackChain(pool, map[string]Caller{"alpha": alpha}, testLogger(), nil)
	smart := NewSmartClient(pool, chain, testLogger())

	_, err := smart.Send(context.Background(), chatReq("hi"))
	require.NoError(t, err)

	alpha.results = map[string]error{
		"a-1": &models.UpstreamError{Provider: "alpha", StatusCode: 429, Message: "rate limit"},
	}
	_, err = smart.Send(context.Background(), chatReq("hi"))
	assert.ErrorIs(t, err, ErrAllExhausted)
	assert.Equal(t, "alpha", smart.CurrentProvider(), "failures don't rewrite history")
}

func TestSmartClientMaintenancePassthrough(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk, testProvider("alpha", "a-1"))
	chain := NewFallbackChain(pool, map[string]Caller{"alpha": &fakeCaller{name: "alpha"}}, testLogger(), nil)
	smart := NewSmartClient(pool, chain, testLogger())

	pool.MarkFailure(pool.Provider("alpha").Credentials()[0], FailureRateLimited)
	assert.Equal(t, 1, smart.StatusSummary().Providers["alpha"].Cooling)
	assert.Equal(t, 1, smart.ClearCooldowns("alpha"))
	assert.Equal(t, 0, smart.StatusSummary().Providers["alpha"].Cooling)
}
