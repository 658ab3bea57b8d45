package core

import (
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-keyring/config"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testProvider(name string, keys ...string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:    name,
		Kind:    config.KindOpenAI,
		BaseURL: "http://localhost",
		Model:   "test-model",
		Keys:    keys,
		Timeout: time.Minute,
		Vision:  true,
	}
}

func newTestPool(t *testing.T, clk clock.Clock, providers ...config.ProviderConfig) *CredentialPool {
	t.Helper()
	pool, err := NewCredentialPool(&config.Config{Providers: providers}, clk, testLogger())
	require.NoError(t, err)
	return pool
}

func TestNewCredentialPoolRequiresProviders(t *testing.T) {
	_, err := NewCredentialPool(&config.Config{}, clock.NewMock(), testLogger())
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestCooldownExpiresByTimeAlone(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk, testProvider("alpha", "key-1"))
	cred := pool.Provider("alpha").Credentials()[0]

	pool.MarkFailure(cred, FailureRateLimited)
	assert.False(t, cred.Available(pool.Now()))

	// One second before expiry the key is still cooling.
	clk.Add(RateLimitCooldown - time.Second)
	assert.False(t, cred.Available(pool.Now()))

	// At expiry the key is selectable again with no external reset.
	clk.Add(time.Second)
	assert.True(t, cred.Available(pool.Now()))
}

func TestStatusSummaryIsPureRead(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk, testProvider("alpha", "key-1", "key-2"))
	prov := pool.Provider("alpha")

	pool.MarkSuccess(prov.Credentials()[0])
	pool.MarkFailure(prov.Credentials()[1], FailureInvalidCredential)

	st := pool.StatusSummary().Providers["alpha"]
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Available)
	assert.Equal(t, 1, st.Cooling)
	assert.Equal(t, 1, st.Successes)
	assert.Equal(t, 1, st.Failures)

	// Reading the summary must not touch credential state.
	again := pool.StatusSummary().Providers["alpha"]
	assert.Equal(t, st, again)
	snap := prov.Credentials()[1].snapshot()
	assert.Equal(t, 1, snap.Failures)
	assert.False(t, snap.CooldownUntil.IsZero())
}

func TestClearCooldownsByProvider(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk,
		testProvider("alpha", "a-1", "a-2"),
		testProvider("beta", "b-1"),
	)
	pool.MarkFailure(pool.Provider("alpha").Credentials()[0], FailureRateLimited)
	pool.MarkFailure(pool.Provider("alpha").Credentials()[1], FailureRateLimited)
	pool.MarkFailure(pool.Provider("beta").Credentials()[0], FailureRateLimited)

	assert.Equal(t, 2, pool.ClearCooldowns("alpha"))
	assert.True(t, pool.Provider("alpha").Credentials()[0].Available(pool.Now()))
	assert.False(t, pool.Provider("beta").Credentials()[0].Available(pool.Now()))

	// No names means every provider; already-clear keys don't count.
	assert.Equal(t, 1, pool.ClearCooldowns())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk, testProvider("alpha", "key-1", "key-2"))
	pool.MarkFailure(pool.Provider("alpha").Credentials()[0], FailureInvalidCredential)
	pool.MarkSuccess(pool.Provider("alpha").Credentials()[1])

	snaps := pool.Snapshot()

	fresh := newTestPool(t, clk, testProvider("alpha", "key-1", "key-2"))
	fresh.Restore(snaps)

	assert.False(t, fresh.Provider("alpha").Credentials()[0].Available(fresh.Now()))
	st := fresh.StatusSummary().Providers["alpha"]
	assert.Equal(t, 1, st.Successes)
	assert.Equal(t, 1, st.Failures)
}

func TestRestoreIgnoresUnknownCredentials(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk, testProvider("alpha", "key-1"))

	pool.Restore([]CredentialSnapshot{{
		Provider:       "alpha",
		Key:            "removed-key",
		CooldownUntil:  clk.Now().Add(time.Hour),
		CooldownReason: FailureRateLimited,
	}})

	assert.True(t, pool.Provider("alpha").Credentials()[0].Available(pool.Now()))
}

func TestOnChangeHookFiresOnMutations(t *testing.T) {
	clk := clock.NewMock()
	pool := newTestPool(t, clk, testProvider("alpha", "key-1"))
	cred := pool.Provider("alpha").Credentials()[0]

	calls := 0
	pool.SetOnChange(func() { calls++ })

	pool.MarkSuccess(cred)
	pool.MarkFailure(cred, FailureRateLimited)
	pool.ClearCooldowns()
	assert.Equal(t, 3, calls)

	// Pure reads never fire the hook.
	pool.StatusSummary()
	cred.Available(pool.Now())
	assert.Equal(t, 3, calls)
}
