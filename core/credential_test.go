package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitCooldownSkipsFailureCounter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newCredential("alpha", "key-1")

	cooldown := c.markFailure(FailureRateLimited, now)
	assert.Equal(t, RateLimitCooldown, cooldown)

	snap := c.snapshot()
	assert.Equal(t, 0, snap.Failures, "rate limits are not credential defects")
	assert.Equal(t, 1, snap.Errors)
	assert.Equal(t, now.Add(RateLimitCooldown), snap.CooldownUntil)
	assert.Equal(t, FailureRateLimited, snap.CooldownReason)
}

func TestInvalidCredentialGetsLongCooldown(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newCredential("alpha", "key-1")

	cooldown := c.markFailure(FailureInvalidCredential, now)
	assert.Equal(t, InvalidKeyCooldown, cooldown)

	snap := c.snapshot()
	assert.Equal(t, 1, snap.Failures)
	assert.Equal(t, now.Add(InvalidKeyCooldown), snap.CooldownUntil)
}

func TestTransientFailuresNeedThreeStrikes(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newCredential("alpha", "key-1")

	assert.Zero(t, c.markFailure(FailureTransient, now))
	assert.True(t, c.Available(now), "one transient failure keeps the key in rotation")
	assert.Zero(t, c.markFailure(FailureTransient, now))
	assert.True(t, c.Available(now))

	cooldown := c.markFailure(FailureTransient, now)
	assert.Equal(t, TransientCooldown, cooldown)
	assert.False(t, c.Available(now))
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newCredential("alpha", "key-1")

	c.markFailure(FailureTransient, now)
	c.markFailure(FailureTransient, now)
	c.markSuccess()

	// The streak restarted, so two more transient failures stay under the limit.
	assert.Zero(t, c.markFailure(FailureTransient, now))
	assert.Zero(t, c.markFailure(FailureTransient, now))
	assert.True(t, c.Available(now))

	snap := c.snapshot()
	assert.Equal(t, 1, snap.Successes)
	assert.Equal(t, 4, snap.Errors, "lifetime counters survive the reset")
}

func TestExpiredCooldownResetsStreakOnNextFailure(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newCredential("alpha", "key-1")

	c.markFailure(FailureTransient, now)
	c.markFailure(FailureTransient, now)
	c.markFailure(FailureTransient, now) // third strike: cooldown

	later := now.Add(TransientCooldown)
	assert.True(t, c.Available(later))

	// The expired cooldown folds in: this failure counts as strike one, not
	// four, so no new cooldown yet.
	assert.Zero(t, c.markFailure(FailureTransient, later))
	assert.True(t, c.Available(later))
}

func TestClearCooldownLiftsImmediately(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newCredential("alpha", "key-1")

	assert.False(t, c.clearCooldown(), "nothing to clear on a fresh key")

	c.markFailure(FailureInvalidCredential, now)
	assert.True(t, c.clearCooldown())
	assert.True(t, c.Available(now))
	assert.Equal(t, 0, c.snapshot().Failures)
}

func TestFailureKindString(t *testing.T) {
	assert.Equal(t, "none", FailureNone.String())
	assert.Equal(t, "rate_limited", FailureRateLimited.String())
	assert.Equal(t, "invalid_credential", FailureInvalidCredential.String())
	assert.Equal(t, "transient", FailureTransient.String())
}
