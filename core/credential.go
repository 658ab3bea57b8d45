package core

import (
	"sync"
	"time"
)

// FailureKind 失败分类枚举
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureRateLimited
	FailureInvalidCredential
	FailureTransient
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureInvalidCredential:
		return "invalid_credential"
	case FailureTransient:
		return "transient"
	default:
		return "none"
	}
}

// Cooldown policy. Rate limits are provider-side and self-resolving; invalid
// keys are a durable configuration defect; transient errors get three strikes
// before the key is set aside.
const (
	RateLimitCooldown     = 60 * time.Minute
	InvalidKeyCooldown    = 24 * time.Hour
	TransientCooldown     = 10 * time.Minute
	TransientFailureLimit = 3
)

// Credential 一个绑定到单一提供商的API Key及其健康状态
// Status is derived, never cached stale: a cooling credential becomes
// available the instant now >= cooldownUntil, with no external reset.
type Credential struct {
	mu sync.Mutex

	provider string
	key      string

	cooldownUntil  time.Time // zero = available
	cooldownReason FailureKind
	failures       int // consecutive transient/hard failures

	// Lifetime counters for the status summary only.
	successes int
	errors    int
}

// CredentialSnapshot 凭证状态的一致性快照
type CredentialSnapshot struct {
	Provider       string
	Key            string
	CooldownUntil  time.Time
	CooldownReason FailureKind
	Failures       int
	Successes      int
	Errors         int
}

func newCredential(provider, key string) *Credential {
	return &Credential{provider: provider, key: key}
}

func (c *Credential) Provider() string { return c.provider }
func (c *Credential) Key() string      { return c.key }

// Available reports whether the credential may be selected at the given
// instant. Pure read: an expired cooldown allows selection without mutating
// the stored status.
func (c *Credential) Available(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooldownUntil.IsZero() || !now.Before(c.cooldownUntil)
}

// markSuccess resets the consecutive-failure streak and lifts any leftover
// cooldown. A success through this key proves it works right now.
func (c *Credential) markSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes++
	c.failures = 0
	c.cooldownUntil = time.Time{}
	c.cooldownReason = FailureNone
}

// markFailure applies the cooldown policy for the classified kind.
// Returns the cooldown applied (zero when the key stays in rotation).
func (c *Credential) markFailure(kind FailureKind, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	// An expired cooldown also expires the failure streak. Folding it here
	// keeps Available a pure read.
	if !c.cooldownUntil.IsZero() && !now.Before(c.cooldownUntil) {
		c.cooldownUntil = time.Time{}
		c.cooldownReason = FailureNone
		c.failures = 0
	}

	c.errors++

	var cooldown time.Duration
	switch kind {
	case FailureRateLimited:
		// Expected operational behavior, not a credential defect: the
		// consecutive-failure counter is left alone.
		cooldown = RateLimitCooldown
	case FailureInvalidCredential:
		c.failures++
		cooldown = InvalidKeyCooldown
	default:
		c.failures++
		if c.failures >= TransientFailureLimit {
			cooldown = TransientCooldown
		}
	}

	if cooldown > 0 {
		c.cooldownUntil = now.Add(cooldown)
		c.cooldownReason = kind
	}
	return cooldown
}

// clearCooldown lifts a cooldown immediately (operator maintenance action).
func (c *Credential) clearCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooldownUntil.IsZero() {
		return false
	}
	c.cooldownUntil = time.Time{}
	c.cooldownReason = FailureNone
	c.failures = 0
	return true
}

func (c *Credential) snapshot() CredentialSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CredentialSnapshot{
		Provider:       c.provider,
		Key:            c.key,
		CooldownUntil:  c.cooldownUntil,
		CooldownReason: c.cooldownReason,
		Failures:       c.failures,
		Successes:      c.successes,
		Errors:         c.errors,
	}
}

// restore re-attaches persisted health state, typically right after startup.
func (c *Credential) restore(snap CredentialSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldownUntil = snap.CooldownUntil
	c.cooldownReason = snap.CooldownReason
	c.failures = snap.Failures
	c.successes = snap.Successes
	c.errors = snap.Errors
}
