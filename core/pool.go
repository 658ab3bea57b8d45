package core

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"llm-keyring/config"
	"llm-keyring/models"
)

var ErrNoProviders = errors.New("credential pool has no providers")

// Provider 一个后端服务及其有序的凭证列表
// Credential order is the configuration order and is stable for the process
// lifetime; only credential status mutates at runtime.
type Provider struct {
	name    string
	kind    string
	model   string
	timeout time.Duration
	vision  bool

	mu          sync.Mutex
	cursor      int // index of the next credential to try first
	credentials []*Credential
}

func (p *Provider) Name() string           { return p.name }
func (p *Provider) Kind() string           { return p.kind }
func (p *Provider) Model() string          { return p.model }
func (p *Provider) Timeout() time.Duration { return p.timeout }
func (p *Provider) Vision() bool           { return p.vision }

// Credentials returns the ordered credential list (the slice itself is fixed
// at construction, so handing it out is safe).
func (p *Provider) Credentials() []*Credential { return p.credentials }

// CredentialPool 凭证池：固定的提供商序列 + 实时健康状态
// The provider sequence is fixed at construction (fallback order = sequence
// order). Dependency injection all the way: config struct, clock, logger.
type CredentialPool struct {
	providers []*Provider
	byName    map[string]*Provider
	clock     clock.Clock
	logger    *logrus.Logger

	mu       sync.Mutex
	onChange func()
}

// NewCredentialPool builds the pool from an explicit configuration struct.
// Providers arrive already filtered: config.Load drops any provider without
// credentials.
func NewCredentialPool(cfg *config.Config, clk clock.Clock, logger *logrus.Logger) (*CredentialPool, error) {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logrus.New()
	}

	pool := &CredentialPool{
		clock:  clk,
		logger: logger,
		byName: make(map[string]*Provider),
	}

	for _, pc := range cfg.Providers {
		if len(pc.Keys) == 0 {
			continue
		}
		p := &Provider{
			name:    pc.Name,
			kind:    pc.Kind,
			model:   pc.Model,
			timeout: pc.Timeout,
			vision:  pc.Vision,
		}
		for _, k := range pc.Keys {
			p.credentials = append(p.credentials, newCredential(pc.Name, k))
		}
		pool.providers = append(pool.providers, p)
		pool.byName[pc.Name] = p
		logger.Infof("Pool: provider %s with %d key(s), model %s", pc.Name, len(p.credentials), pc.Model)
	}

	if len(pool.providers) == 0 {
		return nil, ErrNoProviders
	}
	return pool, nil
}

// Providers returns the fixed fallback order.
func (p *CredentialPool) Providers() []*Provider { return p.providers }

// Provider looks a provider up by name; nil when unknown.
func (p *CredentialPool) Provider(name string) *Provider { return p.byName[name] }

// Now reads the injected clock. All cooldown math goes through here so tests
// can drive time deterministically.
func (p *CredentialPool) Now() time.Time { return p.clock.Now() }

// MarkSuccess records a successful call and resets the credential's
// consecutive-failure counter.
func (p *CredentialPool) MarkSuccess(c *Credential) {
	c.markSuccess()
	p.notifyChange()
}

// MarkFailure applies the classified cooldown policy to the credential.
func (p *CredentialPool) MarkFailure(c *Credential, kind FailureKind) {
	cooldown := c.markFailure(kind, p.clock.Now())
	if cooldown > 0 {
		p.logger.Warnf("Pool: key %s (%s) cooling down %s (%s)",
			models.MaskAPIKey(c.Key()), c.Provider(), cooldown, kind)
	}
	p.notifyChange()
}

// ClearCooldowns lifts cooldowns for the named providers (all when none are
// named) and returns how many credentials were affected.
func (p *CredentialPool) ClearCooldowns(names ...string) int {
	targets := p.providers
	if len(names) > 0 {
		targets = nil
		for _, n := range names {
			if prov := p.byName[n]; prov != nil {
				targets = append(targets, prov)
			}
		}
	}

	cleared := 0
	for _, prov := range targets {
		for _, c := range prov.credentials {
			if c.clearCooldown() {
				cleared++
			}
		}
	}
	if cleared > 0 {
		p.logger.Infof("Pool: cleared cooldown on %d key(s)", cleared)
		p.notifyChange()
	}
	return cleared
}

// StatusSummary builds a point-in-time snapshot for observability. Pure read:
// no credential state is mutated.
func (p *CredentialPool) StatusSummary() *models.StatusSummary {
	now := p.clock.Now()
	summary := &models.StatusSummary{
		Providers: make(map[string]models.ProviderStatus, len(p.providers)),
		Timestamp: now.Unix(),
	}

	for _, prov := range p.providers {
		var st models.ProviderStatus
		for _, c := range prov.credentials {
			snap := c.snapshot()
			st.Total++
			if c.Available(now) {
				st.Available++
			} else {
				st.Cooling++
			}
			st.Successes += snap.Successes
			st.Failures += snap.Errors
		}
		summary.Providers[prov.name] = st
	}
	return summary
}

// Snapshot returns per-credential state for persistence.
func (p *CredentialPool) Snapshot() []CredentialSnapshot {
	var snaps []CredentialSnapshot
	for _, prov := range p.providers {
		for _, c := range prov.credentials {
			snaps = append(snaps, c.snapshot())
		}
	}
	return snaps
}

// Restore re-attaches persisted state to matching credentials. Unknown
// credentials in the input are ignored; configured keys with no persisted row
// start fresh.
func (p *CredentialPool) Restore(snaps []CredentialSnapshot) {
	index := make(map[string]*Credential)
	for _, prov := range p.providers {
		for _, c := range prov.credentials {
			index[models.KeyFingerprint(c.Provider(), c.Key())] = c
		}
	}

	restored := 0
	for _, snap := range snaps {
		if c, ok := index[models.KeyFingerprint(snap.Provider, snap.Key)]; ok {
			c.restore(snap)
			restored++
		}
	}
	if restored > 0 {
		p.logger.Infof("Pool: restored health state for %d key(s)", restored)
	}
}

// SetOnChange installs a hook invoked after every status mutation.
// Used by the optional state store to persist asynchronously.
func (p *CredentialPool) SetOnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *CredentialPool) notifyChange() {
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}
