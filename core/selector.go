package core

import "time"

// NextCredential picks the next usable key of this provider in round-robin
// order, scanning at most len(credentials) entries starting at the rotation
// cursor. The cursor advances to the slot after the returned credential so
// consecutive calls spread load instead of hammering one key.
//
// Returns nil when every credential is unavailable: the exhaustion signal
// that moves the fallback chain to the next provider.
//
// Cursor advance and availability check happen under the provider mutex, so
// two racing callers are never handed the same "next" credential.
func (p *Provider) NextCredential(now time.Time) *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.credentials)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if c := p.credentials[idx]; c.Available(now) {
			p.cursor = (idx + 1) % n
			return c
		}
	}
	return nil
}
