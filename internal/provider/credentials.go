package provider

import "sync"

// CredentialPool is an ordered set of API keys with a rotation cursor.
// An empty pool yields no key and rotation is a no-op.
type CredentialPool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewCredentialPool creates a pool, skipping blank keys.
func NewCredentialPool(keys ...string) *CredentialPool {
	p := &CredentialPool{}
	for _, k := range keys {
		if k != "" {
			p.keys = append(p.keys, k)
		}
	}
	return p
}

// Current returns the key at the cursor, or "" for an empty pool.
func (p *CredentialPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	return p.keys[p.cursor]
}

// Rotate advances the cursor round-robin and returns the new key.
func (p *CredentialPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	p.cursor = (p.cursor + 1) % len(p.keys)
	return p.keys[p.cursor]
}

// Size returns the number of keys in the pool.
func (p *CredentialPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// MaskKey hides all but the last four characters of a key for logging.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
