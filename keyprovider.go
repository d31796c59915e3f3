package protectql

// KeyProvider supplies master keys to the local engine. Implement it to
// integrate an external key-management system; keys are fetched once at engine
// construction and cached as derived keys.
type KeyProvider interface {
	// GetKey retrieves a 32-byte master key by its id.
	GetKey(keyID string) ([]byte, error)

	// DefaultKeyID returns the key id used for new encryptions.
	DefaultKeyID() string

	// ActiveKeyIDs returns every key id that may still protect stored data.
	// During rotation this includes both old and new keys.
	ActiveKeyIDs() []string
}

// StaticKeyProvider is an in-memory KeyProvider for tests and simple
// deployments.
type StaticKeyProvider struct {
	keys      map[string][]byte
	defaultID string
}

// NewStaticKeyProvider copies the given keys into a provider.
func NewStaticKeyProvider(defaultKeyID string, keys map[string][]byte) *StaticKeyProvider {
	copied := make(map[string][]byte, len(keys))
	for id, key := range keys {
		k := make([]byte, len(key))
		copy(k, key)
		copied[id] = k
	}
	return &StaticKeyProvider{keys: copied, defaultID: defaultKeyID}
}

// GetKey implements KeyProvider.
func (p *StaticKeyProvider) GetKey(keyID string) ([]byte, error) {
	key, ok := p.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// DefaultKeyID implements KeyProvider.
func (p *StaticKeyProvider) DefaultKeyID() string { return p.defaultID }

// ActiveKeyIDs implements KeyProvider.
func (p *StaticKeyProvider) ActiveKeyIDs() []string { return sortedMapKeys(p.keys) }

// Close zeros the key material. The provider is unusable afterwards.
func (p *StaticKeyProvider) Close() {
	for _, key := range p.keys {
		for i := range key {
			key[i] = 0
		}
	}
	p.keys = nil
}
