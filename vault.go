package protectql

import (
	"encoding/base64"
	"fmt"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// VaultKeyProvider fetches master keys from a HashiCorp Vault KV v2 secret.
// The secret's data maps key id -> base64-encoded 32-byte master key. The
// secret is read once and cached for the provider's lifetime.
type VaultKeyProvider struct {
	client    *vault.Client
	path      string
	defaultID string

	once sync.Once
	keys map[string][]byte
	err  error
}

// NewVaultKeyProvider builds a provider reading the secret at path (e.g.
// "secret/data/protectql/keys") with the given address and token.
func NewVaultKeyProvider(addr, token, path, defaultKeyID string) (*VaultKeyProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = addr
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("protectql: vault client: %w", err)
	}
	client.SetToken(token)
	return &VaultKeyProvider{
		client:    client,
		path:      path,
		defaultID: defaultKeyID,
	}, nil
}

// load reads and decodes the secret once.
func (p *VaultKeyProvider) load() error {
	p.once.Do(func() {
		secret, err := p.client.Logical().Read(p.path)
		if err != nil {
			p.err = fmt.Errorf("protectql: vault read %s: %w", p.path, err)
			return
		}
		if secret == nil || secret.Data == nil {
			p.err = ErrNoKeys
			return
		}
		// KV v2 nests the payload under "data"; KV v1 does not.
		data := secret.Data
		if nested, ok := secret.Data["data"].(map[string]any); ok {
			data = nested
		}
		keys := make(map[string][]byte, len(data))
		for keyID, v := range data {
			s, ok := v.(string)
			if !ok {
				continue
			}
			key, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				p.err = fmt.Errorf("protectql: vault key %q: %w", keyID, err)
				return
			}
			if len(key) != 32 {
				p.err = fmt.Errorf("protectql: vault key %q: %w", keyID, ErrInvalidKeySize)
				return
			}
			keys[keyID] = key
		}
		if len(keys) == 0 {
			p.err = ErrNoKeys
			return
		}
		p.keys = keys
	})
	return p.err
}

// GetKey implements KeyProvider.
func (p *VaultKeyProvider) GetKey(keyID string) ([]byte, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	key, ok := p.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// DefaultKeyID implements KeyProvider.
func (p *VaultKeyProvider) DefaultKeyID() string { return p.defaultID }

// ActiveKeyIDs implements KeyProvider.
func (p *VaultKeyProvider) ActiveKeyIDs() []string {
	if err := p.load(); err != nil {
		return nil
	}
	return sortedMapKeys(p.keys)
}
