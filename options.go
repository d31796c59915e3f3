package protectql

// EngineOption is a functional option for configuring a LocalEngine.
type EngineOption func(*engineConfig)

// engineConfig holds LocalEngine construction state.
type engineConfig struct {
	keys                 map[string][]byte // keyID -> 32-byte master key
	defaultKeyID         string
	compressionThreshold int
	compressionDisabled  bool
	normalizer           Normalizer
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		keys:                 make(map[string][]byte),
		compressionThreshold: defaultCompressionThreshold,
		normalizer:           NormalizeNone,
	}
}

// WithKey registers a 32-byte master key under the given key id. Multiple keys
// support rotation; the first registered key becomes the default unless
// WithDefaultKeyID overrides it. The key is copied; callers may zero theirs
// after construction.
func WithKey(keyID string, masterKey []byte) EngineOption {
	return func(c *engineConfig) {
		k := make([]byte, len(masterKey))
		copy(k, masterKey)
		c.keys[keyID] = k
		if c.defaultKeyID == "" {
			c.defaultKeyID = keyID
		}
	}
}

// WithDefaultKeyID selects the key used for new encryptions. The key must be
// registered via WithKey.
func WithDefaultKeyID(keyID string) EngineOption {
	return func(c *engineConfig) { c.defaultKeyID = keyID }
}

// WithCompressionThreshold sets the minimum plaintext size in bytes before
// zstd compression is attempted. Default 1024.
func WithCompressionThreshold(bytes int) EngineOption {
	return func(c *engineConfig) { c.compressionThreshold = bytes }
}

// WithCompressionDisabled disables compression entirely, for data that is
// already compressed.
func WithCompressionDisabled() EngineOption {
	return func(c *engineConfig) { c.compressionDisabled = true }
}

// WithNormalizer sets the normalizer applied to string plaintexts before
// deterministic search terms are computed. Default NormalizeNone. Use the same
// normalizer for the life of the stored data.
func WithNormalizer(n Normalizer) EngineOption {
	return func(c *engineConfig) {
		if n != nil {
			c.normalizer = n
		}
	}
}
