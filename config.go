package protectql

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the environment-driven configuration for building an engine.
//
// Variables:
//
//	PROTECTQL_KEYS            "v1:<base64 32-byte key>,v2:<base64 32-byte key>"
//	PROTECTQL_DEFAULT_KEY_ID  key id for new encryptions (default: first key)
//	PROTECTQL_VAULT_ADDR      Vault address (enables the Vault provider)
//	PROTECTQL_VAULT_TOKEN     Vault token
//	PROTECTQL_VAULT_PATH      Vault secret path holding the key map
//	LOG_LEVEL                 "debug" enables debug logging
type Config struct {
	Keys         map[string][]byte
	DefaultKeyID string

	VaultAddr  string
	VaultToken string
	VaultPath  string
}

// LoadConfig loads .env (best effort) and reads the PROTECTQL_* variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Keys:         make(map[string][]byte),
		DefaultKeyID: os.Getenv("PROTECTQL_DEFAULT_KEY_ID"),
		VaultAddr:    os.Getenv("PROTECTQL_VAULT_ADDR"),
		VaultToken:   os.Getenv("PROTECTQL_VAULT_TOKEN"),
		VaultPath:    os.Getenv("PROTECTQL_VAULT_PATH"),
	}

	raw := os.Getenv("PROTECTQL_KEYS")
	if raw != "" {
		for _, entry := range strings.Split(raw, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			id, b64, ok := strings.Cut(entry, ":")
			if !ok {
				return nil, fmt.Errorf("protectql: PROTECTQL_KEYS entry %q: want id:base64key", entry)
			}
			key, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return nil, fmt.Errorf("protectql: PROTECTQL_KEYS key %q: %w", id, err)
			}
			if len(key) != 32 {
				return nil, fmt.Errorf("protectql: PROTECTQL_KEYS key %q: %w", id, ErrInvalidKeySize)
			}
			cfg.Keys[id] = key
			if cfg.DefaultKeyID == "" {
				cfg.DefaultKeyID = id
			}
		}
	}
	return cfg, nil
}

// NewEngine builds a LocalEngine from the configuration: Vault-provided keys
// when a Vault address is configured, environment keys otherwise.
func (c *Config) NewEngine(opts ...EngineOption) (*LocalEngine, error) {
	if c.VaultAddr != "" {
		provider, err := NewVaultKeyProvider(c.VaultAddr, c.VaultToken, c.VaultPath, c.DefaultKeyID)
		if err != nil {
			return nil, err
		}
		return NewLocalEngineWithProvider(provider, opts...)
	}
	if len(c.Keys) == 0 {
		return nil, ErrNoKeys
	}
	all := make([]EngineOption, 0, len(c.Keys)+1+len(opts))
	for _, id := range sortedMapKeys(c.Keys) {
		all = append(all, WithKey(id, c.Keys[id]))
	}
	if c.DefaultKeyID != "" {
		all = append(all, WithDefaultKeyID(c.DefaultKeyID))
	}
	all = append(all, opts...)
	return NewLocalEngine(all...)
}

// NewLogger builds the production zap logger used around the operator set,
// honoring LOG_LEVEL=debug.
func NewLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if os.Getenv("LOG_LEVEL") == "debug" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
