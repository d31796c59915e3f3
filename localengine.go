package protectql

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"golang.org/x/crypto/nacl/secretbox"
)

// LocalEngine is an in-process Engine for development and tests. Values are
// sealed with XSalsa20-Poly1305 under HKDF-derived keys, large plaintexts are
// zstd-compressed, and search terms are deterministic HMAC-SHA256 tokens, so
// equality, match, and JSON path queries work end to end without a remote
// service. Order/range (ore) terms cannot be produced locally; EncryptQuery
// returns ErrUnsupportedIndex for them.
//
// Safe for concurrent use.
type LocalEngine struct {
	keys      map[string]*derivedKeys
	defaultID string
	cfg       *engineConfig
	closed    atomic.Bool
}

// sortedMapKeys returns map keys sorted alphabetically.
func sortedMapKeys[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewLocalEngine builds a LocalEngine. At least one key must be provided via
// WithKey.
func NewLocalEngine(opts ...EngineOption) (*LocalEngine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.keys) == 0 {
		return nil, ErrNoKeys
	}
	if _, ok := cfg.keys[cfg.defaultKeyID]; !ok {
		return nil, ErrDefaultKeyNotFound
	}
	for keyID := range cfg.keys {
		if len(keyID) == 0 || len(keyID) > 255 {
			return nil, ErrInvalidKeyID
		}
	}

	// Master keys are not needed once derivation is done.
	defer func() {
		for _, key := range cfg.keys {
			for i := range key {
				key[i] = 0
			}
		}
		cfg.keys = nil
	}()

	derived := make(map[string]*derivedKeys, len(cfg.keys))
	for keyID, masterKey := range cfg.keys {
		dk, err := deriveKeys(masterKey)
		if err != nil {
			return nil, err
		}
		derived[keyID] = dk
	}

	return &LocalEngine{
		keys:      derived,
		defaultID: cfg.defaultKeyID,
		cfg:       cfg,
	}, nil
}

// NewLocalEngineWithProvider fetches all active keys from a KeyProvider and
// builds a LocalEngine from them.
func NewLocalEngineWithProvider(provider KeyProvider, opts ...EngineOption) (*LocalEngine, error) {
	ids := provider.ActiveKeyIDs()
	if len(ids) == 0 {
		return nil, ErrNoKeys
	}
	all := make([]EngineOption, 0, len(ids)+1+len(opts))
	for _, keyID := range ids {
		key, err := provider.GetKey(keyID)
		if err != nil {
			return nil, err
		}
		all = append(all, WithKey(keyID, key))
	}
	all = append(all, WithDefaultKeyID(provider.DefaultKeyID()))
	all = append(all, opts...)
	return NewLocalEngine(all...)
}

// DefaultKeyID returns the key id used for new encryptions.
func (e *LocalEngine) DefaultKeyID() string { return e.defaultID }

// ActiveKeyIDs returns all registered key ids, sorted.
func (e *LocalEngine) ActiveKeyIDs() []string { return sortedMapKeys(e.keys) }

// Close zeros all derived key material. The engine is unusable afterwards.
func (e *LocalEngine) Close() {
	e.closed.Store(true)
	for _, dk := range e.keys {
		for i := range dk.sealing {
			dk.sealing[i] = 0
		}
		for i := range dk.term {
			dk.term[i] = 0
		}
		for i := range dk.selector {
			dk.selector[i] = 0
		}
	}
	e.keys = nil
}

// Encrypt seals plaintext for storage in column/table. The payload carries the
// ciphertext envelope plus a deterministic equality term, so stored rows can
// be matched by unique-indexed queries.
func (e *LocalEngine) Encrypt(_ context.Context, plaintext any, column, table string) (*Encrypted, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	raw, err := json.Marshal(plaintext)
	if err != nil {
		return nil, err
	}

	dk := e.keys[e.defaultID]
	inner := sealInner(e.defaultID, raw)
	toSeal, flag := maybeCompress(inner, e.cfg.compressionThreshold, e.cfg.compressionDisabled)
	nonce := generateNonce()
	box := secretbox.Seal(nil, toSeal, &nonce, &dk.sealing)

	return &Encrypted{
		Version:    2,
		Ident:      Ident{Table: table, Column: column},
		KeyID:      e.defaultID,
		Ciphertext: base64.StdEncoding.EncodeToString(sealEnvelope(flag, e.defaultID, nonce, box)),
		Unique:     e.uniqueTerm(dk, table, column, plaintext),
	}, nil
}

// Decrypt opens a payload produced by Encrypt, selecting the key version from
// the envelope.
func (e *LocalEngine) Decrypt(_ context.Context, payload *Encrypted) (any, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if payload == nil || payload.Ciphertext == "" {
		return nil, ErrWasNull
	}
	data, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	flag, keyID, nonce, box, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	dk, ok := e.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	opened, ok := secretbox.Open(nil, box, &nonce, &dk.sealing)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	decompressed, err := decompress(opened, flag)
	if err != nil {
		return nil, err
	}
	innerID, raw, err := parseInner(decompressed)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(innerID), []byte(keyID)) != 1 {
		return nil, ErrKeyIDMismatch
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, ErrInvalidFormat
	}
	return out, nil
}

// EncryptQuery produces the search term payload for one query term.
func (e *LocalEngine) EncryptQuery(_ context.Context, term QueryTerm) (*Encrypted, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	dk := e.keys[e.defaultID]
	out := &Encrypted{
		Version: 2,
		Ident:   Ident{Table: term.Table, Column: term.Column},
		KeyID:   e.defaultID,
	}

	switch term.IndexType {
	case IndexUnique:
		out.Unique = e.uniqueTerm(dk, term.Table, term.Column, term.Plaintext)
	case IndexMatch:
		s, ok := term.Plaintext.(string)
		if !ok {
			return nil, fmt.Errorf("protectql: match terms require string plaintext, got %T", term.Plaintext)
		}
		for _, tok := range matchTokens(s) {
			out.Match = append(out.Match, hmacHex(&dk.term, term.Table, term.Column, tok))
		}
	case IndexOre:
		return nil, ErrUnsupportedIndex
	case IndexSteVec:
		op := term.QueryOp
		if op == QueryOpDefault {
			if _, isString := term.Plaintext.(string); isString {
				op = QueryOpSelector
			} else {
				op = QueryOpTerm
			}
		}
		switch op {
		case QueryOpSelector:
			path, ok := term.Plaintext.(string)
			if !ok {
				return nil, fmt.Errorf("protectql: selector terms require a string path, got %T", term.Plaintext)
			}
			out.Selector = hmacHex(&dk.selector, term.Table, term.Column, path)
		case QueryOpTerm:
			canonical, err := canonicalize(term.Plaintext, e.cfg.normalizer)
			if err != nil {
				return nil, err
			}
			out.Selector = hmacHex(&dk.selector, term.Table, term.Column, term.Path)
			out.Unique = hmacHex(&dk.term, term.Table, term.Column, term.Path, canonical)
		}
	default:
		return nil, fmt.Errorf("protectql: query term missing index type")
	}
	return out, nil
}

// EncryptQueryBatch encrypts terms in order. Results are positional: one
// output per input, duplicates included.
func (e *LocalEngine) EncryptQueryBatch(ctx context.Context, terms []QueryTerm) ([]*Encrypted, error) {
	out := make([]*Encrypted, len(terms))
	for i, term := range terms {
		enc, err := e.EncryptQuery(ctx, term)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

// RotatePayload re-seals a stored payload under the current default key.
// Search terms are recomputed.
func (e *LocalEngine) RotatePayload(ctx context.Context, payload *Encrypted) (*Encrypted, error) {
	plain, err := e.Decrypt(ctx, payload)
	if err != nil {
		return nil, err
	}
	return e.Encrypt(ctx, plain, payload.Ident.Column, payload.Ident.Table)
}

// uniqueTerm computes the deterministic equality term for a plaintext.
func (e *LocalEngine) uniqueTerm(dk *derivedKeys, table, column string, plaintext any) string {
	canonical, err := canonicalize(plaintext, e.cfg.normalizer)
	if err != nil {
		// json.Marshal only fails for values that can't be stored either;
		// the term is simply omitted.
		return ""
	}
	return hmacHex(&dk.term, table, column, canonical)
}

// canonicalize turns a plaintext into the canonical string search terms are
// computed from. Strings pass through the normalizer; everything else uses its
// JSON encoding (Go marshals map keys sorted, so equal values encode equally).
func canonicalize(plaintext any, norm Normalizer) (string, error) {
	if s, ok := plaintext.(string); ok {
		return norm(s), nil
	}
	b, err := json.Marshal(plaintext)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// hmacHex computes HMAC-SHA256 over the parts joined with a 0x1f separator.
func hmacHex(key *[32]byte, parts ...string) string {
	h := hmac.New(sha256.New, key[:])
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// generateNonce returns a cryptographically random 24-byte nonce. Panics only
// if the system random source fails.
func generateNonce() [24]byte {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return nonce
}
