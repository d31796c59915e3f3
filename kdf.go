package protectql

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Info strings for HKDF derivation. Distinct strings keep the sealing key,
// the search-term key, and the selector key cryptographically separated.
const (
	infoSealing  = "protectql-sealing"
	infoTerm     = "protectql-term"
	infoSelector = "protectql-selector"
)

// derivedKeys holds the per-purpose keys derived from one master key version.
// Derived once at engine construction and cached.
type derivedKeys struct {
	sealing  [32]byte // XSalsa20-Poly1305 key
	term     [32]byte // HMAC-SHA256 key for unique/match terms
	selector [32]byte // HMAC-SHA256 key for JSON path selectors
}

// deriveKeys expands a 32-byte master key into the per-purpose keys using
// HKDF-SHA256.
func deriveKeys(masterKey []byte) (*derivedKeys, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidKeySize
	}
	keys := &derivedKeys{}
	for _, d := range []struct {
		info string
		out  []byte
	}{
		{infoSealing, keys.sealing[:]},
		{infoTerm, keys.term[:]},
		{infoSelector, keys.selector[:]},
	} {
		if err := hkdfDerive(masterKey, d.info, d.out); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// hkdfDerive performs HKDF-SHA256 with the given info string. A nil salt means
// HKDF uses a zero-filled salt of hash length.
func hkdfDerive(masterKey []byte, info string, out []byte) error {
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	_, err := io.ReadFull(reader, out)
	return err
}
