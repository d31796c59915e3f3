package protectql

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// QueryTerm is one entry in a batch encryption request: a plaintext bound to
// its target column/table, the index type the term is for, and for ste_vec
// terms, the query operation and JSON path.
type QueryTerm struct {
	Plaintext any
	Table     string
	Column    string
	IndexType IndexType
	QueryOp   QueryOp
	// Path is the normalized dot-notation JSON path a ste_vec term applies to.
	// Empty for non-JSON terms; for selector terms the path is the Plaintext.
	Path string
}

// Engine is the encryption service contract. Implementations encrypt values
// for storage, decrypt stored payloads, and produce searchable query terms.
// All calls may fail with an engine-side error (network, key management,
// malformed plaintext); this package wraps those into *EncryptionError.
//
// EncryptQueryBatch responses are positional: the result slice has the same
// length as the request slice and result[i] corresponds to terms[i]. Duplicate
// plaintexts are legal and each occupies its own slot.
type Engine interface {
	Encrypt(ctx context.Context, plaintext any, column, table string) (*Encrypted, error)
	Decrypt(ctx context.Context, payload *Encrypted) (any, error)
	EncryptQuery(ctx context.Context, term QueryTerm) (*Encrypted, error)
	EncryptQueryBatch(ctx context.Context, terms []QueryTerm) ([]*Encrypted, error)
}

// Ident names the table and column a payload belongs to.
type Ident struct {
	Table  string `json:"t"`
	Column string `json:"c"`
}

// Encrypted is the EQL v2 JSONB payload stored in (or compared against) an
// encrypted column. Beyond the structural fields below this package treats it
// as opaque; the terms only have meaning to the database-side extension.
type Encrypted struct {
	Version    int      `json:"v"`
	Ident      Ident    `json:"i"`
	KeyID      string   `json:"k,omitempty"`
	Ciphertext string   `json:"c,omitempty"`
	Unique     string   `json:"u,omitempty"`
	Match      []string `json:"m,omitempty"`
	Ore        []string `json:"ob,omitempty"`
	Selector   string   `json:"sv,omitempty"`
}

// Value implements driver.Valuer, marshaling the payload to its JSONB form.
func (e *Encrypted) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for reading a JSONB payload back.
func (e *Encrypted) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return ErrWasNull
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	}
	return fmt.Errorf("%w: cannot scan %T", ErrInvalidFormat, src)
}

// IsEncryptedPayload reports whether v already looks like an encrypted
// payload: a version, an identifier, and at least one of a ciphertext or a
// search term. Used when walking records to decide which fields still need
// encryption.
func IsEncryptedPayload(v any) bool {
	switch p := v.(type) {
	case *Encrypted:
		return p != nil && p.Version > 0 && hasBody(p)
	case Encrypted:
		return p.Version > 0 && hasBody(&p)
	case map[string]any:
		if _, ok := p["v"]; !ok {
			return false
		}
		if _, ok := p["i"]; !ok {
			return false
		}
		for _, k := range []string{"c", "u", "m", "ob", "sv"} {
			if _, ok := p[k]; ok {
				return true
			}
		}
	}
	return false
}

func hasBody(e *Encrypted) bool {
	return e.Ciphertext != "" || e.Unique != "" || e.Selector != "" ||
		len(e.Match) > 0 || len(e.Ore) > 0
}

// payloadFromAny coerces a scanned value (typically a map decoded from JSONB)
// back into an *Encrypted.
func payloadFromAny(v any) (*Encrypted, error) {
	switch p := v.(type) {
	case *Encrypted:
		return p, nil
	case Encrypted:
		return &p, nil
	case map[string]any:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		var e Encrypted
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case []byte:
		var e Encrypted
		if err := json.Unmarshal(p, &e); err != nil {
			return nil, err
		}
		return &e, nil
	case string:
		var e Encrypted
		if err := json.Unmarshal([]byte(p), &e); err != nil {
			return nil, err
		}
		return &e, nil
	}
	return nil, fmt.Errorf("%w: not an encrypted payload: %T", ErrInvalidFormat, v)
}
