package protectql

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/clause"
)

// fakeEngine records every call so tests can assert batch shapes and call
// counts. Payloads are tagged with a per-engine sequence number, so two terms
// with identical plaintexts still produce distinguishable results.
type fakeEngine struct {
	mu          sync.Mutex
	batchCalls  int
	singleCalls int
	batches     [][]QueryTerm
	stored      map[string]any
	failWith    error
	seq         int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{stored: make(map[string]any)}
}

func (f *fakeEngine) Encrypt(_ context.Context, plaintext any, column, table string) (*Encrypted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.seq++
	ct := fmt.Sprintf("ct-%d", f.seq)
	f.stored[ct] = plaintext
	return &Encrypted{
		Version:    2,
		Ident:      Ident{Table: table, Column: column},
		KeyID:      "fake",
		Ciphertext: ct,
	}, nil
}

func (f *fakeEngine) Decrypt(_ context.Context, payload *Encrypted) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	plain, ok := f.stored[payload.Ciphertext]
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

func (f *fakeEngine) EncryptQuery(ctx context.Context, term QueryTerm) (*Encrypted, error) {
	f.mu.Lock()
	if f.failWith != nil {
		f.mu.Unlock()
		return nil, f.failWith
	}
	f.singleCalls++
	f.seq++
	enc := f.encryptTerm(term)
	f.mu.Unlock()
	return enc, nil
}

func (f *fakeEngine) EncryptQueryBatch(_ context.Context, terms []QueryTerm) ([]*Encrypted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.batchCalls++
	f.batches = append(f.batches, append([]QueryTerm(nil), terms...))
	out := make([]*Encrypted, len(terms))
	for i, term := range terms {
		f.seq++
		out[i] = f.encryptTerm(term)
	}
	return out, nil
}

// encryptTerm must be called with f.mu held and f.seq already advanced.
func (f *fakeEngine) encryptTerm(term QueryTerm) *Encrypted {
	enc := &Encrypted{
		Version: 2,
		Ident:   Ident{Table: term.Table, Column: term.Column},
		KeyID:   "fake",
	}
	if term.IndexType == IndexSteVec && term.QueryOp == QueryOpSelector {
		enc.Selector = fmt.Sprintf("sel-%d-%v", f.seq, term.Plaintext)
	} else {
		enc.Unique = fmt.Sprintf("enc-%d-%v", f.seq, term.Plaintext)
	}
	return enc
}

func (f *fakeEngine) calls() (batch, single int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls, f.singleCalls
}

func (f *fakeEngine) lastBatch() []QueryTerm {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

// testSchema declares the fixture used across the operator tests.
//
//	users.email    equality + freeTextSearch
//	users.age      orderAndRange
//	users.bio      freeTextSearch + orderAndRange (match wins inference)
//	users.profile  searchableJson
//	users.nickname no indexes (declared but unsearchable is impossible via the
//	               builder, so it is simply absent: plaintext)
func testSchema() (*Schema, *Table) {
	users := NewTable("users",
		NewColumn("email").Equality().FreeTextSearch(),
		NewColumn("age").OrderAndRange(),
		NewColumn("bio").FreeTextSearch().OrderAndRange(),
		NewColumn("profile").SearchableJSON("users/profile"),
	)
	return NewSchema(users), users
}

func newTestOps(t *testing.T) (*Operators, *fakeEngine, *Table) {
	t.Helper()
	schema, users := testSchema()
	engine := newFakeEngine()
	return NewOperators(engine, schema), engine, users
}

// testKey derives a deterministic 32-byte master key for local engine tests.
func testKey(seed string) []byte {
	key := make([]byte, 32)
	copy(key, seed)
	return key
}

// exprEqValue unwraps the encrypted payload from an equality fragment.
func exprEqValue(t *testing.T, expr clause.Expression) *Encrypted {
	t.Helper()
	eq, ok := expr.(clause.Eq)
	require.True(t, ok)
	enc, ok := eq.Value.(*Encrypted)
	require.True(t, ok)
	return enc
}
