package protectql

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newLocalEngine(t *testing.T, opts ...EngineOption) *LocalEngine {
	t.Helper()
	if len(opts) == 0 {
		opts = []EngineOption{WithKey("v1", testKey("v1-master"))}
	}
	engine, err := NewLocalEngine(opts...)
	require.NoError(t, err)
	return engine
}

func TestNewLocalEngine_Validation(t *testing.T) {
	_, err := NewLocalEngine()
	require.ErrorIs(t, err, ErrNoKeys)

	_, err = NewLocalEngine(WithKey("v1", testKey("a")), WithDefaultKeyID("v9"))
	require.ErrorIs(t, err, ErrDefaultKeyNotFound)

	_, err = NewLocalEngine(WithKey("v1", []byte("short")))
	require.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewLocalEngine(WithKey("", testKey("a")))
	require.ErrorIs(t, err, ErrInvalidKeyID)

	_, err = NewLocalEngine(WithKey(strings.Repeat("x", 256), testKey("a")))
	require.ErrorIs(t, err, ErrInvalidKeyID)
}

func TestNewLocalEngine_FirstKeyIsDefault(t *testing.T) {
	engine := newLocalEngine(t, WithKey("v1", testKey("a")), WithKey("v2", testKey("b")))
	require.Equal(t, "v1", engine.DefaultKeyID())
	require.Equal(t, []string{"v1", "v2"}, engine.ActiveKeyIDs())

	engine = newLocalEngine(t,
		WithKey("v1", testKey("a")),
		WithKey("v2", testKey("b")),
		WithDefaultKeyID("v2"),
	)
	require.Equal(t, "v2", engine.DefaultKeyID())
}

func TestLocalEngine_RoundTrip(t *testing.T) {
	engine := newLocalEngine(t)
	ctx := context.Background()

	cases := []struct {
		plaintext any
		want      any
	}{
		{"hello world", "hello world"},
		{"", ""},
		{42, float64(42)}, // JSON round trip widens to float64
		{4.5, 4.5},
		{true, true},
		{map[string]any{"a": "b"}, map[string]any{"a": "b"}},
		{[]any{"x", float64(1)}, []any{"x", float64(1)}},
	}
	for _, tc := range cases {
		enc, err := engine.Encrypt(ctx, tc.plaintext, "email", "users")
		require.NoError(t, err)
		require.Equal(t, 2, enc.Version)
		require.Equal(t, Ident{Table: "users", Column: "email"}, enc.Ident)
		require.Equal(t, "v1", enc.KeyID)
		require.NotEmpty(t, enc.Ciphertext)

		got, err := engine.Decrypt(ctx, enc)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestLocalEngine_CiphertextIsRandomized(t *testing.T) {
	engine := newLocalEngine(t)
	ctx := context.Background()

	a, err := engine.Encrypt(ctx, "same", "email", "users")
	require.NoError(t, err)
	b, err := engine.Encrypt(ctx, "same", "email", "users")
	require.NoError(t, err)

	require.NotEqual(t, a.Ciphertext, b.Ciphertext)
	// The equality term stays deterministic.
	require.Equal(t, a.Unique, b.Unique)
}

func TestLocalEngine_CompressionRoundTrip(t *testing.T) {
	engine := newLocalEngine(t,
		WithKey("v1", testKey("a")),
		WithCompressionThreshold(64),
	)
	ctx := context.Background()

	big := strings.Repeat("compressible text ", 500)
	enc, err := engine.Encrypt(ctx, big, "bio", "users")
	require.NoError(t, err)

	// Compression must actually have happened for this payload.
	raw, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	require.NoError(t, err)
	require.Equal(t, flagZstd, raw[0])
	require.Less(t, len(raw), len(big))

	got, err := engine.Decrypt(ctx, enc)
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestLocalEngine_CompressionDisabled(t *testing.T) {
	engine := newLocalEngine(t,
		WithKey("v1", testKey("a")),
		WithCompressionThreshold(64),
		WithCompressionDisabled(),
	)
	enc, err := engine.Encrypt(context.Background(), strings.Repeat("x", 4096), "bio", "users")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	require.NoError(t, err)
	require.Equal(t, flagNoCompression, raw[0])
}

func TestLocalEngine_DecryptErrors(t *testing.T) {
	engine := newLocalEngine(t)
	ctx := context.Background()

	_, err := engine.Decrypt(ctx, nil)
	require.ErrorIs(t, err, ErrWasNull)

	_, err = engine.Decrypt(ctx, &Encrypted{})
	require.ErrorIs(t, err, ErrWasNull)

	_, err = engine.Decrypt(ctx, &Encrypted{Ciphertext: "!!! not base64 !!!"})
	require.ErrorIs(t, err, ErrInvalidFormat)

	_, err = engine.Decrypt(ctx, &Encrypted{Ciphertext: base64.StdEncoding.EncodeToString([]byte("tiny"))})
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestLocalEngine_TamperDetection(t *testing.T) {
	engine := newLocalEngine(t)
	ctx := context.Background()

	enc, err := engine.Encrypt(ctx, "secret", "email", "users")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := &Encrypted{Ciphertext: base64.StdEncoding.EncodeToString(raw)}

	_, err = engine.Decrypt(ctx, tampered)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestLocalEngine_UnknownKey(t *testing.T) {
	producer := newLocalEngine(t, WithKey("v9", testKey("other")))
	enc, err := producer.Encrypt(context.Background(), "x", "email", "users")
	require.NoError(t, err)

	consumer := newLocalEngine(t) // only knows v1
	_, err = consumer.Decrypt(context.Background(), enc)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLocalEngine_OuterKeyIDSwapDetected(t *testing.T) {
	// Both ids carry the same master key, so the box opens either way and only
	// the authenticated inner id can reveal the swap.
	engine := newLocalEngine(t,
		WithKey("aa", testKey("shared")),
		WithKey("bb", testKey("shared")),
	)
	ctx := context.Background()

	enc, err := engine.Encrypt(ctx, "x", "email", "users")
	require.NoError(t, err)
	require.Equal(t, "aa", enc.KeyID)

	raw, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	require.NoError(t, err)
	copy(raw[2:4], "bb")
	swapped := &Encrypted{Ciphertext: base64.StdEncoding.EncodeToString(raw)}

	_, err = engine.Decrypt(ctx, swapped)
	require.ErrorIs(t, err, ErrKeyIDMismatch)
}

func TestLocalEngine_Rotation(t *testing.T) {
	ctx := context.Background()
	old := newLocalEngine(t, WithKey("v1", testKey("old")))
	enc, err := old.Encrypt(ctx, "carry me over", "email", "users")
	require.NoError(t, err)

	// Rotation engine knows both keys and seals new data under v2.
	engine := newLocalEngine(t,
		WithKey("v1", testKey("old")),
		WithKey("v2", testKey("new")),
		WithDefaultKeyID("v2"),
	)
	rotated, err := engine.RotatePayload(ctx, enc)
	require.NoError(t, err)
	require.Equal(t, "v2", rotated.KeyID)
	require.Equal(t, enc.Ident, rotated.Ident)

	got, err := engine.Decrypt(ctx, rotated)
	require.NoError(t, err)
	require.Equal(t, "carry me over", got)

	// The old engine can no longer open it.
	_, err = old.Decrypt(ctx, rotated)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLocalEngine_UniqueTermMatchesStoredTerm(t *testing.T) {
	engine := newLocalEngine(t, WithKey("v1", testKey("a")), WithNormalizer(NormalizeEmail))
	ctx := context.Background()

	stored, err := engine.Encrypt(ctx, "  Alice@Example.COM ", "email", "users")
	require.NoError(t, err)

	query, err := engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: "alice@example.com",
		Table:     "users",
		Column:    "email",
		IndexType: IndexUnique,
	})
	require.NoError(t, err)
	require.Equal(t, stored.Unique, query.Unique)

	// A different column or table yields a different term.
	other, err := engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: "alice@example.com",
		Table:     "users",
		Column:    "backup_email",
		IndexType: IndexUnique,
	})
	require.NoError(t, err)
	require.NotEqual(t, query.Unique, other.Unique)
}

func TestLocalEngine_MatchTerms(t *testing.T) {
	engine := newLocalEngine(t)
	ctx := context.Background()

	exact, err := engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: "Alice Smith", Table: "users", Column: "bio", IndexType: IndexMatch,
	})
	require.NoError(t, err)
	require.Len(t, exact.Match, 2)

	// Wildcards and case differences produce the same tokens.
	pattern, err := engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: "%alice smith%", Table: "users", Column: "bio", IndexType: IndexMatch,
	})
	require.NoError(t, err)
	require.Equal(t, exact.Match, pattern.Match)

	_, err = engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: 42, Table: "users", Column: "bio", IndexType: IndexMatch,
	})
	require.Error(t, err)
}

func TestLocalEngine_OreUnsupported(t *testing.T) {
	engine := newLocalEngine(t)
	_, err := engine.EncryptQuery(context.Background(), QueryTerm{
		Plaintext: 5, Table: "users", Column: "age", IndexType: IndexOre,
	})
	require.ErrorIs(t, err, ErrUnsupportedIndex)
}

func TestLocalEngine_SteVecSelector(t *testing.T) {
	engine := newLocalEngine(t)
	ctx := context.Background()

	sel1, err := engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: "user.email", Table: "users", Column: "profile",
		IndexType: IndexSteVec, QueryOp: QueryOpSelector, Path: "user.email",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sel1.Selector)
	require.Empty(t, sel1.Unique)

	// Selectors are deterministic per path.
	sel2, err := engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: "user.email", Table: "users", Column: "profile",
		IndexType: IndexSteVec, QueryOp: QueryOpSelector, Path: "user.email",
	})
	require.NoError(t, err)
	require.Equal(t, sel1.Selector, sel2.Selector)
}

func TestLocalEngine_SteVecTerm(t *testing.T) {
	engine := newLocalEngine(t)
	ctx := context.Background()

	term, err := engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: "alice@example.com", Table: "users", Column: "profile",
		IndexType: IndexSteVec, QueryOp: QueryOpTerm, Path: "user.email",
	})
	require.NoError(t, err)
	require.NotEmpty(t, term.Selector)
	require.NotEmpty(t, term.Unique)

	// The selector part matches a bare selector query for the same path.
	sel, err := engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: "user.email", Table: "users", Column: "profile",
		IndexType: IndexSteVec, QueryOp: QueryOpSelector, Path: "user.email",
	})
	require.NoError(t, err)
	require.Equal(t, sel.Selector, term.Selector)
}

func TestLocalEngine_SteVecDefaultOp(t *testing.T) {
	engine := newLocalEngine(t)
	ctx := context.Background()

	// Default op with a string plaintext behaves like a selector request.
	got, err := engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: "user.email", Table: "users", Column: "profile", IndexType: IndexSteVec,
	})
	require.NoError(t, err)
	require.NotEmpty(t, got.Selector)
	require.Empty(t, got.Unique)

	// Any other value behaves like a containment term.
	got, err = engine.EncryptQuery(ctx, QueryTerm{
		Plaintext: map[string]any{"role": "admin"}, Table: "users", Column: "profile",
		IndexType: IndexSteVec, Path: "user",
	})
	require.NoError(t, err)
	require.NotEmpty(t, got.Unique)
}

func TestLocalEngine_BatchIsPositional(t *testing.T) {
	engine := newLocalEngine(t)

	terms := []QueryTerm{
		{Plaintext: "a", Table: "users", Column: "email", IndexType: IndexUnique},
		{Plaintext: "a", Table: "users", Column: "email", IndexType: IndexUnique},
		{Plaintext: "b", Table: "users", Column: "email", IndexType: IndexUnique},
	}
	out, err := engine.EncryptQueryBatch(context.Background(), terms)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, out[0].Unique, out[1].Unique)
	require.NotEqual(t, out[0].Unique, out[2].Unique)
}

func TestLocalEngine_Close(t *testing.T) {
	engine := newLocalEngine(t)
	ctx := context.Background()

	enc, err := engine.Encrypt(ctx, "x", "email", "users")
	require.NoError(t, err)

	engine.Close()
	_, err = engine.Encrypt(ctx, "x", "email", "users")
	require.ErrorIs(t, err, ErrEngineClosed)
	_, err = engine.Decrypt(ctx, enc)
	require.ErrorIs(t, err, ErrEngineClosed)
	_, err = engine.EncryptQuery(ctx, QueryTerm{Plaintext: "x", IndexType: IndexUnique})
	require.ErrorIs(t, err, ErrEngineClosed)
}

func TestLocalEngine_WithOperators(t *testing.T) {
	schema, users := testSchema()
	engine := newLocalEngine(t)
	ops := NewOperators(engine, schema)
	ctx := context.Background()

	stored, err := engine.Encrypt(ctx, "alice@example.com", "email", "users")
	require.NoError(t, err)

	expr, err := ops.Eq(users.Column("email"), "alice@example.com").Expr(ctx)
	require.NoError(t, err)

	// The query term matches what Encrypt stored, so the database-side
	// equality comparison would hit.
	queryPayload := exprEqValue(t, expr)
	require.Equal(t, stored.Unique, queryPayload.Unique)
}
