package protectql

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/clause"
)

func TestBindColumn_SchemaColumn(t *testing.T) {
	ops, _, users := newTestOps(t)

	info := ops.bindColumn(users.Column("email"), nil)
	require.True(t, info.encrypted())
	require.Equal(t, "users", info.tableName)
	require.Equal(t, "email", info.columnName)
	require.True(t, info.capability.equality)
}

func TestBindColumn_PlainRef(t *testing.T) {
	ops, _, _ := newTestOps(t)

	info := ops.bindColumn(Col("users", "age"), nil)
	require.True(t, info.encrypted())
	require.True(t, info.capability.orderRange)

	info = ops.bindColumn(FromClause(clause.Column{Table: "users", Name: "email"}), nil)
	require.True(t, info.encrypted())
}

func TestBindColumn_UnknownTableIsPlaintext(t *testing.T) {
	ops, _, _ := newTestOps(t)

	info := ops.bindColumn(Col("orders", "total"), nil)
	require.False(t, info.encrypted())
	require.Equal(t, "orders", info.tableName)
}

func TestBindColumn_UndeclaredColumnIsPlaintext(t *testing.T) {
	ops, _, _ := newTestOps(t)

	info := ops.bindColumn(Col("users", "nickname"), nil)
	require.False(t, info.encrypted())
	require.NotNil(t, info.table)
}

func TestBindColumn_NoTableIdentity(t *testing.T) {
	ops, _, _ := newTestOps(t)

	info := ops.bindColumn(Col("", "email"), nil)
	require.False(t, info.encrypted())
}

func TestBindColumn_ExplicitTableWins(t *testing.T) {
	ops, _, _ := newTestOps(t)
	other := NewTable("users_archive", NewColumn("email").Equality())

	info := ops.bindColumn(Col("ignored", "email"), other)
	require.True(t, info.encrypted())
	require.Equal(t, other, info.table)
}

func TestCachedTable_WriteOnce(t *testing.T) {
	ops, _, users := newTestOps(t)

	t1, ok := ops.cachedTable("users")
	require.True(t, ok)
	require.Same(t, users, t1)

	t2, ok := ops.cachedTable("users")
	require.True(t, ok)
	require.Same(t, t1, t2)
}

func TestCachedTable_NegativeEntry(t *testing.T) {
	ops, _, _ := newTestOps(t)

	_, ok := ops.cachedTable("missing")
	require.False(t, ok)

	// The miss itself is cached.
	ops.mu.RLock()
	cached, present := ops.tables["missing"]
	ops.mu.RUnlock()
	require.True(t, present)
	require.Nil(t, cached)
}

type accountModel struct {
	Email     string `gorm:"column:email_enc" encrypted:"equality"`
	CreatedAt string `encrypted:"orderAndRange"`
	Profile   []byte `encrypted:"searchableJson=accounts/profile"`
	Plain     string
	hidden    string `encrypted:"equality"` //nolint:unused // must be skipped
}

func TestRegisterModel_TagDerivation(t *testing.T) {
	schema, _ := testSchema()
	schema.RegisterModel("accounts", &accountModel{})
	ops := NewOperators(newFakeEngine(), schema)

	tbl, ok := ops.cachedTable("accounts")
	require.True(t, ok)
	require.NotNil(t, tbl)

	email := tbl.Column("email_enc")
	require.NotNil(t, email)
	require.True(t, email.equality)

	created := tbl.Column("created_at")
	require.NotNil(t, created)
	require.True(t, created.orderRange)

	profile := tbl.Column("profile")
	require.NotNil(t, profile)
	require.True(t, profile.json)
	require.Equal(t, "accounts/profile", profile.jsonPrefix)

	require.Nil(t, tbl.Column("plain"))
	require.Nil(t, tbl.Column("hidden"))
}

func TestRegisterModel_NoEncryptedFields(t *testing.T) {
	type plainModel struct {
		A string
		B int
	}
	schema := NewSchema()
	schema.RegisterModel("plain", plainModel{})
	ops := NewOperators(newFakeEngine(), schema)

	tbl, ok := ops.cachedTable("plain")
	require.False(t, ok)
	require.Nil(t, tbl)
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Email":     "email",
		"CreatedAt": "created_at",
		"DOB":       "dob",
		"UserID":    "user_id",
		"HTTPCode":  "http_code",
	}
	for in, want := range cases {
		require.Equal(t, want, toSnakeCase(in), in)
	}
}
