// Package protectql rewrites GORM query-builder predicates so they work against
// searchably-encrypted PostgreSQL columns.
//
// Operands are encrypted before they reach the database driver, and comparisons
// against ciphertext columns are expressed through the eql_v2.* SQL functions
// installed by the EQL database extension. Which rewrite applies is decided per
// column from its declared index capabilities (equality, free-text match,
// order/range, searchable JSON); columns without a matching capability fall back
// to the native operator untouched.
//
// # Schema
//
// Encrypted columns are declared once, at startup:
//
//	users := protectql.NewTable("users",
//	    protectql.NewColumn("email").Equality().FreeTextSearch(),
//	    protectql.NewColumn("dob").OrderAndRange(),
//	    protectql.NewColumn("profile").SearchableJSON("users/profile"),
//	)
//	schema := protectql.NewSchema(users)
//
// Descriptors can also be derived from model structs carrying `encrypted` tags,
// see Schema.RegisterModel.
//
// # Operators
//
// An operator set wraps an encryption engine and mirrors the gorm/clause
// comparison surface:
//
//	ops := protectql.NewOperators(engine, schema)
//
//	cond := ops.Eq(users.Column("email"), "alice@example.com")
//	expr, err := cond.Expr(ctx) // one engine call, clause.Expression out
//
// Conditions returned by the comparison operators are lazy: encryption is
// deferred until the condition is used. Passing several of them to And or Or
// collects every plaintext they need and issues a single batched engine call
// for the whole predicate tree:
//
//	expr, err := ops.And(ctx,
//	    ops.Eq(users.Column("email"), "alice@example.com"),
//	    ops.Between(users.Column("dob"), min, max),
//	)
//	db.Where(expr).Find(&rows)
//
// # JSON paths
//
// Encrypted JSON columns are queried through a path builder. Values at a path
// are encrypted together with the path; the path alone can be encrypted into an
// opaque selector for extraction:
//
//	ops.JSONPath(users.Column("profile"), "$.settings.theme").Eq("dark")
//	ops.JSONPath(users.Column("profile"), "$.roles").ArrayLength().Gt(2)
//
// # Engines
//
// The Engine interface abstracts the encryption service. LocalEngine is an
// in-process implementation suitable for development and tests: XSalsa20-Poly1305
// sealing with HKDF-derived per-purpose keys, zstd compression for large values,
// deterministic HMAC search terms, and multi-version keys for rotation. Keys come
// from static configuration, the environment (LoadConfig), or HashiCorp Vault
// (VaultKeyProvider). Order/range (ore) terms require a remote engine.
package protectql
