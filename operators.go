package protectql

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// Tautologies used when a combinator or IN list folds to nothing.
var (
	exprTrue  = clause.Expr{SQL: "TRUE"}
	exprFalse = clause.Expr{SQL: "FALSE"}
)

// Operators is the encryption-aware operator set. It mirrors the gorm/clause
// comparison surface: each operator either delegates to the native clause (for
// plaintext columns) or rewrites the comparison against ciphertext, deferring
// encryption so And/Or can batch it.
//
// An Operators value owns its table-descriptor cache; construct one per schema
// and reuse it for the life of the process. Safe for concurrent use.
type Operators struct {
	engine Engine
	schema *Schema
	logger *zap.Logger

	mu     sync.RWMutex
	tables map[string]*Table
}

// OperatorOption configures an operator set.
type OperatorOption func(*Operators)

// WithLogger attaches a structured logger; batch activity is logged at debug
// level. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) OperatorOption {
	return func(o *Operators) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOperators builds an operator set over an encryption engine and a schema.
// A nil schema means no column is treated as encrypted.
func NewOperators(engine Engine, schema *Schema, opts ...OperatorOption) *Operators {
	o := &Operators{
		engine: engine,
		schema: schema,
		logger: zap.NewNop(),
		tables: make(map[string]*Table),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// scalarCond builds the shared lazy condition for single-value operators.
func (o *Operators) scalarCond(op string, column ColumnRef, value any, it IndexType,
	native func(col clause.Column) clause.Expression,
	encrypted func(col clause.Column, enc *Encrypted) clause.Expression) *Cond {

	info := o.bindColumn(column, nil)
	col := clauseColumn(column)
	if !info.encrypted() || validateIndexType(info.capability, it) != nil {
		return resolvedCond(op, info, native(col))
	}
	if err := validateOperand(op, value); err != nil {
		return failedCond(op, info, err)
	}
	terms := []QueryTerm{{
		Plaintext: value,
		Table:     info.tableName,
		Column:    info.columnName,
		IndexType: it,
	}}
	return newCond(op, info, needValue, terms, func(encs []*Encrypted) (clause.Expression, error) {
		return encrypted(col, encs[0]), nil
	}, o.engine)
}

// Eq compares for equality. On an equality-indexed column the right-hand side
// is encrypted and compared with the native operator; the database-side
// extension overloads = for ciphertext.
func (o *Operators) Eq(column ColumnRef, value any) *Cond {
	return o.scalarCond("eq", column, value, IndexUnique,
		func(col clause.Column) clause.Expression { return clause.Eq{Column: col, Value: value} },
		func(col clause.Column, enc *Encrypted) clause.Expression { return clause.Eq{Column: col, Value: enc} },
	)
}

// Ne compares for inequality.
func (o *Operators) Ne(column ColumnRef, value any) *Cond {
	return o.scalarCond("ne", column, value, IndexUnique,
		func(col clause.Column) clause.Expression { return clause.Neq{Column: col, Value: value} },
		func(col clause.Column, enc *Encrypted) clause.Expression { return clause.Neq{Column: col, Value: enc} },
	)
}

// oreCond builds an ordering comparison: native on plain columns, an
// eql_v2 function call on ore-indexed ones.
func (o *Operators) oreCond(op, fn string, column ColumnRef, value any,
	native func(col clause.Column) clause.Expression) *Cond {
	return o.scalarCond(op, column, value, IndexOre, native,
		func(col clause.Column, enc *Encrypted) clause.Expression {
			return clause.Expr{SQL: "eql_v2." + fn + "(?, ?)", Vars: []any{col, enc}}
		},
	)
}

// Gt compares strictly-greater. Ore-indexed columns emit eql_v2.gt.
func (o *Operators) Gt(column ColumnRef, value any) *Cond {
	return o.oreCond("gt", "gt", column, value,
		func(col clause.Column) clause.Expression { return clause.Gt{Column: col, Value: value} })
}

// Gte compares greater-or-equal. Ore-indexed columns emit eql_v2.gte.
func (o *Operators) Gte(column ColumnRef, value any) *Cond {
	return o.oreCond("gte", "gte", column, value,
		func(col clause.Column) clause.Expression { return clause.Gte{Column: col, Value: value} })
}

// Lt compares strictly-less. Ore-indexed columns emit eql_v2.lt.
func (o *Operators) Lt(column ColumnRef, value any) *Cond {
	return o.oreCond("lt", "lt", column, value,
		func(col clause.Column) clause.Expression { return clause.Lt{Column: col, Value: value} })
}

// Lte compares less-or-equal. Ore-indexed columns emit eql_v2.lte.
func (o *Operators) Lte(column ColumnRef, value any) *Cond {
	return o.oreCond("lte", "lte", column, value,
		func(col clause.Column) clause.Expression { return clause.Lte{Column: col, Value: value} })
}

// rangeCond builds BETWEEN-style conditions. The encrypted path needs two term
// slots, min then max, and folds into a conjunction of eql_v2.gte and
// eql_v2.lte (negated for NOT BETWEEN).
func (o *Operators) rangeCond(op string, column ColumnRef, min, max any, negate bool) *Cond {
	info := o.bindColumn(column, nil)
	col := clauseColumn(column)
	if !info.encrypted() || validateIndexType(info.capability, IndexOre) != nil {
		sql := "? BETWEEN ? AND ?"
		if negate {
			sql = "? NOT BETWEEN ? AND ?"
		}
		return resolvedCond(op, info, clause.Expr{SQL: sql, Vars: []any{col, min, max}})
	}
	if err := validateOperand(op, min); err != nil {
		return failedCond(op, info, err)
	}
	if err := validateOperand(op, max); err != nil {
		return failedCond(op, info, err)
	}
	terms := []QueryTerm{
		{Plaintext: min, Table: info.tableName, Column: info.columnName, IndexType: IndexOre},
		{Plaintext: max, Table: info.tableName, Column: info.columnName, IndexType: IndexOre},
	}
	return newCond(op, info, needValue, terms, func(encs []*Encrypted) (clause.Expression, error) {
		expr := clause.And(
			clause.Expr{SQL: "eql_v2.gte(?, ?)", Vars: []any{col, encs[0]}},
			clause.Expr{SQL: "eql_v2.lte(?, ?)", Vars: []any{col, encs[1]}},
		)
		if negate {
			expr = clause.Not(expr)
		}
		return expr, nil
	}, o.engine)
}

// Between matches values in [min, max].
func (o *Operators) Between(column ColumnRef, min, max any) *Cond {
	return o.rangeCond("between", column, min, max, false)
}

// NotBetween matches values outside [min, max].
func (o *Operators) NotBetween(column ColumnRef, min, max any) *Cond {
	return o.rangeCond("notBetween", column, min, max, true)
}

// Like matches a pattern. Match-indexed columns emit eql_v2.like on the
// encrypted pattern.
func (o *Operators) Like(column ColumnRef, pattern string) *Cond {
	return o.scalarCond("like", column, pattern, IndexMatch,
		func(col clause.Column) clause.Expression { return clause.Like{Column: col, Value: pattern} },
		func(col clause.Column, enc *Encrypted) clause.Expression {
			return clause.Expr{SQL: "eql_v2.like(?, ?)", Vars: []any{col, enc}}
		},
	)
}

// Ilike matches a pattern case-insensitively.
func (o *Operators) Ilike(column ColumnRef, pattern string) *Cond {
	return o.scalarCond("ilike", column, pattern, IndexMatch,
		func(col clause.Column) clause.Expression {
			return clause.Expr{SQL: "? ILIKE ?", Vars: []any{col, pattern}}
		},
		func(col clause.Column, enc *Encrypted) clause.Expression {
			return clause.Expr{SQL: "eql_v2.ilike(?, ?)", Vars: []any{col, enc}}
		},
	)
}

// NotIlike is the negation of Ilike.
func (o *Operators) NotIlike(column ColumnRef, pattern string) *Cond {
	return o.scalarCond("notIlike", column, pattern, IndexMatch,
		func(col clause.Column) clause.Expression {
			return clause.Expr{SQL: "? NOT ILIKE ?", Vars: []any{col, pattern}}
		},
		func(col clause.Column, enc *Encrypted) clause.Expression {
			return clause.Not(clause.Expr{SQL: "eql_v2.ilike(?, ?)", Vars: []any{col, enc}})
		},
	)
}

// ArraySource is the right-hand side of InArray/NotInArray: either an explicit
// value list or a subquery. Subqueries always delegate to the native IN.
type ArraySource struct {
	values   []any
	subquery *clause.Expr
}

// Values builds an ArraySource from explicit values.
func Values(vals ...any) ArraySource {
	return ArraySource{values: vals}
}

// Subquery builds an ArraySource from a raw subquery fragment.
func Subquery(expr clause.Expr) ArraySource {
	return ArraySource{subquery: &expr}
}

// InArray matches rows whose column equals any of the source values. All
// values are known upfront, so unlike the comparison operators this encrypts
// inline with one batch call and returns the finished fragment. An empty value
// list yields FALSE without touching the engine.
func (o *Operators) InArray(ctx context.Context, column ColumnRef, src ArraySource) (clause.Expression, error) {
	return o.inArray(ctx, "inArray", column, src, false)
}

// NotInArray is the negation of InArray; an empty value list yields TRUE.
func (o *Operators) NotInArray(ctx context.Context, column ColumnRef, src ArraySource) (clause.Expression, error) {
	return o.inArray(ctx, "notInArray", column, src, true)
}

func (o *Operators) inArray(ctx context.Context, op string, column ColumnRef, src ArraySource, negate bool) (clause.Expression, error) {
	info := o.bindColumn(column, nil)
	col := clauseColumn(column)

	if src.subquery != nil {
		expr := clause.Expr{SQL: "? IN (?)", Vars: []any{col, *src.subquery}}
		if negate {
			return clause.Not(expr), nil
		}
		return expr, nil
	}
	if len(src.values) == 0 {
		if negate {
			return exprTrue, nil
		}
		return exprFalse, nil
	}
	if !info.encrypted() || validateIndexType(info.capability, IndexUnique) != nil {
		in := clause.IN{Column: col, Values: src.values}
		if negate {
			return clause.Not(in), nil
		}
		return in, nil
	}

	terms := make([]QueryTerm, len(src.values))
	for i, v := range src.values {
		if err := validateOperand(op, v); err != nil {
			return nil, err
		}
		terms[i] = QueryTerm{
			Plaintext: v,
			Table:     info.tableName,
			Column:    info.columnName,
			IndexType: IndexUnique,
		}
	}
	encs, err := o.encryptBatch(ctx, op, terms)
	if err != nil {
		return nil, &EncryptionError{Op: op, Table: info.tableName, Column: info.columnName, Err: err}
	}

	exprs := make([]clause.Expression, len(encs))
	for i, enc := range encs {
		if negate {
			exprs[i] = clause.Neq{Column: col, Value: enc}
		} else {
			exprs[i] = clause.Eq{Column: col, Value: enc}
		}
	}
	if negate {
		return clause.And(exprs...), nil
	}
	return clause.Or(exprs...), nil
}

// orderExpr builds an ordering expression for use with
// clause.OrderBy{Expression: ...}. Ore-indexed columns sort through
// eql_v2.order_by.
func (o *Operators) orderExpr(column ColumnRef, dir string) clause.Expression {
	info := o.bindColumn(column, nil)
	col := clauseColumn(column)
	if info.encrypted() && validateIndexType(info.capability, IndexOre) == nil {
		return clause.Expr{SQL: "eql_v2.order_by(?) " + dir, Vars: []any{col}}
	}
	return clause.Expr{SQL: "? " + dir, Vars: []any{col}}
}

// Asc orders ascending. Synchronous: only the column is wrapped, no value is
// encrypted.
func (o *Operators) Asc(column ColumnRef) clause.Expression {
	return o.orderExpr(column, "ASC")
}

// Desc orders descending.
func (o *Operators) Desc(column ColumnRef) clause.Expression {
	return o.orderExpr(column, "DESC")
}

// SearchTerm encrypts a single plaintext into a query term for the column,
// resolving the index type from the column's capabilities (or the explicit
// query type). Useful for callers composing raw SQL themselves.
func (o *Operators) SearchTerm(ctx context.Context, column ColumnRef, plaintext any, qt QueryType) (*Encrypted, error) {
	info := o.bindColumn(column, nil)
	if !info.encrypted() {
		return nil, &ConfigurationError{
			Table:  info.tableName,
			Column: info.columnName,
			Reason: "column is not encrypted",
		}
	}
	it, op, err := resolveIndexType(info.capability, qt, plaintext)
	if err != nil {
		return nil, err
	}
	if err := validateOperand("searchTerm", plaintext); err != nil {
		return nil, err
	}
	term := QueryTerm{
		Plaintext: plaintext,
		Table:     info.tableName,
		Column:    info.columnName,
		IndexType: it,
		QueryOp:   op,
	}
	enc, err := o.engine.EncryptQuery(ctx, term)
	if err != nil {
		return nil, &EncryptionError{Op: "searchTerm", Table: info.tableName, Column: info.columnName, Err: err}
	}
	return enc, nil
}

// encryptBatch is the one choke point for batched engine calls.
func (o *Operators) encryptBatch(ctx context.Context, op string, terms []QueryTerm) ([]*Encrypted, error) {
	o.logger.Debug("encrypt query batch",
		zap.String("batch_id", uuid.NewString()),
		zap.String("op", op),
		zap.Int("terms", len(terms)),
	)
	encs, err := o.engine.EncryptQueryBatch(ctx, terms)
	if err != nil {
		return nil, err
	}
	if len(encs) != len(terms) {
		return nil, errBatchMismatch(len(terms), len(encs))
	}
	return encs, nil
}

// Passthrough operators. These never touch encryption and forward straight to
// the host query builder.

// Not negates a finished fragment.
func (o *Operators) Not(expr clause.Expression) clause.Expression {
	return clause.Not(expr)
}

// IsNull matches NULL columns.
func (o *Operators) IsNull(column ColumnRef) clause.Expression {
	return clause.Expr{SQL: "? IS NULL", Vars: []any{clauseColumn(column)}}
}

// IsNotNull matches non-NULL columns.
func (o *Operators) IsNotNull(column ColumnRef) clause.Expression {
	return clause.Expr{SQL: "? IS NOT NULL", Vars: []any{clauseColumn(column)}}
}

// Exists wraps a subquery in EXISTS.
func (o *Operators) Exists(subquery clause.Expr) clause.Expression {
	return clause.Expr{SQL: "EXISTS (?)", Vars: []any{subquery}}
}

// NotExists wraps a subquery in NOT EXISTS.
func (o *Operators) NotExists(subquery clause.Expr) clause.Expression {
	return clause.Expr{SQL: "NOT EXISTS (?)", Vars: []any{subquery}}
}

// ArrayContains is the native @> on plaintext array columns.
func (o *Operators) ArrayContains(column ColumnRef, value any) clause.Expression {
	return clause.Expr{SQL: "? @> ?", Vars: []any{clauseColumn(column), value}}
}

// ArrayContained is the native <@ on plaintext array columns.
func (o *Operators) ArrayContained(column ColumnRef, value any) clause.Expression {
	return clause.Expr{SQL: "? <@ ?", Vars: []any{clauseColumn(column), value}}
}

// ArrayOverlaps is the native && on plaintext array columns.
func (o *Operators) ArrayOverlaps(column ColumnRef, value any) clause.Expression {
	return clause.Expr{SQL: "? && ?", Vars: []any{clauseColumn(column), value}}
}
