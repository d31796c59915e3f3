package protectql

import (
	"strings"

	"gorm.io/gorm/clause"
)

// JSONPathBuilder builds conditions over one (column, path) pair of an
// encrypted JSON column. Values at the path are encrypted together with the
// path; extraction encrypts the path alone into an opaque selector. The root
// path ("$" or "") addresses the whole document and needs no selector.
type JSONPathBuilder struct {
	ops  *Operators
	col  ColumnRef
	info columnInfo
	path string // normalized dot notation, "" for root

	// lengthMode is set by ArrayLength; bounding comparisons require it.
	lengthMode bool
}

// JSONPath starts a builder for a JSON path on column. The path may be given
// in dot notation ("a.b") or JSONPath form ("$.a.b"); "$" alone is the root.
func (o *Operators) JSONPath(column ColumnRef, path string) *JSONPathBuilder {
	return &JSONPathBuilder{
		ops:  o,
		col:  column,
		info: o.bindColumn(column, nil),
		path: normalizeJSONPath(path),
	}
}

// normalizeJSONPath converts "$.a.b" / "$" / "a.b" into dot notation, with the
// root normalizing to the empty string.
func normalizeJSONPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "$" || path == "" {
		return ""
	}
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	return strings.Trim(path, ".")
}

// Path returns the normalized path ("" for root).
func (b *JSONPathBuilder) Path() string { return b.path }

// root reports whether the builder addresses the whole document.
func (b *JSONPathBuilder) root() bool { return b.path == "" }

// checkJSON validates the column for ste_vec queries. The JSON builder is an
// explicit index request, so a missing capability is a hard error rather than
// a native fallback.
func (b *JSONPathBuilder) checkJSON(op string) error {
	if b.lengthMode {
		return &UsageError{Op: op, Reason: "builder is in array-length mode; use Gt/Gte/Lt/Lte"}
	}
	if !b.info.encrypted() {
		return &ConfigurationError{
			Table:  b.info.tableName,
			Column: b.info.columnName,
			Reason: "column is not encrypted",
		}
	}
	return validateIndexType(b.info.capability, IndexSteVec)
}

// valueTerm builds the term for operations that encrypt path and value
// together into a single containment token.
func (b *JSONPathBuilder) valueTerm(value any) QueryTerm {
	return QueryTerm{
		Plaintext: value,
		Table:     b.info.tableName,
		Column:    b.info.columnName,
		IndexType: IndexSteVec,
		QueryOp:   QueryOpTerm,
		Path:      b.path,
	}
}

// selectorTerm builds the term that encrypts the path itself into a selector.
func (b *JSONPathBuilder) selectorTerm() QueryTerm {
	return QueryTerm{
		Plaintext: b.path,
		Table:     b.info.tableName,
		Column:    b.info.columnName,
		IndexType: IndexSteVec,
		QueryOp:   QueryOpSelector,
		Path:      b.path,
	}
}

// valueCond is the shared shape of Eq/Ne/Contains/ContainedBy.
func (b *JSONPathBuilder) valueCond(op string, value any,
	build func(col clause.Column, enc *Encrypted) clause.Expression) *Cond {
	if err := b.checkJSON(op); err != nil {
		return failedCond(op, b.info, err)
	}
	if err := validateOperand(op, value); err != nil {
		return failedCond(op, b.info, err)
	}
	col := clauseColumn(b.col)
	return newCond(op, b.info, needValue, []QueryTerm{b.valueTerm(value)},
		func(encs []*Encrypted) (clause.Expression, error) {
			return build(col, encs[0]), nil
		}, b.ops.engine)
}

// Eq matches documents whose value at the path equals value.
func (b *JSONPathBuilder) Eq(value any) *Cond {
	return b.valueCond("jsonPath.eq", value, func(col clause.Column, enc *Encrypted) clause.Expression {
		return clause.Eq{Column: col, Value: enc}
	})
}

// Ne matches documents whose value at the path differs from value.
func (b *JSONPathBuilder) Ne(value any) *Cond {
	return b.valueCond("jsonPath.ne", value, func(col clause.Column, enc *Encrypted) clause.Expression {
		return clause.Neq{Column: col, Value: enc}
	})
}

// Contains matches documents containing value at the path (jsonb @>).
func (b *JSONPathBuilder) Contains(value any) *Cond {
	return b.valueCond("jsonPath.contains", value, func(col clause.Column, enc *Encrypted) clause.Expression {
		return clause.Expr{SQL: "? @> ?", Vars: []any{col, enc}}
	})
}

// ContainedBy matches documents contained by value at the path (jsonb <@).
func (b *JSONPathBuilder) ContainedBy(value any) *Cond {
	return b.valueCond("jsonPath.containedBy", value, func(col clause.Column, enc *Encrypted) clause.Expression {
		return clause.Expr{SQL: "? <@ ?", Vars: []any{col, enc}}
	})
}

// selectorCond is the shared shape of the extraction operators: encrypt the
// path into a selector, then wrap column+selector in an eql_v2 accessor.
func (b *JSONPathBuilder) selectorCond(op string,
	build func(col clause.Column, selector *Encrypted) clause.Expression) *Cond {
	if err := b.checkJSON(op); err != nil {
		return failedCond(op, b.info, err)
	}
	col := clauseColumn(b.col)
	return newCond(op, b.info, needSelector, []QueryTerm{b.selectorTerm()},
		func(encs []*Encrypted) (clause.Expression, error) {
			return build(col, encs[0]), nil
		}, b.ops.engine)
}

// PathExtract extracts every value at the path (set-returning
// eql_v2.jsonb_path_query). The root path has no multi-row semantics; use the
// column directly or PathExtractFirst.
func (b *JSONPathBuilder) PathExtract() *Cond {
	const op = "jsonPath.pathExtract"
	if err := b.checkJSON(op); err != nil {
		return failedCond(op, b.info, err)
	}
	if b.root() {
		return failedCond(op, b.info, &UsageError{
			Op:     op,
			Reason: "cannot extract the root path; use the column directly or PathExtractFirst",
		})
	}
	return b.selectorCond(op, func(col clause.Column, sel *Encrypted) clause.Expression {
		return clause.Expr{SQL: "eql_v2.jsonb_path_query(?, ?)", Vars: []any{col, sel}}
	})
}

// PathExtractFirst extracts the first value at the path. At the root it is
// the column itself and costs no engine call.
func (b *JSONPathBuilder) PathExtractFirst() *Cond {
	const op = "jsonPath.pathExtractFirst"
	if err := b.checkJSON(op); err != nil {
		return failedCond(op, b.info, err)
	}
	if b.root() {
		return resolvedCond(op, b.info, clause.Expr{SQL: "?", Vars: []any{clauseColumn(b.col)}})
	}
	return b.selectorCond(op, func(col clause.Column, sel *Encrypted) clause.Expression {
		return clause.Expr{SQL: "eql_v2.jsonb_path_query_first(?, ?)", Vars: []any{col, sel}}
	})
}

// Elements expands the array at the path (eql_v2.jsonb_array_elements).
func (b *JSONPathBuilder) Elements() *Cond {
	return b.elements("jsonPath.elements", "eql_v2.jsonb_array_elements")
}

// ElementsText expands the array at the path as text.
func (b *JSONPathBuilder) ElementsText() *Cond {
	return b.elements("jsonPath.elementsText", "eql_v2.jsonb_array_elements_text")
}

func (b *JSONPathBuilder) elements(op, fn string) *Cond {
	if err := b.checkJSON(op); err != nil {
		return failedCond(op, b.info, err)
	}
	col := clauseColumn(b.col)
	if b.root() {
		return resolvedCond(op, b.info, clause.Expr{SQL: fn + "(?)", Vars: []any{col}})
	}
	return b.selectorCond(op, func(col clause.Column, sel *Encrypted) clause.Expression {
		return clause.Expr{SQL: fn + "(eql_v2.jsonb_path_query_first(?, ?))", Vars: []any{col, sel}}
	})
}

// ArrayLength switches to array-length mode. The returned builder only
// supports the bounding comparisons Gt/Gte/Lt/Lte.
func (b *JSONPathBuilder) ArrayLength() *JSONPathBuilder {
	return &JSONPathBuilder{
		ops:        b.ops,
		col:        b.col,
		info:       b.info,
		path:       b.path,
		lengthMode: true,
	}
}

// Gt compares the array length at the path. Requires ArrayLength first.
func (b *JSONPathBuilder) Gt(n int) *Cond { return b.lengthCond("jsonPath.arrayLength.gt", ">", n) }

// Gte compares the array length at the path. Requires ArrayLength first.
func (b *JSONPathBuilder) Gte(n int) *Cond { return b.lengthCond("jsonPath.arrayLength.gte", ">=", n) }

// Lt compares the array length at the path. Requires ArrayLength first.
func (b *JSONPathBuilder) Lt(n int) *Cond { return b.lengthCond("jsonPath.arrayLength.lt", "<", n) }

// Lte compares the array length at the path. Requires ArrayLength first.
func (b *JSONPathBuilder) Lte(n int) *Cond { return b.lengthCond("jsonPath.arrayLength.lte", "<=", n) }

// lengthCond builds an array-length bound. The root path compares the column
// directly with no encryption; a nested path needs the selector first.
func (b *JSONPathBuilder) lengthCond(op, cmp string, n int) *Cond {
	if !b.lengthMode {
		return failedCond(op, b.info, &UsageError{
			Op:     op,
			Reason: "bounding comparison requires ArrayLength() first",
		})
	}
	if !b.info.encrypted() {
		return failedCond(op, b.info, &ConfigurationError{
			Table:  b.info.tableName,
			Column: b.info.columnName,
			Reason: "column is not encrypted",
		})
	}
	if err := validateIndexType(b.info.capability, IndexSteVec); err != nil {
		return failedCond(op, b.info, err)
	}
	col := clauseColumn(b.col)
	if b.root() {
		return resolvedCond(op, b.info, clause.Expr{
			SQL:  "eql_v2.jsonb_array_length(?) " + cmp + " ?",
			Vars: []any{col, n},
		})
	}
	return newCond(op, b.info, needSelector, []QueryTerm{b.selectorTerm()},
		func(encs []*Encrypted) (clause.Expression, error) {
			return clause.Expr{
				SQL:  "eql_v2.jsonb_array_length(eql_v2.jsonb_path_query_first(?, ?)) " + cmp + " ?",
				Vars: []any{col, encs[0], n},
			}, nil
		}, b.ops.engine)
}

// Pre-encrypted selector variants. These bypass encryption entirely for
// callers that already hold a selector token.

// PathExtractWithSelector is PathExtract with a caller-supplied selector.
func (b *JSONPathBuilder) PathExtractWithSelector(selector *Encrypted) clause.Expression {
	return clause.Expr{SQL: "eql_v2.jsonb_path_query(?, ?)", Vars: []any{clauseColumn(b.col), selector}}
}

// PathExtractFirstWithSelector is PathExtractFirst with a caller-supplied selector.
func (b *JSONPathBuilder) PathExtractFirstWithSelector(selector *Encrypted) clause.Expression {
	return clause.Expr{SQL: "eql_v2.jsonb_path_query_first(?, ?)", Vars: []any{clauseColumn(b.col), selector}}
}

// Get is the synchronous accessor: the column itself at the root path. Any
// other path needs a selector; use GetWithSelector or PathExtractFirst.
func (b *JSONPathBuilder) Get() (clause.Expression, error) {
	if b.root() {
		return clause.Expr{SQL: "?", Vars: []any{clauseColumn(b.col)}}, nil
	}
	return nil, &UsageError{
		Op:     "jsonPath.get",
		Reason: "non-root path requires a selector; use GetWithSelector or PathExtractFirst",
	}
}

// GetWithSelector is the synchronous accessor for a non-root path.
func (b *JSONPathBuilder) GetWithSelector(selector *Encrypted) clause.Expression {
	return b.PathExtractFirstWithSelector(selector)
}
