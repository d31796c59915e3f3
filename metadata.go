package protectql

import "gorm.io/gorm/clause"

// ColumnRef is a column reference with an explicit owning-table accessor.
// Schema *Column values implement it; plain references are built with Col or
// FromClause.
type ColumnRef interface {
	TableName() string
	ColumnName() string
}

type colRef struct {
	table string
	name  string
}

func (r colRef) TableName() string  { return r.table }
func (r colRef) ColumnName() string { return r.name }

// Col builds a plain column reference.
func Col(table, name string) ColumnRef {
	return colRef{table: table, name: name}
}

// FromClause adapts a gorm clause.Column into a ColumnRef.
func FromClause(c clause.Column) ColumnRef {
	return colRef{table: c.Table, name: c.Name}
}

// clauseColumn renders a ColumnRef for use inside clause expressions.
func clauseColumn(ref ColumnRef) clause.Column {
	return clause.Column{Table: ref.TableName(), Name: ref.ColumnName()}
}

// columnInfo is the bound metadata for one operand column. capability is nil
// when the column is not encrypted, in which case every operator falls back to
// the native comparison.
type columnInfo struct {
	capability *Column
	table      *Table
	tableName  string
	columnName string
}

func (ci columnInfo) encrypted() bool { return ci.capability != nil }

// bindColumn resolves the capability descriptor backing ref.
//
// An explicit table descriptor wins. Otherwise the owning table is taken from
// the reference and looked up in the per-operator-set cache; on a miss the
// schema is consulted (which may reflect over a registered model struct, the
// expensive path the cache amortizes). Lookup failures are soft: an unknown
// table or a column outside the descriptor simply means "not encrypted".
func (o *Operators) bindColumn(ref ColumnRef, explicit *Table) columnInfo {
	info := columnInfo{
		tableName:  ref.TableName(),
		columnName: ref.ColumnName(),
	}

	if sc, ok := ref.(*Column); ok && explicit == nil {
		// Schema columns carry their own descriptor.
		info.capability = sc
		info.table, _ = o.cachedTable(sc.table)
		return info
	}

	t := explicit
	if t == nil {
		if info.tableName == "" {
			return info
		}
		t, _ = o.cachedTable(info.tableName)
	}
	if t == nil {
		return info
	}
	info.table = t
	info.capability = t.Column(info.columnName)
	return info
}

// cachedTable returns the descriptor for tableName, consulting the schema on
// first use. Entries are write-once for the life of the operator set; the
// schema is assumed immutable once handed over. Negative results are cached
// too, so unregistered tables don't re-trigger reflection per predicate.
func (o *Operators) cachedTable(tableName string) (*Table, bool) {
	if tableName == "" {
		return nil, false
	}
	o.mu.RLock()
	t, ok := o.tables[tableName]
	o.mu.RUnlock()
	if ok {
		return t, t != nil
	}

	t, _ = o.schema.lookup(tableName)

	o.mu.Lock()
	// A concurrent populate for the same key derives an equivalent
	// descriptor; first write wins.
	if prev, ok := o.tables[tableName]; ok {
		t = prev
	} else {
		o.tables[tableName] = t
	}
	o.mu.Unlock()
	return t, t != nil
}
