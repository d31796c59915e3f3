package protectql

import (
	"reflect"
	"strings"
	"sync"
)

// Column describes one encrypted column: which index families are enabled and,
// for searchable JSON, the prefix namespacing its path selectors.
//
// Columns are built once at schema-definition time and are read-only
// afterwards; the binder cache relies on that.
type Column struct {
	name       string
	table      string
	equality   bool
	freeText   bool
	orderRange bool
	json       bool
	jsonPrefix string
}

// NewColumn starts a column descriptor. Chain capability setters and attach it
// to a table with NewTable.
func NewColumn(name string) *Column {
	return &Column{name: name}
}

// Equality enables exact-match (unique index) queries.
func (c *Column) Equality() *Column {
	c.equality = true
	return c
}

// FreeTextSearch enables LIKE/ILIKE (match index) queries.
func (c *Column) FreeTextSearch() *Column {
	c.freeText = true
	return c
}

// OrderAndRange enables ordering and range (ore index) queries.
func (c *Column) OrderAndRange() *Column {
	c.orderRange = true
	return c
}

// SearchableJSON enables JSON path (ste_vec index) queries. The prefix
// namespaces path selectors; conventionally "table/column".
func (c *Column) SearchableJSON(prefix string) *Column {
	c.json = true
	c.jsonPrefix = prefix
	return c
}

// ColumnName implements ColumnRef.
func (c *Column) ColumnName() string { return c.name }

// TableName implements ColumnRef. Empty until the column is attached to a table.
func (c *Column) TableName() string { return c.table }

// Searchable reports whether any index family is enabled.
func (c *Column) Searchable() bool {
	return c.equality || c.freeText || c.orderRange || c.json
}

// Table maps column names to their descriptors.
type Table struct {
	name    string
	columns map[string]*Column
}

// NewTable builds a table descriptor and binds each column to it. A *Column
// must not be attached to more than one table.
func NewTable(name string, cols ...*Column) *Table {
	t := &Table{name: name, columns: make(map[string]*Column, len(cols))}
	for _, c := range cols {
		c.table = name
		t.columns[c.name] = c
	}
	return t
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Column returns the descriptor for name, or nil if the column is not declared
// (meaning it is stored as plaintext).
func (t *Table) Column(name string) *Column {
	if t == nil {
		return nil
	}
	return t.columns[name]
}

// Columns returns the declared encrypted columns in no particular order.
func (t *Table) Columns() []*Column {
	out := make([]*Column, 0, len(t.columns))
	for _, c := range t.columns {
		out = append(out, c)
	}
	return out
}

// Schema is the registry the metadata binder resolves table descriptors from.
// Tables can be registered directly or derived on demand from model structs
// carrying `encrypted` tags. Registration must finish before the schema is
// handed to an operator set; descriptors are assumed immutable from then on.
type Schema struct {
	mu     sync.RWMutex
	tables map[string]*Table
	models map[string]reflect.Type
}

// NewSchema builds a schema from explicit table descriptors.
func NewSchema(tables ...*Table) *Schema {
	s := &Schema{
		tables: make(map[string]*Table, len(tables)),
		models: make(map[string]reflect.Type),
	}
	for _, t := range tables {
		s.tables[t.name] = t
	}
	return s
}

// Register adds a table descriptor to the schema.
func (s *Schema) Register(t *Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.name] = t
}

// RegisterModel associates a table name with a model struct. The table
// descriptor is derived lazily from `encrypted` struct tags on first use:
//
//	type User struct {
//	    Email   string `gorm:"column:email" encrypted:"equality,freeTextSearch"`
//	    DOB     string `encrypted:"orderAndRange"`
//	    Profile []byte `encrypted:"searchableJson=users/profile"`
//	}
//
// Fields without an `encrypted` tag are plaintext. The column name comes from
// the gorm `column:` tag when present, else the snake_cased field name.
func (s *Schema) RegisterModel(tableName string, model any) {
	rt := reflect.TypeOf(model)
	for rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[tableName] = rt
}

// lookup resolves a table descriptor by name: registered tables first, then
// tag derivation from a registered model. Returns (nil, true) for a table that
// is known but has no encrypted columns, and (nil, false) for an unknown table.
func (s *Schema) lookup(tableName string) (*Table, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	t, ok := s.tables[tableName]
	rt, modelOK := s.models[tableName]
	s.mu.RUnlock()
	if ok {
		return t, true
	}
	if !modelOK {
		return nil, false
	}
	return deriveFromModel(tableName, rt), true
}

// deriveFromModel reflects over `encrypted` struct tags to build a table
// descriptor. Returns nil when no field carries the tag.
func deriveFromModel(tableName string, rt reflect.Type) *Table {
	var cols []*Column
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, ok := f.Tag.Lookup("encrypted")
		if !ok {
			continue
		}
		col := NewColumn(fieldColumnName(f))
		for _, part := range strings.Split(tag, ",") {
			part = strings.TrimSpace(part)
			switch {
			case strings.EqualFold(part, "equality"):
				col.Equality()
			case strings.EqualFold(part, "freeTextSearch"):
				col.FreeTextSearch()
			case strings.EqualFold(part, "orderAndRange"):
				col.OrderAndRange()
			case strings.EqualFold(part, "searchableJson"):
				col.SearchableJSON(tableName + "/" + col.name)
			case strings.HasPrefix(strings.ToLower(part), "searchablejson="):
				col.SearchableJSON(part[len("searchableJson="):])
			}
		}
		if col.Searchable() {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	return NewTable(tableName, cols...)
}

// fieldColumnName resolves the database column name for a struct field,
// honoring the gorm `column:` tag.
func fieldColumnName(f reflect.StructField) string {
	if g, ok := f.Tag.Lookup("gorm"); ok {
		for _, part := range strings.Split(g, ";") {
			if strings.HasPrefix(part, "column:") {
				return strings.TrimPrefix(part, "column:")
			}
		}
	}
	return toSnakeCase(f.Name)
}

// toSnakeCase converts an exported Go field name to its conventional column
// name, e.g. "CreatedAt" -> "created_at", "DOB" -> "dob".
func toSnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			prevLower := i > 0 && runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
