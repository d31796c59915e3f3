package protectql

// IndexType identifies one searchable-encryption index family.
type IndexType string

const (
	// IndexUnique supports exact-match equality on ciphertext.
	IndexUnique IndexType = "unique"
	// IndexMatch supports free-text LIKE/ILIKE on ciphertext.
	IndexMatch IndexType = "match"
	// IndexOre supports ordering and range comparisons (order-revealing encryption).
	IndexOre IndexType = "ore"
	// IndexSteVec supports JSON path queries on ciphertext.
	IndexSteVec IndexType = "ste_vec"
)

// QueryOp refines an ste_vec query: encrypting a path into an opaque selector
// is a different operation from encrypting a value at a path.
type QueryOp string

const (
	// QueryOpDefault means the index type alone determines the operation.
	QueryOpDefault QueryOp = ""
	// QueryOpSelector encrypts a JSON path string into an opaque locator.
	QueryOpSelector QueryOp = "ste_vec_selector"
	// QueryOpTerm encrypts a value (or containment object) bound to a path.
	QueryOpTerm QueryOp = "ste_vec_term"
)

// QueryType is an explicit, caller-requested query kind for term generation.
type QueryType string

const (
	QueryTypeUnique   QueryType = "unique"
	QueryTypeMatch    QueryType = "match"
	QueryTypeOre      QueryType = "ore"
	QueryTypeSelector QueryType = "ste_vec_selector"
	QueryTypeTerm     QueryType = "ste_vec_term"
)

// inferIndexType picks the index family for a column with no explicit query
// type, by fixed priority: unique > match > ore > ste_vec.
func inferIndexType(col *Column) (IndexType, error) {
	switch {
	case col.equality:
		return IndexUnique, nil
	case col.freeText:
		return IndexMatch, nil
	case col.orderRange:
		return IndexOre, nil
	case col.json:
		return IndexSteVec, nil
	}
	return "", &ConfigurationError{
		Table:  col.table,
		Column: col.name,
		Reason: "no search indexes enabled",
	}
}

// validateIndexType checks that the column declares the requested index family.
func validateIndexType(col *Column, requested IndexType) error {
	ok := false
	switch requested {
	case IndexUnique:
		ok = col.equality
	case IndexMatch:
		ok = col.freeText
	case IndexOre:
		ok = col.orderRange
	case IndexSteVec:
		ok = col.json
	}
	if !ok {
		return &ConfigurationError{
			Table:     col.table,
			Column:    col.name,
			Requested: requested,
			Reason:    "column capability does not allow this query",
		}
	}
	return nil
}

// resolveIndexType determines the index type and query operation for a term.
//
// An explicit query type is mapped and validated. Otherwise the type is
// inferred by priority. An ste_vec index without an explicit operation is
// disambiguated from the plaintext sample: a string is a path to encrypt into
// a selector, any other JSON-compatible value is a containment term. With no
// sample, the operation stays QueryOpDefault and the caller must decide.
//
// Pure and side-effect free; called per predicate, cached nowhere.
func resolveIndexType(col *Column, explicit QueryType, sample any) (IndexType, QueryOp, error) {
	if explicit != "" {
		var it IndexType
		op := QueryOpDefault
		switch explicit {
		case QueryTypeUnique:
			it = IndexUnique
		case QueryTypeMatch:
			it = IndexMatch
		case QueryTypeOre:
			it = IndexOre
		case QueryTypeSelector:
			it, op = IndexSteVec, QueryOpSelector
		case QueryTypeTerm:
			it, op = IndexSteVec, QueryOpTerm
		default:
			return "", QueryOpDefault, &ConfigurationError{
				Table:  col.table,
				Column: col.name,
				Reason: "unknown query type " + string(explicit),
			}
		}
		if err := validateIndexType(col, it); err != nil {
			return "", QueryOpDefault, err
		}
		return it, op, nil
	}

	it, err := inferIndexType(col)
	if err != nil {
		return "", QueryOpDefault, err
	}
	if it != IndexSteVec || sample == nil {
		return it, QueryOpDefault, nil
	}
	if _, isString := sample.(string); isString {
		return it, QueryOpSelector, nil
	}
	return it, QueryOpTerm, nil
}
