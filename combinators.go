package protectql

import (
	"context"

	"gorm.io/gorm/clause"
)

// And combines conditions with AND, batching every pending encryption across
// all of them into a single engine call. Inputs may be *Cond values (pending
// or resolved) or finished clause.Expression fragments; anything else is a
// *UsageError. An empty input folds to TRUE.
func (o *Operators) And(ctx context.Context, conds ...any) (clause.Expression, error) {
	return o.combine(ctx, "and", conds, clause.And, exprTrue)
}

// Or combines conditions with OR. An empty input folds to FALSE.
func (o *Operators) Or(ctx context.Context, conds ...any) (clause.Expression, error) {
	return o.combine(ctx, "or", conds, clause.Or, exprFalse)
}

// claimedCond tracks a pending condition this combinator won the resolution
// race for, and the slot range its terms occupy in the batched request.
type claimedCond struct {
	cond  *Cond
	start int
	count int
}

func (o *Operators) combine(ctx context.Context, op string, conds []any,
	fold func(...clause.Expression) clause.Expression, empty clause.Expression) (clause.Expression, error) {

	if len(conds) == 0 {
		return empty, nil
	}

	// Validate every input before claiming anything. Rejecting after a claim
	// would strand the claimed condition in its resolving state and hang any
	// direct awaiter.
	for _, in := range conds {
		switch c := in.(type) {
		case *Cond:
			if c == nil {
				return nil, &UsageError{Op: op, Reason: "nil condition"}
			}
		case clause.Expression:
		case nil:
			return nil, &UsageError{Op: op, Reason: "nil condition"}
		default:
			return nil, &UsageError{Op: op, Reason: "condition must be *Cond or clause.Expression"}
		}
	}

	// Partition while preserving argument order: slot[i] receives the
	// fragment for conds[i] no matter which way it resolves.
	slots := make([]clause.Expression, len(conds))
	var claimed []claimedCond
	var waiting []struct {
		idx  int
		cond *Cond
	}
	var terms []QueryTerm

	for i, in := range conds {
		switch c := in.(type) {
		case *Cond:
			if c.claim() {
				claimed = append(claimed, claimedCond{cond: c, start: len(terms), count: len(c.terms)})
				terms = append(terms, c.terms...)
			}
			// Claimed or not, the result is collected below once settled.
			waiting = append(waiting, struct {
				idx  int
				cond *Cond
			}{i, c})
		case clause.Expression:
			slots[i] = c
		}
	}

	// One batched engine call covers every claimed condition, turning N
	// round trips into one. Results are redistributed strictly by request
	// index: duplicate plaintexts each own their slot.
	var encs []*Encrypted
	if len(terms) > 0 {
		var err error
		encs, err = o.encryptBatch(ctx, op, terms)
		if err != nil {
			werr := &EncryptionError{Op: op, Err: err}
			// Settle every claimed condition so direct awaiters see the
			// same failure instead of hanging.
			for _, cl := range claimed {
				cl.cond.complete(nil, werr)
			}
			return nil, werr
		}
	}
	for _, cl := range claimed {
		expr, err := cl.cond.finalizeWith(encs[cl.start : cl.start+cl.count])
		cl.cond.complete(expr, err)
	}

	// Collect results for every *Cond input, claimed here or resolved
	// elsewhere. Failure of any one condition fails the whole combinator;
	// boolean combinators are never partially applied.
	for _, w := range waiting {
		expr, err := w.cond.await(ctx)
		if err != nil {
			return nil, err
		}
		slots[w.idx] = expr
	}

	exprs := make([]clause.Expression, 0, len(slots))
	for _, e := range slots {
		if e != nil {
			exprs = append(exprs, e)
		}
	}
	switch len(exprs) {
	case 0:
		return empty, nil
	case 1:
		return exprs[0], nil
	}
	return fold(exprs...), nil
}

// finalizeWith runs the condition's finalize function over externally
// encrypted payloads. Callers must hold the resolution claim.
func (c *Cond) finalizeWith(encs []*Encrypted) (clause.Expression, error) {
	if c.finalize == nil {
		return c.expr, c.err
	}
	return c.finalize(encs)
}

// await waits for a condition someone else is resolving (or that is already
// terminal) and returns its stored result.
func (c *Cond) await(ctx context.Context) (clause.Expression, error) {
	select {
	case <-c.done:
		return c.expr, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
