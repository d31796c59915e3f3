package protectql

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"gorm.io/gorm/clause"
)

// requirement tags what a pending comparison needs from the engine before its
// SQL fragment can be built.
type requirement int

const (
	// needNone: fragment is already determined (native fallback, fail-fast
	// errors, root-path JSON shortcuts). Constructed pre-resolved.
	needNone requirement = iota
	// needValue: the right-hand operand(s) must be encrypted.
	needValue
	// needSelector: a JSON path string must be encrypted into a selector.
	needSelector
)

// Cond resolution states. Exactly one claimant moves pending -> resolving and
// performs the real work; everyone else waits for done.
const (
	condPending int32 = iota
	condResolving
	condDone
)

// Cond is a pending comparison: an operator whose SQL fragment cannot be built
// until its operands are encrypted.
//
// It resolves through exactly one of two paths. Calling Expr issues a
// single-condition engine call. Passing the Cond to And/Or lets the combinator
// claim resolution instead, batching this condition's terms with every other
// pending condition in the call. Whichever path claims first performs the
// encryption; the loser observes the stored result. Double resolution cannot
// issue a second engine call.
type Cond struct {
	op    string
	info  columnInfo
	req   requirement
	terms []QueryTerm
	// finalize builds the fragment from encrypted payloads positionally
	// matching terms (ranges get two slots: min then max).
	finalize func([]*Encrypted) (clause.Expression, error)

	engine Engine

	state atomic.Int32
	done  chan struct{}
	expr  clause.Expression
	err   error
}

// newCond builds a pending condition that needs engine work.
func newCond(op string, info columnInfo, req requirement, terms []QueryTerm,
	finalize func([]*Encrypted) (clause.Expression, error), engine Engine) *Cond {
	return &Cond{
		op:       op,
		info:     info,
		req:      req,
		terms:    terms,
		finalize: finalize,
		engine:   engine,
		done:     make(chan struct{}),
	}
}

// resolvedCond builds a condition already in its terminal state. Used for
// native fallbacks and other fragments that need no encryption.
func resolvedCond(op string, info columnInfo, expr clause.Expression) *Cond {
	c := &Cond{op: op, info: info, req: needNone, expr: expr, done: make(chan struct{})}
	c.state.Store(condDone)
	close(c.done)
	return c
}

// failedCond builds a condition that fails fast with err, before any engine call.
func failedCond(op string, info columnInfo, err error) *Cond {
	c := &Cond{op: op, info: info, req: needNone, err: err, done: make(chan struct{})}
	c.state.Store(condDone)
	close(c.done)
	return c
}

// claim attempts to take ownership of resolution. Only the first caller
// succeeds; it must call complete exactly once.
func (c *Cond) claim() bool {
	return c.state.CompareAndSwap(condPending, condResolving)
}

// complete stores the terminal result and releases waiters.
func (c *Cond) complete(expr clause.Expression, err error) {
	c.expr = expr
	c.err = err
	c.state.Store(condDone)
	close(c.done)
}

// resolved reports whether the condition reached its terminal state.
func (c *Cond) resolved() bool { return c.state.Load() == condDone }

// Err returns the terminal error, if the condition has one. Useful for
// checking fail-fast conditions without a context.
func (c *Cond) Err() error {
	if c.resolved() {
		return c.err
	}
	return nil
}

// Expr resolves the condition into a SQL fragment, encrypting its operands
// with a single engine call if no combinator resolved it first.
//
// Once an engine call is in flight it is never cancelled; a caller that gives
// up via ctx still leaves the condition to settle for any other waiter.
func (c *Cond) Expr(ctx context.Context) (clause.Expression, error) {
	if c.claim() {
		c.complete(c.selfResolve(ctx))
		return c.expr, c.err
	}
	select {
	case <-c.done:
		return c.expr, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// selfResolve performs the single-condition encryption round trip.
func (c *Cond) selfResolve(ctx context.Context) (clause.Expression, error) {
	if len(c.terms) == 0 {
		return c.finalize(nil)
	}
	encs, err := c.engine.EncryptQueryBatch(ctx, c.terms)
	if err != nil {
		return nil, c.encryptionError(err)
	}
	if len(encs) != len(c.terms) {
		return nil, c.encryptionError(errBatchMismatch(len(c.terms), len(encs)))
	}
	return c.finalize(encs)
}

func (c *Cond) encryptionError(err error) error {
	return &EncryptionError{
		Op:     c.op,
		Table:  c.info.tableName,
		Column: c.info.columnName,
		Err:    err,
	}
}

// errBatchMismatch reports an engine that broke the positional batch contract.
func errBatchMismatch(want, got int) error {
	return fmt.Errorf("engine returned %d results for %d terms", got, want)
}

// validateOperand rejects plaintexts no engine can encrypt, before any call.
func validateOperand(op string, v any) error {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &UsageError{Op: op, Reason: "non-finite number cannot be encrypted"}
		}
	case float32:
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return &UsageError{Op: op, Reason: "non-finite number cannot be encrypted"}
		}
	}
	return nil
}
