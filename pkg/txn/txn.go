// Package txn defines the unit-of-work contract shared by the billing stores.
//
// Stores that can join a database transaction read it from the context (see
// pkg/pg). Stores that cannot, such as the in-memory ones, register
// compensations with OnRollback; Memory runs them in reverse order when the
// unit of work fails.
package txn

import (
	"context"
	"sync"
)

// Transactor runs fn as a single atomic unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type journalKey struct{}

type journal struct {
	mu    sync.Mutex
	undos []func()
}

// OnRollback registers undo to run if the unit of work carried by ctx fails.
// Outside a Memory unit of work it is a no-op.
func OnRollback(ctx context.Context, undo func()) {
	j, ok := ctx.Value(journalKey{}).(*journal)
	if !ok || undo == nil {
		return
	}
	j.mu.Lock()
	j.undos = append(j.undos, undo)
	j.mu.Unlock()
}

// InTx reports whether ctx carries a Memory unit of work.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(journalKey{}).(*journal)
	return ok
}

// Memory is a Transactor for in-memory stores.
type Memory struct{}

// NewMemory returns a compensation-journal Transactor.
func NewMemory() *Memory { return &Memory{} }

// WithinTx runs fn. If fn fails or panics, registered compensations run in reverse order.
// Nested calls join the outer unit of work.
func (Memory) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTx(ctx) {
		return fn(ctx)
	}

	j := &journal{}
	ctx = context.WithValue(ctx, journalKey{}, j)

	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
		if err != nil {
			j.rollback()
		}
	}()

	return fn(ctx)
}

func (j *journal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undos) - 1; i >= 0; i-- {
		j.undos[i]()
	}
	j.undos = nil
}
