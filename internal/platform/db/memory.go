package db

import (
	"context"
	"sync"
)

// Participant is an in-memory store that can capture its state so a failed
// transaction can be undone.
type Participant interface {
	Snapshot() (restore func())
}

// MemoryTransactor serialises writers over a set of in-memory stores. Readers
// outside a transaction take the shared lock and never see uncommitted state.
// Each transaction copies every registered store, so the memory driver suits
// tests and demos, not large datasets.
type MemoryTransactor struct {
	mu           sync.RWMutex
	participants []Participant
}

type memTxKey struct{}

// NewMemoryTransactor constructs an empty MemoryTransactor.
func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

// Register adds a store whose state takes part in transactions.
func (t *MemoryTransactor) Register(p Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.participants = append(t.participants, p)
}

func (t *MemoryTransactor) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memTxKey{}).(*MemoryTransactor)
	return owner == t
}

// WithinTx runs fn holding the writer lock; any error or panic restores every
// registered store to its state before fn ran.
func (t *MemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.inTx(ctx) {
		return fn(ctx)
	}
	t.mu.Lock()
	restores := make([]func(), 0, len(t.participants))
	for _, p := range t.participants {
		restores = append(restores, p.Snapshot())
	}
	committed := false
	defer func() {
		if !committed {
			for i := len(restores) - 1; i >= 0; i-- {
				restores[i]()
			}
		}
		t.mu.Unlock()
	}()
	if err := fn(context.WithValue(ctx, memTxKey{}, t)); err != nil {
		return err
	}
	committed = true
	return nil
}

// Read runs fn under the shared lock unless ctx already holds the writer lock.
func (t *MemoryTransactor) Read(ctx context.Context, fn func()) {
	if t.inTx(ctx) {
		fn()
		return
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn()
}

// Write runs fn under the writer lock unless ctx already holds it.
func (t *MemoryTransactor) Write(ctx context.Context, fn func() error) error {
	if t.inTx(ctx) {
		return fn()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn()
}
