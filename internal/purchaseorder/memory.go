package purchaseorder

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

type sequenceKey struct {
	prefix string
	year   int
}

// MemoryRepository keeps orders in process. Sequences are not part of the
// transaction snapshot, matching the Postgres counter.
type MemoryRepository struct {
	tx        *db.MemoryTransactor
	nextID    int64
	rows      map[int64]PurchaseOrder
	numbers   map[string]int64
	sequences map[sequenceKey]int64
}

// NewMemoryRepository constructs the store and registers it with tx.
func NewMemoryRepository(tx *db.MemoryTransactor) *MemoryRepository {
	r := &MemoryRepository{
		tx:        tx,
		rows:      make(map[int64]PurchaseOrder),
		numbers:   make(map[string]int64),
		sequences: make(map[sequenceKey]int64),
	}
	tx.Register(r)
	return r
}

// Snapshot implements db.Participant.
func (r *MemoryRepository) Snapshot() func() {
	nextID := r.nextID
	rows := make(map[int64]PurchaseOrder, len(r.rows))
	for id, po := range r.rows {
		rows[id] = po
	}
	numbers := make(map[string]int64, len(r.numbers))
	for n, id := range r.numbers {
		numbers[n] = id
	}
	return func() {
		r.nextID = nextID
		r.rows = rows
		r.numbers = numbers
	}
}

// NextSequence advances the per prefix and year counter.
func (r *MemoryRepository) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	var seq int64
	err := r.tx.Write(ctx, func() error {
		key := sequenceKey{prefix: prefix, year: year}
		r.sequences[key]++
		seq = r.sequences[key]
		return nil
	})
	return seq, err
}

// Create stores po under a number that must not exist yet.
func (r *MemoryRepository) Create(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := r.tx.Write(ctx, func() error {
		if _, taken := r.numbers[po.Number]; taken {
			return fmt.Errorf("%s: %w", po.Number, ErrDuplicateNumber)
		}
		if po.QuotationID != nil {
			for _, other := range r.rows {
				if other.QuotationID != nil && *other.QuotationID == *po.QuotationID && other.Status != StatusCancelled {
					return fmt.Errorf("quotation already has an order: %w", shared.ErrInvalidTransition)
				}
			}
		}
		r.nextID++
		po.ID = r.nextID
		r.rows[po.ID] = po
		r.numbers[po.Number] = po.ID
		return nil
	})
	return po, err
}

// Get returns one order.
func (r *MemoryRepository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	var (
		po PurchaseOrder
		ok bool
	)
	r.tx.Read(ctx, func() { po, ok = r.rows[id] })
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("purchase order %d: %w", id, shared.ErrNotFound)
	}
	return po, nil
}

// List filters orders, newest first.
func (r *MemoryRepository) List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	var matched []PurchaseOrder
	r.tx.Read(ctx, func() {
		for _, po := range r.rows {
			if filters.Status != "" && po.Status != filters.Status {
				continue
			}
			if filters.ContractID != 0 && (po.ContractID == nil || *po.ContractID != filters.ContractID) {
				continue
			}
			if filters.QuotationID != 0 && (po.QuotationID == nil || *po.QuotationID != filters.QuotationID) {
				continue
			}
			matched = append(matched, po)
		}
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	start, end := shared.NewPage(filters.Limit, filters.Offset).Window(len(matched))
	return matched[start:end], len(matched), nil
}

// SaveStatus updates status only; other fields are immutable.
func (r *MemoryRepository) SaveStatus(ctx context.Context, po PurchaseOrder, expected Status) error {
	return r.tx.Write(ctx, func() error {
		current, ok := r.rows[po.ID]
		if !ok {
			return fmt.Errorf("purchase order %d: %w", po.ID, shared.ErrNotFound)
		}
		if current.Status != expected {
			return fmt.Errorf("purchase order %s changed to %s: %w", current.Number, current.Status, shared.ErrInvalidTransition)
		}
		current.Status = po.Status
		current.UpdatedAt = po.UpdatedAt
		r.rows[po.ID] = current
		return nil
	})
}
