package requisition

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// MemoryRepository keeps requisitions in process. It takes part in the
// transactions of the MemoryTransactor it was built with.
type MemoryRepository struct {
	tx     *db.MemoryTransactor
	nextID int64
	rows   map[int64]Requisition
}

// NewMemoryRepository constructs the store and registers it with tx.
func NewMemoryRepository(tx *db.MemoryTransactor) *MemoryRepository {
	r := &MemoryRepository{tx: tx, rows: make(map[int64]Requisition)}
	tx.Register(r)
	return r
}

// Snapshot implements db.Participant.
func (r *MemoryRepository) Snapshot() func() {
	nextID := r.nextID
	rows := make(map[int64]Requisition, len(r.rows))
	for id, row := range r.rows {
		rows[id] = row.Clone()
	}
	return func() {
		r.nextID = nextID
		r.rows = rows
	}
}

// Create assigns the id and number and stores req.
func (r *MemoryRepository) Create(ctx context.Context, req Requisition) (Requisition, error) {
	err := r.tx.Write(ctx, func() error {
		r.nextID++
		req.ID = r.nextID
		req.Number = FormatNumber(req.ID)
		r.rows[req.ID] = req.Clone()
		return nil
	})
	return req, err
}

// Get returns a copy of the stored requisition.
func (r *MemoryRepository) Get(ctx context.Context, id int64) (Requisition, error) {
	var (
		out Requisition
		ok  bool
	)
	r.tx.Read(ctx, func() {
		var row Requisition
		row, ok = r.rows[id]
		if ok {
			out = row.Clone()
		}
	})
	if !ok {
		return Requisition{}, fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
	}
	return out, nil
}

// List filters by status and requester, newest first.
func (r *MemoryRepository) List(ctx context.Context, filters ListFilters) ([]Requisition, int, error) {
	var matched []Requisition
	r.tx.Read(ctx, func() {
		for _, row := range r.rows {
			if filters.Status != "" && row.Status != filters.Status {
				continue
			}
			if filters.RequesterID != "" && row.RequesterID != filters.RequesterID {
				continue
			}
			matched = append(matched, row.Clone())
		}
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	start, end := shared.NewPage(filters.Limit, filters.Offset).Window(len(matched))
	return matched[start:end], len(matched), nil
}

// Save overwrites req when the stored status still equals expected.
func (r *MemoryRepository) Save(ctx context.Context, req Requisition, expected Status, replaceItems bool) error {
	return r.tx.Write(ctx, func() error {
		current, ok := r.rows[req.ID]
		if !ok {
			return fmt.Errorf("requisition %d: %w", req.ID, shared.ErrNotFound)
		}
		if current.Status != expected {
			return fmt.Errorf("requisition %s changed to %s: %w", current.Number, current.Status, shared.ErrInvalidTransition)
		}
		next := req.Clone()
		next.Number = current.Number
		next.CreatedAt = current.CreatedAt
		if !replaceItems {
			next.Items = current.Items
		}
		r.rows[req.ID] = next
		return nil
	})
}

// Delete removes the row when its status still equals expected.
func (r *MemoryRepository) Delete(ctx context.Context, id int64, expected Status) error {
	return r.tx.Write(ctx, func() error {
		current, ok := r.rows[id]
		if !ok {
			return fmt.Errorf("requisition %d: %w", id, shared.ErrNotFound)
		}
		if current.Status != expected {
			return fmt.Errorf("requisition %s changed to %s: %w", current.Number, current.Status, shared.ErrInvalidTransition)
		}
		delete(r.rows, id)
		return nil
	})
}
