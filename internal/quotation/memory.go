package quotation

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// MemoryRepository keeps quotations and responses in process.
type MemoryRepository struct {
	tx             *db.MemoryTransactor
	nextID         int64
	nextResponseID int64
	rows           map[int64]Quotation
}

// NewMemoryRepository constructs the store and registers it with tx.
func NewMemoryRepository(tx *db.MemoryTransactor) *MemoryRepository {
	r := &MemoryRepository{tx: tx, rows: make(map[int64]Quotation)}
	tx.Register(r)
	return r
}

// Snapshot implements db.Participant.
func (r *MemoryRepository) Snapshot() func() {
	nextID, nextResponseID := r.nextID, r.nextResponseID
	rows := make(map[int64]Quotation, len(r.rows))
	for id, q := range r.rows {
		rows[id] = q.Clone()
	}
	return func() {
		r.nextID, r.nextResponseID = nextID, nextResponseID
		r.rows = rows
	}
}

// Create assigns id and number and stores q with its snapshot.
func (r *MemoryRepository) Create(ctx context.Context, q Quotation) (Quotation, error) {
	err := r.tx.Write(ctx, func() error {
		for _, existing := range r.rows {
			if existing.RequisitionID == q.RequisitionID && existing.Status.IsLive() {
				return fmt.Errorf("requisition %d already has quotation %s: %w", q.RequisitionID, existing.Number, shared.ErrInvalidTransition)
			}
		}
		r.nextID++
		q.ID = r.nextID
		q.Number = FormatNumber(q.ID)
		q.Responses = nil
		r.rows[q.ID] = q.Clone()
		return nil
	})
	return q, err
}

// Get returns a copy of the quotation with responses in id order.
func (r *MemoryRepository) Get(ctx context.Context, id int64) (Quotation, error) {
	var (
		out Quotation
		ok  bool
	)
	r.tx.Read(ctx, func() {
		var q Quotation
		q, ok = r.rows[id]
		if ok {
			out = q.Clone()
		}
	})
	if !ok {
		return Quotation{}, fmt.Errorf("quotation %d: %w", id, shared.ErrNotFound)
	}
	return out, nil
}

// List filters by status and requisition, newest first.
func (r *MemoryRepository) List(ctx context.Context, filters ListFilters) ([]Quotation, int, error) {
	var matched []Quotation
	r.tx.Read(ctx, func() {
		for _, q := range r.rows {
			if filters.Status != "" && q.Status != filters.Status {
				continue
			}
			if filters.RequisitionID != 0 && q.RequisitionID != filters.RequisitionID {
				continue
			}
			matched = append(matched, q.Clone())
		}
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	start, end := shared.NewPage(filters.Limit, filters.Offset).Window(len(matched))
	return matched[start:end], len(matched), nil
}

// SaveHeader writes status, finalization date and timestamps when the stored
// status still equals expected. Items and responses are left untouched.
func (r *MemoryRepository) SaveHeader(ctx context.Context, q Quotation, expected Status) error {
	return r.tx.Write(ctx, func() error {
		current, ok := r.rows[q.ID]
		if !ok {
			return fmt.Errorf("quotation %d: %w", q.ID, shared.ErrNotFound)
		}
		if current.Status != expected {
			return fmt.Errorf("quotation %s changed to %s: %w", current.Number, current.Status, shared.ErrInvalidTransition)
		}
		current.Status = q.Status
		current.FinalizedAt = q.FinalizedAt
		current.UpdatedAt = q.UpdatedAt
		r.rows[q.ID] = current
		return nil
	})
}

// AddResponse appends resp to its quotation.
func (r *MemoryRepository) AddResponse(ctx context.Context, resp SupplierResponse) (SupplierResponse, error) {
	err := r.tx.Write(ctx, func() error {
		q, ok := r.rows[resp.QuotationID]
		if !ok {
			return fmt.Errorf("quotation %d: %w", resp.QuotationID, shared.ErrNotFound)
		}
		r.nextResponseID++
		resp.ID = r.nextResponseID
		q.Responses = append(q.Responses, resp.Clone())
		r.rows[q.ID] = q
		return nil
	})
	return resp, err
}

// SaveResponse replaces a response when its stored status equals expected.
func (r *MemoryRepository) SaveResponse(ctx context.Context, resp SupplierResponse, expected ResponseStatus) error {
	return r.tx.Write(ctx, func() error {
		q, ok := r.rows[resp.QuotationID]
		if !ok {
			return fmt.Errorf("quotation %d: %w", resp.QuotationID, shared.ErrNotFound)
		}
		for i, existing := range q.Responses {
			if existing.ID != resp.ID {
				continue
			}
			if existing.Status != expected {
				return fmt.Errorf("response %d changed to %s: %w", resp.ID, existing.Status, shared.ErrInvalidTransition)
			}
			q.Responses[i] = resp.Clone()
			r.rows[q.ID] = q
			return nil
		}
		return fmt.Errorf("response %d: %w", resp.ID, shared.ErrNotFound)
	})
}
