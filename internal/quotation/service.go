package quotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-sourcing/internal/observability"
	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/requisition"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// Repository describes persistence used by Service. SaveHeader and
// SaveResponse are compare-and-set on the stored status.
type Repository interface {
	Create(ctx context.Context, q Quotation) (Quotation, error)
	Get(ctx context.Context, id int64) (Quotation, error)
	List(ctx context.Context, filters ListFilters) ([]Quotation, int, error)
	SaveHeader(ctx context.Context, q Quotation, expected Status) error
	AddResponse(ctx context.Context, resp SupplierResponse) (SupplierResponse, error)
	SaveResponse(ctx context.Context, resp SupplierResponse, expected ResponseStatus) error
}

// RequisitionPort is the part of the requisition store a quotation drives.
type RequisitionPort interface {
	MarkInQuotation(ctx context.Context, id int64) (requisition.Requisition, error)
	ReleaseFromQuotation(ctx context.Context, id int64) (requisition.Requisition, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns quotations and their supplier responses.
type Service struct {
	repo         Repository
	requisitions RequisitionPort
	tx           db.Transactor
	audit        AuditPort
	metrics      *observability.Sourcing
	idem         shared.Idempotency
	now          func() time.Time
}

// NewService constructs quotation service.
func NewService(repo Repository, requisitions RequisitionPort, tx db.Transactor, audit AuditPort, metrics *observability.Sourcing) *Service {
	return &Service{
		repo:         repo,
		requisitions: requisitions,
		tx:           tx,
		audit:        audit,
		metrics:      metrics,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithIdempotency enables AddSupplierResponseOnce deduplication against store.
func (s *Service) WithIdempotency(store shared.Idempotency) *Service {
	s.idem = store
	return s
}

// OpenInput describes a new quotation.
type OpenInput struct {
	RequisitionID    int64      `json:"requisition_id" validate:"required,gt=0"`
	ContractID       *int64     `json:"contract_id" validate:"omitempty,gt=0"`
	ResponseDeadline *time.Time `json:"response_deadline"`
	Notes            string     `json:"notes"`
}

// Open moves an approved requisition into quotation and snapshots its items.
// Both happen in one transaction; a requisition that is not approved, or
// that lost the race to another Open, yields shared.ErrInvalidTransition.
func (s *Service) Open(ctx context.Context, actor string, input OpenInput) (Quotation, error) {
	var v shared.Violations
	if strings.TrimSpace(actor) == "" {
		v.Add("created_by", "is required")
	}
	v.Merge(shared.ValidateStruct(input))
	if err := v.Err(); err != nil {
		return Quotation{}, err
	}

	var created Quotation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.requisitions.MarkInQuotation(ctx, input.RequisitionID)
		if err != nil {
			return err
		}
		now := s.now()
		q := Quotation{
			RequisitionID:    req.ID,
			ContractID:       input.ContractID,
			Items:            snapshot(req.Items),
			Status:           StatusAwaiting,
			OpenedAt:         now,
			ResponseDeadline: input.ResponseDeadline,
			Notes:            input.Notes,
			CreatedBy:        actor,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if q.ContractID == nil {
			q.ContractID = req.ContractID
		}
		created, err = s.repo.Create(ctx, q)
		return err
	})
	if err != nil {
		return Quotation{}, err
	}
	s.metrics.Transition("quotation", string(StatusAwaiting))
	s.recordAudit(ctx, actor, "QUOTATION_OPEN", created.ID, map[string]any{"number": created.Number, "requisition_id": created.RequisitionID})
	return created, nil
}

// AddSupplierResponse appends an unanswered response row for supplier.
func (s *Service) AddSupplierResponse(ctx context.Context, quotationID int64, actor string, supplier Supplier) (SupplierResponse, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if err := shared.ValidateStruct(supplier); err != nil {
		return SupplierResponse{}, err
	}
	added, err := s.addResponse(ctx, quotationID, supplier, "")
	if err != nil {
		return SupplierResponse{}, err
	}
	s.recordAudit(ctx, actor, "QUOTATION_ADD_SUPPLIER", quotationID, map[string]any{"response_id": added.ID, "supplier": supplier.Name})
	return added, nil
}

// AddSupplierResponseOnce is AddSupplierResponse keyed by a client retry key.
// Repeating a key on the same quotation returns the first response with
// replayed set.
func (s *Service) AddSupplierResponseOnce(ctx context.Context, quotationID int64, key, actor string, supplier Supplier) (resp SupplierResponse, replayed bool, err error) {
	if s.idem == nil || key == "" {
		resp, err = s.AddSupplierResponse(ctx, quotationID, actor, supplier)
		return resp, false, err
	}
	if err := shared.CheckIdempotencyKey(key); err != nil {
		return SupplierResponse{}, false, err
	}
	supplier.Name = strings.TrimSpace(supplier.Name)
	if err := shared.ValidateStruct(supplier); err != nil {
		return SupplierResponse{}, false, err
	}
	resp, err = s.addResponse(ctx, quotationID, supplier, key)
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		id, err := s.idem.Lookup(ctx, responseModule(quotationID), key)
		if err != nil {
			return SupplierResponse{}, false, err
		}
		q, err := s.repo.Get(ctx, quotationID)
		if err != nil {
			return SupplierResponse{}, false, err
		}
		prior, ok := q.Response(id)
		if !ok {
			return SupplierResponse{}, false, fmt.Errorf("quotation %s response %d: %w", q.Number, id, shared.ErrNotFound)
		}
		return prior, true, nil
	}
	if err != nil {
		return SupplierResponse{}, false, err
	}
	s.recordAudit(ctx, actor, "QUOTATION_ADD_SUPPLIER", quotationID, map[string]any{"response_id": resp.ID, "supplier": supplier.Name})
	return resp, false, nil
}

func responseModule(quotationID int64) string {
	return fmt.Sprintf("quotation.%d.response", quotationID)
}

// addResponse claims key, when set, in the same transaction as the insert.
func (s *Service) addResponse(ctx context.Context, quotationID int64, supplier Supplier, key string) (SupplierResponse, error) {
	var added SupplierResponse
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if key != "" {
			if err := s.idem.Claim(ctx, responseModule(quotationID), key); err != nil {
				return err
			}
		}
		q, err := s.live(ctx, quotationID)
		if err != nil {
			return err
		}
		if err := s.touch(ctx, &q, q.Status); err != nil {
			return err
		}
		added, err = s.repo.AddResponse(ctx, SupplierResponse{
			QuotationID: quotationID,
			Supplier:    supplier,
			Status:      ResponsePending,
		})
		if err != nil || key == "" {
			return err
		}
		return s.idem.Bind(ctx, responseModule(quotationID), key, added.ID)
	})
	if err != nil {
		return SupplierResponse{}, err
	}
	return added, nil
}

// RecordResponse stores a supplier's complete quote. Every missing or
// inconsistent field is reported in one shared.ValidationError. The first
// recorded response moves the quotation into analysis.
func (s *Service) RecordResponse(ctx context.Context, quotationID, responseID int64, actor string, payload ResponsePayload) (SupplierResponse, error) {
	var recorded SupplierResponse
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q, err := s.live(ctx, quotationID)
		if err != nil {
			return err
		}
		resp, ok := q.Response(responseID)
		if !ok {
			return fmt.Errorf("quotation %s response %d: %w", q.Number, responseID, shared.ErrNotFound)
		}
		if !resp.Status.CanRecord() {
			return fmt.Errorf("quotation %s response %d is %s: %w", q.Number, responseID, resp.Status, shared.ErrInvalidTransition)
		}
		lines, err := buildLines(q.Items, payload)
		if err != nil {
			return err
		}

		read := q.Status
		if q.Status == StatusAwaiting {
			q.Status = StatusInAnalysis
		}
		if err := s.touch(ctx, &q, read); err != nil {
			return err
		}

		at := s.now()
		expected := resp.Status
		resp.Responded = true
		resp.Status = ResponseSubmitted
		resp.DeliveryLeadDays = payload.DeliveryLeadDays
		resp.PaymentTerms = strings.TrimSpace(payload.PaymentTerms)
		resp.ValidityDays = payload.ValidityDays
		resp.Notes = payload.Notes
		resp.Lines = lines
		resp.RespondedAt = &at
		if err := s.repo.SaveResponse(ctx, resp, expected); err != nil {
			return err
		}
		recorded = resp
		return nil
	})
	if err != nil {
		return SupplierResponse{}, err
	}
	s.recordAudit(ctx, actor, "QUOTATION_RECORD_RESPONSE", quotationID, map[string]any{"response_id": responseID, "total": recorded.Total().StringFixed(2)})
	return recorded, nil
}

// BestResponse returns the submitted response with the lowest total, ties
// going to the lowest response id. ok is false when none was submitted.
func (s *Service) BestResponse(ctx context.Context, quotationID int64) (SupplierResponse, bool, error) {
	q, err := s.repo.Get(ctx, quotationID)
	if err != nil {
		return SupplierResponse{}, false, err
	}
	best, ok := bestOf(q.Responses)
	return best, ok, nil
}

func bestOf(responses []SupplierResponse) (SupplierResponse, bool) {
	var (
		best  SupplierResponse
		found bool
	)
	for _, r := range responses {
		if r.Status != ResponseSubmitted {
			continue
		}
		if !found {
			best, found = r, true
			continue
		}
		cmp := r.Total().Cmp(best.Total())
		if cmp < 0 || (cmp == 0 && r.ID < best.ID) {
			best = r
		}
	}
	return best, found
}

// Cancel closes a live quotation and returns its requisition to approved in
// the same transaction so a new quotation can be opened.
func (s *Service) Cancel(ctx context.Context, quotationID int64, actor string) (Quotation, error) {
	var cancelled Quotation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q, err := s.live(ctx, quotationID)
		if err != nil {
			return err
		}
		expected := q.Status
		q.Status = StatusCancelled
		if err := s.touch(ctx, &q, expected); err != nil {
			return err
		}
		if _, err := s.requisitions.ReleaseFromQuotation(ctx, q.RequisitionID); err != nil {
			return err
		}
		cancelled = q
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.metrics.Transition("quotation", string(StatusCancelled))
	s.recordAudit(ctx, actor, "QUOTATION_CANCEL", quotationID, nil)
	return cancelled, nil
}

// Finalize selects responseID as the winner, rejects the other submitted
// responses and closes the quotation. It is the award step only: callers
// run it inside the transaction that also issues the purchase order.
func (s *Service) Finalize(ctx context.Context, quotationID, responseID int64, reviewerID string) (Selection, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return Selection{}, &shared.ValidationError{Fields: []shared.FieldError{{Field: "reviewer_id", Message: "is required"}}}
	}
	var sel Selection
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q, err := s.repo.Get(ctx, quotationID)
		if err != nil {
			return err
		}
		if q.Status == StatusFinalized || q.Status == StatusCancelled {
			return fmt.Errorf("quotation %s is %s: %w", q.Number, q.Status, shared.ErrInvalidTransition)
		}
		target, ok := q.Response(responseID)
		if !ok {
			return fmt.Errorf("quotation %s response %d: %w", q.Number, responseID, shared.ErrNotFound)
		}
		if target.Status != ResponseSubmitted {
			return fmt.Errorf("quotation %s response %d is %s: %w", q.Number, responseID, target.Status, shared.ErrNotEligible)
		}

		at := s.now()
		q.Status = StatusFinalized
		q.FinalizedAt = &at
		if err := s.touch(ctx, &q, StatusInAnalysis); err != nil {
			return err
		}
		for i, r := range q.Responses {
			if r.Status != ResponseSubmitted {
				continue
			}
			if r.ID == responseID {
				r.Status = ResponseSelected
				r.SelectedBy = reviewerID
				r.SelectedAt = &at
			} else {
				r.Status = ResponseRejected
			}
			if err := s.repo.SaveResponse(ctx, r, ResponseSubmitted); err != nil {
				return err
			}
			q.Responses[i] = r
		}
		winner, _ := q.Response(responseID)
		sel = Selection{Quotation: q, Winner: winner}
		return nil
	})
	if err != nil {
		return Selection{}, err
	}
	return sel, nil
}

// Get returns a quotation with its snapshot and responses.
func (s *Service) Get(ctx context.Context, id int64) (Quotation, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of quotations and the total matching count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Quotation, int, error) {
	page := shared.NewPage(filters.Limit, filters.Offset)
	filters.Limit, filters.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, filters)
}

// live loads a quotation that still accepts changes.
func (s *Service) live(ctx context.Context, id int64) (Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return Quotation{}, err
	}
	if !q.Status.IsLive() {
		return Quotation{}, fmt.Errorf("quotation %s is %s: %w", q.Number, q.Status, shared.ErrInvalidTransition)
	}
	return q, nil
}

// touch writes the header guarded by the status the caller read, so
// concurrent writers to the same quotation conflict instead of interleaving.
func (s *Service) touch(ctx context.Context, q *Quotation, expected Status) error {
	q.UpdatedAt = s.now()
	return s.repo.SaveHeader(ctx, *q, expected)
}

func snapshot(items []requisition.Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, Item{
			LineNo:        it.LineNo,
			Description:   it.Description,
			Specification: it.Specification,
			Quantity:      it.Quantity,
			Unit:          it.Unit,
			NeededBy:      it.NeededBy,
			CostCenter:    it.CostCenter,
			Notes:         it.Notes,
		})
	}
	return out
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "quotation", EntityID: fmt.Sprintf("%d", id), Meta: meta})
}
