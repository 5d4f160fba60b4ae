// Package award turns a quotation decision into a purchase order as a single
// unit of work.
package award

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-sourcing/internal/observability"
	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/purchaseorder"
	"github.com/odyssey-erp/odyssey-sourcing/internal/quotation"
	"github.com/odyssey-erp/odyssey-sourcing/internal/requisition"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

const approvalModule = "QUOTATION"

// QuotationPort finalizes a quotation on the winning response.
type QuotationPort interface {
	Finalize(ctx context.Context, quotationID, responseID int64, reviewerID string) (quotation.Selection, error)
}

// OrderPort issues purchase orders inside the caller's transaction.
type OrderPort interface {
	Issue(ctx context.Context, actor string, input purchaseorder.CreateInput) (purchaseorder.PurchaseOrder, error)
	Issued(ctx context.Context, po purchaseorder.PurchaseOrder)
}

// RequisitionPort closes the source requisition.
type RequisitionPort interface {
	MarkQuoted(ctx context.Context, id int64) (requisition.Requisition, error)
}

// ApprovalPort records the award decision.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Result is everything an award changed.
type Result struct {
	Quotation   quotation.Quotation         `json:"quotation"`
	Winner      quotation.SupplierResponse  `json:"winner"`
	Order       purchaseorder.PurchaseOrder `json:"purchase_order"`
	Requisition requisition.Requisition     `json:"requisition"`
}

// Service coordinates quotation finalization and order issue.
type Service struct {
	tx           db.Transactor
	quotations   QuotationPort
	orders       OrderPort
	requisitions RequisitionPort
	approvals    ApprovalPort
	audit        AuditPort
	metrics      *observability.Sourcing
}

// NewService constructs the award coordinator.
func NewService(tx db.Transactor, quotations QuotationPort, orders OrderPort, requisitions RequisitionPort, approvals ApprovalPort, audit AuditPort, metrics *observability.Sourcing) *Service {
	return &Service{
		tx:           tx,
		quotations:   quotations,
		orders:       orders,
		requisitions: requisitions,
		approvals:    approvals,
		audit:        audit,
		metrics:      metrics,
	}
}

// SelectResponse awards quotationID to responseID. Finalization, sibling
// rejection, order issue and closing the requisition commit together or not
// at all. A quotation that is already finalized or cancelled yields
// shared.ErrInvalidTransition, so repeated and concurrent calls have exactly
// one winner.
func (s *Service) SelectResponse(ctx context.Context, quotationID, responseID int64, reviewerID string) (Result, error) {
	var res Result
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		sel, err := s.quotations.Finalize(ctx, quotationID, responseID, reviewerID)
		if err != nil {
			return err
		}
		q := sel.Quotation
		qid, rid := q.ID, sel.Winner.ID
		po, err := s.orders.Issue(ctx, reviewerID, purchaseorder.CreateInput{
			QuotationID: &qid,
			ResponseID:  &rid,
			Description: fmt.Sprintf("Award of quotation %s", q.Number),
			Supplier: purchaseorder.Supplier{
				Name:    sel.Winner.Supplier.Name,
				TaxID:   sel.Winner.Supplier.TaxID,
				Contact: sel.Winner.Supplier.Contact,
			},
			ContractID: q.ContractID,
			TotalValue: sel.Winner.Total(),
		})
		if err != nil {
			return fmt.Errorf("award: issue purchase order: %w", err)
		}
		req, err := s.requisitions.MarkQuoted(ctx, q.RequisitionID)
		if err != nil {
			return fmt.Errorf("award: close requisition: %w", err)
		}
		res = Result{Quotation: q, Winner: sel.Winner, Order: po, Requisition: req}
		return nil
	})
	if err != nil {
		s.metrics.Award(outcome(err))
		return Result{}, err
	}

	s.metrics.Award("won")
	s.metrics.Transition("quotation", string(quotation.StatusFinalized))
	s.orders.Issued(ctx, res.Order)
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  approvalModule,
			RefID:   shared.ApprovalRef(approvalModule, quotationID),
			ActorID: reviewerID,
			Action:  shared.ApprovalAward,
			Note:    fmt.Sprintf("response %d, order %s", responseID, res.Order.Number),
		})
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  reviewerID,
			Action:   "QUOTATION_AWARD",
			Entity:   "quotation",
			EntityID: fmt.Sprintf("%d", quotationID),
			Meta: map[string]any{
				"response_id":    responseID,
				"supplier":       res.Winner.Supplier.Name,
				"purchase_order": res.Order.Number,
				"total":          res.Order.TotalValue.StringFixed(2),
			},
		})
	}
	return res, nil
}

func outcome(err error) string {
	if errors.Is(err, shared.ErrInvalidTransition) || errors.Is(err, shared.ErrNotEligible) {
		return "conflict"
	}
	return "error"
}
