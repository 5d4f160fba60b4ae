package requisition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-sourcing/internal/observability"
	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

const approvalModule = "REQUISITION"

// Repository describes persistence used by Service. Save and Delete are
// compare-and-set on the stored status and fail with
// shared.ErrInvalidTransition when it no longer equals expected.
type Repository interface {
	Create(ctx context.Context, req Requisition) (Requisition, error)
	Get(ctx context.Context, id int64) (Requisition, error)
	List(ctx context.Context, filters ListFilters) ([]Requisition, int, error)
	Save(ctx context.Context, req Requisition, expected Status, replaceItems bool) error
	Delete(ctx context.Context, id int64, expected Status) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval decisions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Service owns requisition records and their approval state machine.
type Service struct {
	repo      Repository
	tx        db.Transactor
	approvals ApprovalPort
	audit     AuditPort
	metrics   *observability.Sourcing
	now       func() time.Time
}

// NewService constructs requisition service.
func NewService(repo Repository, tx db.Transactor, approvals ApprovalPort, audit AuditPort, metrics *observability.Sourcing) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		approvals: approvals,
		audit:     audit,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Input is the editable part of a requisition. Drafts may be incomplete;
// completeness is enforced on Submit.
type Input struct {
	RequesterID   string      `json:"requester_id"`
	CostCenter    string      `json:"cost_center"`
	ContractID    *int64      `json:"contract_id" validate:"omitempty,gt=0"`
	RequestedAt   *time.Time  `json:"requested_at"`
	NeededBy      *time.Time  `json:"needed_by"`
	Priority      Priority    `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Justification string      `json:"justification"`
	Notes         string      `json:"notes"`
	Items         []ItemInput `json:"items" validate:"dive"`
}

// ItemInput describes a requested line.
type ItemInput struct {
	Description   string          `json:"description" validate:"required"`
	Specification string          `json:"specification"`
	Quantity      decimal.Decimal `json:"quantity" validate:"gte=0"`
	Unit          string          `json:"unit"`
	NeededBy      *time.Time      `json:"needed_by"`
	CostCenter    string          `json:"cost_center"`
	Notes         string          `json:"notes"`
}

// Create stores a new draft requisition with a sequential number.
func (s *Service) Create(ctx context.Context, actor string, input Input) (Requisition, error) {
	if err := requireActor(actor, "created_by"); err != nil {
		return Requisition{}, err
	}
	if err := validateInput(input); err != nil {
		return Requisition{}, err
	}
	now := s.now()
	req := Requisition{Status: StatusDraft, CreatedBy: actor, CreatedAt: now, UpdatedAt: now}
	applyInput(&req, input, now)
	if req.RequesterID == "" {
		req.RequesterID = actor
	}

	created, err := s.repo.Create(ctx, req)
	if err != nil {
		return Requisition{}, fmt.Errorf("requisition: create: %w", err)
	}
	s.recordAudit(ctx, actor, "REQUISITION_CREATE", created.ID, map[string]any{"number": created.Number, "items": len(created.Items)})
	return created, nil
}

// Update replaces header and items of a draft.
func (s *Service) Update(ctx context.Context, id int64, actor string, input Input) (Requisition, error) {
	if err := requireActor(actor, "actor_id"); err != nil {
		return Requisition{}, err
	}
	if err := validateInput(input); err != nil {
		return Requisition{}, err
	}
	updated, err := s.transition(ctx, id, Status.CanEdit, true, func(req *Requisition) error {
		applyInput(req, input, req.RequestedAt)
		if req.RequesterID == "" {
			req.RequesterID = req.CreatedBy
		}
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, actor, "REQUISITION_UPDATE", id, nil)
	return updated, nil
}

// Submit sends a complete draft for approval. Every missing or invalid field
// is reported at once.
func (s *Service) Submit(ctx context.Context, id int64, actor string) (Requisition, error) {
	if err := requireActor(actor, "actor_id"); err != nil {
		return Requisition{}, err
	}
	submitted, err := s.transition(ctx, id, Status.CanSubmit, false, func(req *Requisition) error {
		if err := validateForSubmit(*req); err != nil {
			return err
		}
		req.Status = StatusPending
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordApproval(ctx, id, actor, shared.ApprovalSubmit, fmt.Sprintf("requisition %s submitted", submitted.Number))
	s.recordAudit(ctx, actor, "REQUISITION_SUBMIT", id, nil)
	return submitted, nil
}

// Approve records the approver decision on a pending requisition.
func (s *Service) Approve(ctx context.Context, id int64, approverID string) (Requisition, error) {
	if err := requireActor(approverID, "approver_id"); err != nil {
		return Requisition{}, err
	}
	approved, err := s.transition(ctx, id, Status.CanDecide, false, func(req *Requisition) error {
		at := s.now()
		req.Status = StatusApproved
		req.ApprovedBy = approverID
		req.DecidedAt = &at
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordApproval(ctx, id, approverID, shared.ApprovalApprove, fmt.Sprintf("requisition %s approved", approved.Number))
	s.recordAudit(ctx, approverID, "REQUISITION_APPROVE", id, nil)
	return approved, nil
}

// Reject closes a pending requisition; reason is mandatory.
func (s *Service) Reject(ctx context.Context, id int64, approverID, reason string) (Requisition, error) {
	var v shared.Violations
	if strings.TrimSpace(approverID) == "" {
		v.Add("approver_id", "is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		v.Add("reason", "is required")
	}
	if err := v.Err(); err != nil {
		return Requisition{}, err
	}
	rejected, err := s.transition(ctx, id, Status.CanDecide, false, func(req *Requisition) error {
		at := s.now()
		req.Status = StatusRejected
		req.ApprovedBy = approverID
		req.DecidedAt = &at
		req.RejectionReason = reason
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordApproval(ctx, id, approverID, shared.ApprovalReject, reason)
	s.recordAudit(ctx, approverID, "REQUISITION_REJECT", id, map[string]any{"reason": reason})
	return rejected, nil
}

// MarkInQuotation moves an approved requisition into quotation and returns
// the record as it stood at the transition, items included. Only one caller
// wins; the others observe shared.ErrInvalidTransition.
func (s *Service) MarkInQuotation(ctx context.Context, id int64) (Requisition, error) {
	return s.transition(ctx, id, Status.CanOpenQuotation, false, func(req *Requisition) error {
		req.Status = StatusInQuotation
		return nil
	})
}

// ReleaseFromQuotation returns a requisition to approved after its quotation
// was cancelled, so a new quotation can be opened.
func (s *Service) ReleaseFromQuotation(ctx context.Context, id int64) (Requisition, error) {
	return s.transition(ctx, id, isInQuotation, false, func(req *Requisition) error {
		req.Status = StatusApproved
		return nil
	})
}

// MarkQuoted closes a requisition whose quotation was finalized.
func (s *Service) MarkQuoted(ctx context.Context, id int64) (Requisition, error) {
	return s.transition(ctx, id, isInQuotation, false, func(req *Requisition) error {
		req.Status = StatusQuoted
		return nil
	})
}

// Cancel withdraws a requisition that has not entered quotation.
func (s *Service) Cancel(ctx context.Context, id int64, actor string) (Requisition, error) {
	if err := requireActor(actor, "actor_id"); err != nil {
		return Requisition{}, err
	}
	cancelled, err := s.transition(ctx, id, Status.CanCancel, false, func(req *Requisition) error {
		req.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, actor, "REQUISITION_CANCEL", id, nil)
	return cancelled, nil
}

// Delete removes a draft.
func (s *Service) Delete(ctx context.Context, id int64, actor string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return fmt.Errorf("requisition %s is %s: %w", current.Number, current.Status, shared.ErrInvalidTransition)
		}
		return s.repo.Delete(ctx, id, StatusDraft)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "REQUISITION_DELETE", id, nil)
	return nil
}

// Get returns a requisition with its items.
func (s *Service) Get(ctx context.Context, id int64) (Requisition, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of requisitions and the total matching count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Requisition, int, error) {
	page := shared.NewPage(filters.Limit, filters.Offset)
	filters.Limit, filters.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, filters)
}

// transition loads, checks and compare-and-sets a requisition in one unit.
func (s *Service) transition(ctx context.Context, id int64, allowed func(Status) bool, replaceItems bool, mutate func(*Requisition) error) (Requisition, error) {
	var out Requisition
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !allowed(current.Status) {
			return fmt.Errorf("requisition %s is %s: %w", current.Number, current.Status, shared.ErrInvalidTransition)
		}
		next := current.Clone()
		if err := mutate(&next); err != nil {
			return err
		}
		next.UpdatedAt = s.now()
		if err := s.repo.Save(ctx, next, current.Status, replaceItems); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.metrics.Transition("requisition", string(out.Status))
	return out, nil
}

func isInQuotation(s Status) bool { return s == StatusInQuotation }

func applyInput(req *Requisition, input Input, requestedAt time.Time) {
	req.RequesterID = strings.TrimSpace(input.RequesterID)
	req.CostCenter = strings.TrimSpace(input.CostCenter)
	req.ContractID = input.ContractID
	req.RequestedAt = requestedAt
	if input.RequestedAt != nil {
		req.RequestedAt = *input.RequestedAt
	}
	req.NeededBy = input.NeededBy
	req.Priority = input.Priority
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	req.Justification = strings.TrimSpace(input.Justification)
	req.Notes = input.Notes
	req.Items = make([]Item, 0, len(input.Items))
	for i, in := range input.Items {
		req.Items = append(req.Items, Item{
			LineNo:        i + 1,
			Description:   strings.TrimSpace(in.Description),
			Specification: in.Specification,
			Quantity:      in.Quantity,
			Unit:          in.Unit,
			NeededBy:      in.NeededBy,
			CostCenter:    in.CostCenter,
			Notes:         in.Notes,
		})
	}
}

func validateInput(input Input) error {
	var v shared.Violations
	if err := shared.ValidateStruct(input); err != nil && !v.Merge(err) {
		return err
	}
	for i, item := range input.Items {
		if shared.ExceedsScale(item.Quantity, shared.MeasureScale) {
			v.Add(fmt.Sprintf("items[%d].quantity", i), "must have at most %d decimal places", shared.MeasureScale)
		}
	}
	return v.Err()
}

func validateForSubmit(req Requisition) error {
	var v shared.Violations
	if len(req.Items) == 0 {
		v.Add("items", "at least one item is required")
	}
	if strings.TrimSpace(req.Justification) == "" {
		v.Add("justification", "is required")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.Description) == "" {
			v.Add(fmt.Sprintf("items[%d].description", i), "is required")
		}
		if !item.Quantity.IsPositive() {
			v.Add(fmt.Sprintf("items[%d].quantity", i), "must be greater than 0")
		}
	}
	return v.Err()
}

func requireActor(actor, field string) error {
	if strings.TrimSpace(actor) == "" {
		return &shared.ValidationError{Fields: []shared.FieldError{{Field: field, Message: "is required"}}}
	}
	return nil
}

func (s *Service) recordApproval(ctx context.Context, id int64, actor string, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: approvalModule, RefID: shared.ApprovalRef(approvalModule, id), ActorID: actor, Action: action, Note: note})
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "requisition", EntityID: fmt.Sprintf("%d", id), Meta: meta})
}
