package purchaseorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-sourcing/internal/observability"
	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

const (
	// DefaultPrefix is used when no order number prefix is configured.
	DefaultPrefix = "PO"
	numberAttempts = 5
	createModule   = "purchase_order.create"
)

// Repository describes persistence used by Service.
type Repository interface {
	// NextSequence returns the next suffix for prefix and year. The counter
	// only moves forward, even when the caller's transaction rolls back.
	NextSequence(ctx context.Context, prefix string, year int) (int64, error)
	// Create fails with ErrDuplicateNumber when po.Number is taken, leaving
	// the caller's transaction usable.
	Create(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error)
	SaveStatus(ctx context.Context, po PurchaseOrder, expected Status) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns purchase orders and their fulfillment status.
type Service struct {
	repo    Repository
	tx      db.Transactor
	audit   AuditPort
	metrics *observability.Sourcing
	idem    shared.Idempotency
	prefix  string
	now     func() time.Time
}

// NewService constructs purchase order service.
func NewService(repo Repository, tx db.Transactor, audit AuditPort, metrics *observability.Sourcing, prefix string) *Service {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Service{
		repo:    repo,
		tx:      tx,
		audit:   audit,
		metrics: metrics,
		prefix:  prefix,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithIdempotency enables CreateOnce deduplication against store.
func (s *Service) WithIdempotency(store shared.Idempotency) *Service {
	s.idem = store
	return s
}

// CreateInput describes a new order. QuotationID and ResponseID are set
// together for awarded orders and left empty for ad-hoc purchases. Only Issue
// accepts them; the award flow calls it once the response is selected.
type CreateInput struct {
	QuotationID *int64          `json:"quotation_id" validate:"omitempty,gt=0"`
	ResponseID  *int64          `json:"response_id" validate:"omitempty,gt=0"`
	Description string          `json:"description" validate:"required"`
	Supplier    Supplier        `json:"supplier"`
	ContractID  *int64          `json:"contract_id" validate:"omitempty,gt=0"`
	TotalValue  decimal.Decimal `json:"total_value" validate:"gte=0"`
	IssueDate   *time.Time      `json:"issue_date"`
}

// Create issues a pending order with a fresh PREFIX-YEAR-SEQ number and
// records it.
func (s *Service) Create(ctx context.Context, actor string, input CreateInput) (PurchaseOrder, error) {
	if err := rejectQuotationLink(input); err != nil {
		return PurchaseOrder{}, err
	}
	created, err := s.Issue(ctx, actor, input)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.Issued(ctx, created)
	return created, nil
}

// CreateOnce is Create keyed by a client retry key. Repeating a key returns
// the order created by the first request with replayed set.
func (s *Service) CreateOnce(ctx context.Context, key, actor string, input CreateInput) (po PurchaseOrder, replayed bool, err error) {
	if s.idem == nil || key == "" {
		po, err = s.Create(ctx, actor, input)
		return po, false, err
	}
	if err := shared.CheckIdempotencyKey(key); err != nil {
		return PurchaseOrder{}, false, err
	}
	if err := rejectQuotationLink(input); err != nil {
		return PurchaseOrder{}, false, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.idem.Claim(ctx, createModule, key); err != nil {
			return err
		}
		created, err := s.Issue(ctx, actor, input)
		if err != nil {
			return err
		}
		po = created
		return s.idem.Bind(ctx, createModule, key, created.ID)
	})
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		id, err := s.idem.Lookup(ctx, createModule, key)
		if err != nil {
			return PurchaseOrder{}, false, err
		}
		po, err = s.repo.Get(ctx, id)
		return po, true, err
	}
	if err != nil {
		return PurchaseOrder{}, false, err
	}
	s.Issued(ctx, po)
	return po, false, nil
}

// Issue inserts the order within the transaction carried by ctx. A number
// collision is retried with the next suffix, never overwritten. Nothing is
// audited here: callers composing Issue into a larger transaction call Issued
// once it commits.
func (s *Service) Issue(ctx context.Context, actor string, input CreateInput) (PurchaseOrder, error) {
	if err := validateCreate(actor, input); err != nil {
		return PurchaseOrder{}, err
	}
	now := s.now()
	issue := now
	if input.IssueDate != nil {
		issue = *input.IssueDate
	}
	po := PurchaseOrder{
		QuotationID: input.QuotationID,
		ResponseID:  input.ResponseID,
		Description: strings.TrimSpace(input.Description),
		Supplier:    input.Supplier,
		ContractID:  input.ContractID,
		TotalValue:  input.TotalValue.Round(2),
		Status:      StatusPending,
		IssueDate:   issue,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var created PurchaseOrder
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for attempt := 0; attempt < numberAttempts; attempt++ {
			seq, err := s.repo.NextSequence(ctx, s.prefix, issue.Year())
			if err != nil {
				return fmt.Errorf("purchaseorder: next sequence: %w", err)
			}
			po.Number = FormatNumber(s.prefix, issue.Year(), seq)
			created, err = s.repo.Create(ctx, po)
			if errors.Is(err, ErrDuplicateNumber) {
				s.metrics.OrderNumberRetry()
				continue
			}
			return err
		}
		return fmt.Errorf("purchaseorder: no free number after %d attempts: %w", numberAttempts, ErrDuplicateNumber)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return created, nil
}

// Issued records a committed order.
func (s *Service) Issued(ctx context.Context, po PurchaseOrder) {
	s.metrics.OrderIssued()
	s.recordAudit(ctx, po.CreatedBy, "PO_CREATE", po.ID, map[string]any{
		"number": po.Number,
		"total":  po.TotalValue.StringFixed(2),
	})
}

// Advance moves an order along pending, approved, sent, received, or to
// cancelled from any state before received.
func (s *Service) Advance(ctx context.Context, id int64, next Status, actor string) (PurchaseOrder, error) {
	if !next.Valid() {
		return PurchaseOrder{}, &shared.ValidationError{Fields: []shared.FieldError{{Field: "status", Message: fmt.Sprintf("unknown status %q", next)}}}
	}
	var out PurchaseOrder
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		po, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !po.Status.CanAdvanceTo(next) {
			return fmt.Errorf("purchase order %s cannot go from %s to %s: %w", po.Number, po.Status, next, shared.ErrInvalidTransition)
		}
		expected := po.Status
		po.Status = next
		po.UpdatedAt = s.now()
		if err := s.repo.SaveStatus(ctx, po, expected); err != nil {
			return err
		}
		out = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.metrics.Transition("purchase_order", string(next))
	s.recordAudit(ctx, actor, "PO_"+strings.ToUpper(string(next)), id, nil)
	return out, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of orders and the total matching count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	page := shared.NewPage(filters.Limit, filters.Offset)
	filters.Limit, filters.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, filters)
}

func rejectQuotationLink(input CreateInput) error {
	var v shared.Violations
	if input.QuotationID != nil {
		v.Add("quotation_id", "is set only when a quotation response is awarded")
	}
	if input.ResponseID != nil {
		v.Add("response_id", "is set only when a quotation response is awarded")
	}
	return v.Err()
}

func validateCreate(actor string, input CreateInput) error {
	var v shared.Violations
	if strings.TrimSpace(actor) == "" {
		v.Add("created_by", "is required")
	}
	if (input.QuotationID == nil) != (input.ResponseID == nil) {
		v.Add("response_id", "quotation_id and response_id go together")
	}
	if err := shared.ValidateStruct(input); err != nil && !v.Merge(err) {
		return err
	}
	return v.Err()
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", id), Meta: meta})
}
