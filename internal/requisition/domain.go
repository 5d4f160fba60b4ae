package requisition

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status captures the requisition approval lifecycle.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusInQuotation Status = "in_quotation"
	StatusQuoted      Status = "quoted"
	StatusCancelled   Status = "cancelled"
)

// Priority ranks how urgently the goods are needed.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// CanEdit reports whether header and items may still change.
func (s Status) CanEdit() bool { return s == StatusDraft }

// CanSubmit reports whether the requisition may be sent for approval.
func (s Status) CanSubmit() bool { return s == StatusDraft }

// CanDecide reports whether an approver may approve or reject.
func (s Status) CanDecide() bool { return s == StatusPending }

// CanOpenQuotation reports whether a quotation may be opened against it.
func (s Status) CanOpenQuotation() bool { return s == StatusApproved }

// CanCancel reports whether the requisition may be withdrawn.
func (s Status) CanCancel() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusQuoted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Requisition is an internal request to purchase goods or services.
type Requisition struct {
	ID              int64      `json:"id"`
	Number          string     `json:"number"`
	Status          Status     `json:"status"`
	RequesterID     string     `json:"requester_id"`
	CostCenter      string     `json:"cost_center,omitempty"`
	ContractID      *int64     `json:"contract_id,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	NeededBy        *time.Time `json:"needed_by,omitempty"`
	Priority        Priority   `json:"priority"`
	Justification   string     `json:"justification"`
	Notes           string     `json:"notes,omitempty"`
	CreatedBy       string     `json:"created_by"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Items           []Item     `json:"items"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Item is one requested line.
type Item struct {
	LineNo        int             `json:"line_no"`
	Description   string          `json:"description"`
	Specification string          `json:"specification,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	NeededBy      *time.Time      `json:"needed_by,omitempty"`
	CostCenter    string          `json:"cost_center,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// Clone returns a deep copy so callers cannot alias stored items.
func (r Requisition) Clone() Requisition {
	out := r
	out.Items = append([]Item(nil), r.Items...)
	if r.ContractID != nil {
		id := *r.ContractID
		out.ContractID = &id
	}
	return out
}

// ListFilters narrows List results.
type ListFilters struct {
	Status      Status
	RequesterID string
	Limit       int
	Offset      int
}

// FormatNumber renders the human readable sequential number.
func FormatNumber(id int64) string {
	return fmt.Sprintf("REQ-%05d", id)
}
