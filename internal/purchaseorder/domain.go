package purchaseorder

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status of a purchase order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusSent      Status = "sent"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

var forward = map[Status]Status{
	StatusPending:  StatusApproved,
	StatusApproved: StatusSent,
	StatusSent:     StatusReceived,
}

// CanAdvanceTo reports whether next is a legal edge from s.
func (s Status) CanAdvanceTo(next Status) bool {
	if next == StatusCancelled {
		return s != StatusReceived && s != StatusCancelled
	}
	return forward[s] == next
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusSent, StatusReceived, StatusCancelled:
		return true
	}
	return false
}

// Supplier identifies the vendor of an order.
type Supplier struct {
	Name    string `json:"name" validate:"required"`
	TaxID   string `json:"tax_id"`
	Contact string `json:"contact"`
}

// PurchaseOrder is an order issued to a supplier. Value, supplier and
// contract reference never change after creation.
type PurchaseOrder struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	QuotationID *int64          `json:"quotation_id,omitempty"`
	ResponseID  *int64          `json:"response_id,omitempty"`
	Description string          `json:"description"`
	Supplier    Supplier        `json:"supplier"`
	ContractID  *int64          `json:"contract_id,omitempty"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Status      Status          `json:"status"`
	IssueDate   time.Time       `json:"issue_date"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ListFilters narrows List results.
type ListFilters struct {
	Status      Status
	ContractID  int64
	QuotationID int64
	Limit       int
	Offset      int
}

// ErrDuplicateNumber signals an order number already present in the ledger.
var ErrDuplicateNumber = errors.New("purchaseorder: duplicate order number")

// FormatNumber renders PREFIX-YEAR-SEQ.
func FormatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}
