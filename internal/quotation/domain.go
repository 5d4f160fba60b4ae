package quotation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status of a quotation.
type Status string

const (
	StatusAwaiting   Status = "awaiting"
	StatusInAnalysis Status = "in_analysis"
	StatusFinalized  Status = "finalized"
	StatusCancelled  Status = "cancelled"
)

// IsLive reports whether the quotation still accepts supplier responses.
func (s Status) IsLive() bool {
	return s == StatusAwaiting || s == StatusInAnalysis
}

// ResponseStatus of a supplier response.
type ResponseStatus string

const (
	ResponsePending   ResponseStatus = "pending"
	ResponseSubmitted ResponseStatus = "submitted"
	ResponseSelected  ResponseStatus = "selected"
	ResponseRejected  ResponseStatus = "rejected"
)

// CanRecord reports whether a quote may be (re)recorded on the response.
func (s ResponseStatus) CanRecord() bool {
	return s == ResponsePending || s == ResponseSubmitted
}

// Quotation is a request for quote sent to suppliers for one requisition.
// Items is a copy taken when the quotation was opened and never changes.
type Quotation struct {
	ID               int64              `json:"id"`
	Number           string             `json:"number"`
	RequisitionID    int64              `json:"requisition_id"`
	ContractID       *int64             `json:"contract_id,omitempty"`
	Items            []Item             `json:"items"`
	Status           Status             `json:"status"`
	OpenedAt         time.Time          `json:"opened_at"`
	ResponseDeadline *time.Time         `json:"response_deadline,omitempty"`
	FinalizedAt      *time.Time         `json:"finalized_at,omitempty"`
	Notes            string             `json:"notes,omitempty"`
	CreatedBy        string             `json:"created_by"`
	Responses        []SupplierResponse `json:"responses"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Item is a snapshot of a requisition line.
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

// Supplier identifies who quotes.
type Supplier struct {
	Name    string `json:"name" validate:"required"`
	TaxID   string `json:"tax_id"`
	Contact string `json:"contact"`
}

// SupplierResponse is one supplier's quote within a quotation.
type SupplierResponse struct {
	ID               int64          `json:"id"`
	QuotationID      int64          `json:"quotation_id"`
	Supplier         Supplier       `json:"supplier"`
	Responded        bool           `json:"responded"`
	DeliveryLeadDays *int           `json:"delivery_lead_days,omitempty"`
	PaymentTerms     string         `json:"payment_terms,omitempty"`
	ValidityDays     *int           `json:"validity_days,omitempty"`
	Status           ResponseStatus `json:"status"`
	Lines            []ResponseLine `json:"lines"`
	Notes            string         `json:"notes,omitempty"`
	RespondedAt      *time.Time     `json:"responded_at,omitempty"`
	SelectedBy       string         `json:"selected_by,omitempty"`
	SelectedAt       *time.Time     `json:"selected_at,omitempty"`
}

// ResponseLine prices one snapshot item.
type ResponseLine struct {
	LineNo    int             `json:"line_no"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Brand     string          `json:"brand,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// Total sums the line totals of the response.
func (r SupplierResponse) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Lines {
		total = total.Add(line.LineTotal)
	}
	return total
}

// LineTotal is quantity times unit price at currency precision.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(2)
}

// Response returns the response with id.
func (q Quotation) Response(id int64) (SupplierResponse, bool) {
	for _, r := range q.Responses {
		if r.ID == id {
			return r, true
		}
	}
	return SupplierResponse{}, false
}

// Clone returns a deep copy.
func (q Quotation) Clone() Quotation {
	out := q
	out.Items = append([]Item(nil), q.Items...)
	if q.ContractID != nil {
		id := *q.ContractID
		out.ContractID = &id
	}
	out.Responses = make([]SupplierResponse, len(q.Responses))
	for i, r := range q.Responses {
		out.Responses[i] = r.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (r SupplierResponse) Clone() SupplierResponse {
	out := r
	out.Lines = append([]ResponseLine(nil), r.Lines...)
	return out
}

// Selection is the outcome of finalizing a quotation.
type Selection struct {
	Quotation Quotation        `json:"quotation"`
	Winner    SupplierResponse `json:"winner"`
}

// ListFilters narrows List results.
type ListFilters struct {
	Status        Status
	RequisitionID int64
	Limit         int
	Offset        int
}

// FormatNumber renders the human readable sequential number.
func FormatNumber(id int64) string {
	return fmt.Sprintf("QT-%05d", id)
}
