// Package realization measures contract spend against budget from the
// invoices an external collaborator validates.
package realization

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus as reported by the invoice collaborator.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoiceValidated InvoiceStatus = "validated"
	InvoiceRejected  InvoiceStatus = "rejected"
)

// Contract is the budget a set of invoices is measured against.
type Contract struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Client        string          `json:"client"`
	BudgetedValue decimal.Decimal `json:"budgeted_value"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       *time.Time      `json:"end_date,omitempty"`
	Status        string          `json:"status"`
	BudgetLines   []BudgetLine    `json:"budget_lines"`
}

// BudgetLine breaks the budget down for display.
type BudgetLine struct {
	LineNo      int             `json:"line_no"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoice (NF) billed against a contract.
type Invoice struct {
	ID         int64           `json:"id"`
	ContractID int64           `json:"contract_id"`
	Number     string          `json:"number"`
	Amount     decimal.Decimal `json:"amount"`
	IssueDate  time.Time       `json:"issue_date"`
	Supplier   string          `json:"supplier"`
	Status     InvoiceStatus   `json:"status"`
}

// Snapshot is derived on demand and never stored in the database.
// RealizedPercentage is null when the budget is zero.
type Snapshot struct {
	ContractID         int64               `json:"contract_id"`
	BudgetedValue      decimal.Decimal     `json:"budgeted_value"`
	RealizedValue      decimal.Decimal     `json:"realized_value"`
	PendingValue       decimal.Decimal     `json:"pending_value"`
	RemainingBalance   decimal.Decimal     `json:"remaining_balance"`
	RealizedPercentage decimal.NullDecimal `json:"realized_percentage"`
	ValidatedInvoices  int                 `json:"validated_invoices"`
	TotalInvoices      int                 `json:"total_invoices"`
	OverBudget         bool                `json:"over_budget"`
	ComputedAt         time.Time           `json:"computed_at"`
}

var hundred = decimal.NewFromInt(100)

// Compute sums validated invoices against the contract budget. Pending
// invoices are reported separately and rejected ones are ignored.
func Compute(contract Contract, invoices []Invoice, at time.Time) Snapshot {
	snap := Snapshot{
		ContractID:    contract.ID,
		BudgetedValue: contract.BudgetedValue,
		RealizedValue: decimal.Zero,
		PendingValue:  decimal.Zero,
		TotalInvoices: len(invoices),
		ComputedAt:    at,
	}
	for _, inv := range invoices {
		switch inv.Status {
		case InvoiceValidated:
			snap.RealizedValue = snap.RealizedValue.Add(inv.Amount)
			snap.ValidatedInvoices++
		case InvoicePending:
			snap.PendingValue = snap.PendingValue.Add(inv.Amount)
		}
	}
	snap.RemainingBalance = contract.BudgetedValue.Sub(snap.RealizedValue)
	snap.OverBudget = snap.RealizedValue.GreaterThan(contract.BudgetedValue)
	if !contract.BudgetedValue.IsZero() {
		pct := snap.RealizedValue.Mul(hundred).Div(contract.BudgetedValue).Round(2)
		snap.RealizedPercentage = decimal.NewNullDecimal(pct)
	}
	return snap
}
