package quotation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

// ResponsePayload is a supplier's full quote.
type ResponsePayload struct {
	DeliveryLeadDays *int          `json:"delivery_lead_days"`
	PaymentTerms     string        `json:"payment_terms"`
	ValidityDays     *int          `json:"validity_days"`
	Notes            string        `json:"notes"`
	Lines            []LinePayload `json:"lines"`
}

// LinePayload prices one snapshot item, in snapshot order. LineNo and
// LineTotal are optional; when present they must agree with the snapshot.
type LinePayload struct {
	LineNo    int              `json:"line_no"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	LineTotal *decimal.Decimal `json:"line_total"`
	Brand     string           `json:"brand"`
	Notes     string           `json:"notes"`
}

// buildLines validates payload against the snapshot and returns priced lines.
// Every violation is collected before returning.
func buildLines(items []Item, payload ResponsePayload) ([]ResponseLine, error) {
	var v shared.Violations
	if payload.DeliveryLeadDays == nil {
		v.Add("delivery_lead_days", "is required")
	} else if *payload.DeliveryLeadDays < 0 {
		v.Add("delivery_lead_days", "must not be negative")
	}
	if strings.TrimSpace(payload.PaymentTerms) == "" {
		v.Add("payment_terms", "is required")
	}
	if payload.ValidityDays != nil && *payload.ValidityDays <= 0 {
		v.Add("validity_days", "must be greater than 0")
	}
	for i := len(items); i < len(payload.Lines); i++ {
		v.Add(fmt.Sprintf("lines[%d]", i), "does not match a quotation item")
	}

	lines := make([]ResponseLine, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("lines[%d]", i)
		if i >= len(payload.Lines) {
			v.Add(path+".unit_price", "is required for item %d", item.LineNo)
			continue
		}
		in := payload.Lines[i]
		if in.LineNo != 0 && in.LineNo != item.LineNo {
			v.Add(path+".line_no", "must be %d", item.LineNo)
		}
		if in.UnitPrice == nil {
			v.Add(path+".unit_price", "is required for item %d", item.LineNo)
			continue
		}
		if in.UnitPrice.IsNegative() {
			v.Add(path+".unit_price", "must not be negative")
			continue
		}
		if shared.ExceedsScale(*in.UnitPrice, shared.MeasureScale) {
			v.Add(path+".unit_price", "must have at most %d decimal places", shared.MeasureScale)
			continue
		}
		total := LineTotal(item.Quantity, *in.UnitPrice)
		if in.LineTotal != nil && !in.LineTotal.Round(2).Equal(total) {
			v.Add(path+".line_total", "must equal quantity x unit price (%s)", total.StringFixed(2))
		}
		lines = append(lines, ResponseLine{
			LineNo:    item.LineNo,
			Quantity:  item.Quantity,
			UnitPrice: *in.UnitPrice,
			LineTotal: total,
			Brand:     in.Brand,
			Notes:     in.Notes,
		})
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
