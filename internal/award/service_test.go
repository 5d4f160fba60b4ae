package award

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/purchaseorder"
	"github.com/odyssey-erp/odyssey-sourcing/internal/quotation"
	"github.com/odyssey-erp/odyssey-sourcing/internal/requisition"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

type fixture struct {
	tx           *db.MemoryTransactor
	requisitions *requisition.Service
	quotations   *quotation.Service
	orders       *purchaseorder.Service
	approvals    *shared.MemoryApprovals
	audit        *shared.MemoryAuditLog
	service      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tx := db.NewMemoryTransactor()
	approvals := shared.NewMemoryApprovals()
	audit := shared.NewMemoryAuditLog()
	reqs := requisition.NewService(requisition.NewMemoryRepository(tx), tx, approvals, audit, nil)
	quotes := quotation.NewService(quotation.NewMemoryRepository(tx), reqs, tx, audit, nil)
	orders := purchaseorder.NewService(purchaseorder.NewMemoryRepository(tx), tx, audit, nil, "")
	return &fixture{
		tx:           tx,
		requisitions: reqs,
		quotations:   quotes,
		orders:       orders,
		approvals:    approvals,
		audit:        audit,
		service:      NewService(tx, quotes, orders, reqs, approvals, audit, nil),
	}
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func quote(cement, rebar string) quotation.ResponsePayload {
	lead := 5
	return quotation.ResponsePayload{
		DeliveryLeadDays: &lead,
		PaymentTerms:     "30 days",
		Lines: []quotation.LinePayload{
			{UnitPrice: price(cement)},
			{UnitPrice: price(rebar)},
		},
	}
}

// analysed walks a requisition through approval and opens a quotation with
// two recorded quotes: 1000.00 from Alpha and 900.00 from Beta.
func (f *fixture) analysed(t *testing.T) (requisition.Requisition, quotation.Quotation, quotation.SupplierResponse, quotation.SupplierResponse) {
	t.Helper()
	ctx := context.Background()
	contractID := int64(12)
	req, err := f.requisitions.Create(ctx, "requester", requisition.Input{
		ContractID:    &contractID,
		Justification: "tower block phase 2",
		Items: []requisition.ItemInput{
			{Description: "Cement bag", Quantity: decimal.NewFromInt(10), Unit: "bag"},
			{Description: "Rebar", Quantity: decimal.NewFromInt(3), Unit: "bar"},
		},
	})
	require.NoError(t, err)
	_, err = f.requisitions.Submit(ctx, req.ID, "requester")
	require.NoError(t, err)
	_, err = f.requisitions.Approve(ctx, req.ID, "manager")
	require.NoError(t, err)

	q, err := f.quotations.Open(ctx, "buyer", quotation.OpenInput{RequisitionID: req.ID})
	require.NoError(t, err)
	req, err = f.requisitions.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, requisition.StatusInQuotation, req.Status)

	alpha, err := f.quotations.AddSupplierResponse(ctx, q.ID, "buyer", quotation.Supplier{Name: "Alpha Supply"})
	require.NoError(t, err)
	beta, err := f.quotations.AddSupplierResponse(ctx, q.ID, "buyer", quotation.Supplier{Name: "Beta Trading", TaxID: "99.888.777/0001-66"})
	require.NoError(t, err)
	alpha, err = f.quotations.RecordResponse(ctx, q.ID, alpha.ID, "buyer", quote("70", "100"))
	require.NoError(t, err)
	beta, err = f.quotations.RecordResponse(ctx, q.ID, beta.ID, "buyer", quote("60", "100"))
	require.NoError(t, err)
	require.True(t, alpha.Total().Equal(decimal.NewFromInt(1000)))
	require.True(t, beta.Total().Equal(decimal.NewFromInt(900)))

	q, err = f.quotations.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotation.StatusInAnalysis, q.Status)
	return req, q, alpha, beta
}

func TestSelectResponseEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, q, alpha, beta := f.analysed(t)

	best, ok, err := f.quotations.BestResponse(ctx, q.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, beta.ID, best.ID)

	res, err := f.service.SelectResponse(ctx, q.ID, beta.ID, "reviewer")
	require.NoError(t, err)
	require.Equal(t, quotation.StatusFinalized, res.Quotation.Status)
	require.Equal(t, quotation.ResponseSelected, res.Winner.Status)
	require.Equal(t, "reviewer", res.Winner.SelectedBy)
	require.Equal(t, requisition.StatusQuoted, res.Requisition.Status)

	po := res.Order
	require.Equal(t, purchaseorder.StatusPending, po.Status)
	require.True(t, po.TotalValue.Equal(decimal.NewFromInt(900)))
	require.Equal(t, "Beta Trading", po.Supplier.Name)
	require.Equal(t, "99.888.777/0001-66", po.Supplier.TaxID)
	require.NotNil(t, po.ContractID)
	require.Equal(t, int64(12), *po.ContractID)
	require.Equal(t, q.ID, *po.QuotationID)
	require.Equal(t, beta.ID, *po.ResponseID)

	stored, err := f.quotations.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotation.StatusFinalized, stored.Status)
	require.NotNil(t, stored.FinalizedAt)
	loser, _ := stored.Response(alpha.ID)
	require.Equal(t, quotation.ResponseRejected, loser.Status)

	closed, err := f.requisitions.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, requisition.StatusQuoted, closed.Status)

	orders, total, err := f.orders.List(ctx, purchaseorder.ListFilters{QuotationID: q.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, po.ID, orders[0].ID)

	logs, err := f.approvals.List(ctx, approvalModule, shared.ApprovalRef(approvalModule, q.ID))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, shared.ApprovalAward, logs[0].Action)
}

func TestAdhocOrderCannotClaimQuotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, q, alpha, beta := f.analysed(t)

	qid, rid := q.ID, alpha.ID
	_, err := f.orders.Create(ctx, "clerk", purchaseorder.CreateInput{
		QuotationID: &qid,
		ResponseID:  &rid,
		Description: "Cement for tower block",
		Supplier:    purchaseorder.Supplier{Name: "Alpha Supply"},
		TotalValue:  decimal.NewFromInt(1000),
	})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))

	missing := int64(9999)
	_, err = f.orders.Create(ctx, "clerk", purchaseorder.CreateInput{
		QuotationID: &missing,
		ResponseID:  &rid,
		Description: "Cement for tower block",
		Supplier:    purchaseorder.Supplier{Name: "Alpha Supply"},
		TotalValue:  decimal.NewFromInt(1000),
	})
	require.True(t, errors.As(err, &verr))

	stored, err := f.quotations.Get(ctx, q.ID)
	require.NoError(t, err)
	pending, _ := stored.Response(alpha.ID)
	require.Equal(t, quotation.ResponseSubmitted, pending.Status)

	res, err := f.service.SelectResponse(ctx, q.ID, beta.ID, "reviewer")
	require.NoError(t, err)
	orders, total, err := f.orders.List(ctx, purchaseorder.ListFilters{QuotationID: q.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, res.Order.ID, orders[0].ID)
	require.Equal(t, beta.ID, *orders[0].ResponseID)
}

func TestSelectResponseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, q, alpha, beta := f.analysed(t)

	first, err := f.service.SelectResponse(ctx, q.ID, beta.ID, "reviewer")
	require.NoError(t, err)

	for _, responseID := range []int64{beta.ID, alpha.ID} {
		_, err = f.service.SelectResponse(ctx, q.ID, responseID, "reviewer")
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	}

	stored, err := f.quotations.Get(ctx, q.ID)
	require.NoError(t, err)
	winner, _ := stored.Response(beta.ID)
	require.Equal(t, quotation.ResponseSelected, winner.Status)
	require.Equal(t, first.Winner.SelectedAt, winner.SelectedAt)
	loser, _ := stored.Response(alpha.ID)
	require.Equal(t, quotation.ResponseRejected, loser.Status)

	_, total, err := f.orders.List(ctx, purchaseorder.ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestConcurrentSelectHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, q, alpha, beta := f.analysed(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		responseID := alpha.ID
		if i%2 == 0 {
			responseID = beta.ID
		}
		wg.Add(1)
		go func(responseID int64) {
			defer wg.Done()
			_, err := f.service.SelectResponse(ctx, q.ID, responseID, "reviewer")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, shared.ErrInvalidTransition):
				conflicts++
			}
		}(responseID)
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, 7, conflicts)

	stored, err := f.quotations.Get(ctx, q.ID)
	require.NoError(t, err)
	selected := 0
	for _, r := range stored.Responses {
		if r.Status == quotation.ResponseSelected {
			selected++
		}
	}
	require.Equal(t, 1, selected)
	_, total, err := f.orders.List(ctx, purchaseorder.ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

type failingOrders struct {
	*purchaseorder.Service
}

func (failingOrders) Issue(context.Context, string, purchaseorder.CreateInput) (purchaseorder.PurchaseOrder, error) {
	return purchaseorder.PurchaseOrder{}, errors.New("ledger unavailable")
}

func TestSelectResponseRollsBackWhenOrderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, q, alpha, beta := f.analysed(t)
	svc := NewService(f.tx, f.quotations, failingOrders{f.orders}, f.requisitions, f.approvals, f.audit, nil)

	_, err := svc.SelectResponse(ctx, q.ID, beta.ID, "reviewer")
	require.ErrorContains(t, err, "ledger unavailable")

	stored, err := f.quotations.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotation.StatusInAnalysis, stored.Status)
	require.Nil(t, stored.FinalizedAt)
	for _, id := range []int64{alpha.ID, beta.ID} {
		r, ok := stored.Response(id)
		require.True(t, ok)
		require.Equal(t, quotation.ResponseSubmitted, r.Status)
		require.Empty(t, r.SelectedBy)
	}

	current, err := f.requisitions.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, requisition.StatusInQuotation, current.Status)

	logs, err := f.approvals.List(ctx, approvalModule, shared.ApprovalRef(approvalModule, q.ID))
	require.NoError(t, err)
	require.Empty(t, logs)

	res, err := f.service.SelectResponse(ctx, q.ID, beta.ID, "reviewer")
	require.NoError(t, err)
	require.True(t, res.Order.TotalValue.Equal(decimal.NewFromInt(900)))
}

type failingRequisitions struct{}

func (failingRequisitions) MarkQuoted(context.Context, int64) (requisition.Requisition, error) {
	return requisition.Requisition{}, errors.New("requisition store down")
}

func TestSelectResponseRollsBackOrderWhenRequisitionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, q, _, beta := f.analysed(t)
	svc := NewService(f.tx, f.quotations, f.orders, failingRequisitions{}, nil, nil, nil)

	_, err := svc.SelectResponse(ctx, q.ID, beta.ID, "reviewer")
	require.Error(t, err)

	_, total, err := f.orders.List(ctx, purchaseorder.ListFilters{})
	require.NoError(t, err)
	require.Zero(t, total)
	stored, err := f.quotations.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotation.StatusInAnalysis, stored.Status)
}

func TestSelectResponseRequiresSubmittedResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, q, _, _ := f.analysed(t)

	silent, err := f.quotations.AddSupplierResponse(ctx, q.ID, "buyer", quotation.Supplier{Name: "Gamma Ltd"})
	require.NoError(t, err)
	_, err = f.service.SelectResponse(ctx, q.ID, silent.ID, "reviewer")
	require.ErrorIs(t, err, shared.ErrNotEligible)

	_, err = f.service.SelectResponse(ctx, q.ID, 999, "reviewer")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.service.SelectResponse(ctx, 999, silent.ID, "reviewer")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
