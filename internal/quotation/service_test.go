package quotation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/requisition"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

type fixture struct {
	tx           *db.MemoryTransactor
	requisitions *requisition.Service
	service      *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tx := db.NewMemoryTransactor()
	reqs := requisition.NewService(requisition.NewMemoryRepository(tx), tx, nil, nil, nil)
	return fixture{
		tx:           tx,
		requisitions: reqs,
		service:      NewService(NewMemoryRepository(tx), reqs, tx, shared.NewMemoryAuditLog(), nil),
	}
}

func (f fixture) approvedRequisition(t *testing.T) requisition.Requisition {
	t.Helper()
	ctx := context.Background()
	req, err := f.requisitions.Create(ctx, "buyer", requisition.Input{
		Justification: "site restock",
		Items: []requisition.ItemInput{
			{Description: "Cement bag", Quantity: decimal.NewFromInt(10), Unit: "bag"},
			{Description: "Rebar", Quantity: decimal.NewFromInt(3), Unit: "bar"},
		},
	})
	require.NoError(t, err)
	_, err = f.requisitions.Submit(ctx, req.ID, "buyer")
	require.NoError(t, err)
	req, err = f.requisitions.Approve(ctx, req.ID, "manager")
	require.NoError(t, err)
	return req
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func days(n int) *int { return &n }

func fullQuote(unitPrices ...string) ResponsePayload {
	payload := ResponsePayload{DeliveryLeadDays: days(7), PaymentTerms: "30 days"}
	for _, p := range unitPrices {
		payload.Lines = append(payload.Lines, LinePayload{UnitPrice: price(p)})
	}
	return payload
}

func TestOpenRequiresApprovedRequisition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.requisitions.Create(ctx, "buyer", requisition.Input{})
	require.NoError(t, err)
	_, err = f.service.Open(ctx, "buyer", OpenInput{RequisitionID: draft.ID})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	req := f.approvedRequisition(t)
	q, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: req.ID})
	require.NoError(t, err)
	require.Equal(t, StatusAwaiting, q.Status)
	require.Equal(t, "QT-00001", q.Number)
	require.Len(t, q.Items, 2)

	stored, err := f.requisitions.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, requisition.StatusInQuotation, stored.Status)

	_, err = f.service.Open(ctx, "buyer", OpenInput{RequisitionID: req.ID})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.service.Open(ctx, "", OpenInput{})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.True(t, verr.Has("created_by"))
	require.True(t, verr.Has("requisition_id"))
}

type aliasingRequisitions struct {
	req requisition.Requisition
}

func (a *aliasingRequisitions) MarkInQuotation(context.Context, int64) (requisition.Requisition, error) {
	return a.req, nil
}

func (a *aliasingRequisitions) ReleaseFromQuotation(context.Context, int64) (requisition.Requisition, error) {
	return a.req, nil
}

func TestSnapshotIgnoresLaterRequisitionEdits(t *testing.T) {
	tx := db.NewMemoryTransactor()
	source := &aliasingRequisitions{req: requisition.Requisition{ID: 7, Status: requisition.StatusInQuotation, Items: []requisition.Item{
		{LineNo: 1, Description: "Paint", Quantity: decimal.NewFromInt(5), Unit: "l"},
	}}}
	svc := NewService(NewMemoryRepository(tx), source, tx, nil, nil)
	ctx := context.Background()

	q, err := svc.Open(ctx, "buyer", OpenInput{RequisitionID: 7})
	require.NoError(t, err)

	source.req.Items[0].Description = "Varnish"
	source.req.Items[0].Quantity = decimal.NewFromInt(50)
	source.req.Items = append(source.req.Items, requisition.Item{LineNo: 2, Description: "Brush", Quantity: decimal.NewFromInt(1)})

	stored, err := svc.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	require.Equal(t, "Paint", stored.Items[0].Description)
	require.True(t, stored.Items[0].Quantity.Equal(decimal.NewFromInt(5)))
}

func TestConcurrentOpenHasOneWinner(t *testing.T) {
	f := newFixture(t)
	req := f.approvedRequisition(t)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		starts = make(chan struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-starts
			_, err := f.service.Open(context.Background(), "buyer", OpenInput{RequisitionID: req.ID})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	close(starts)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	}
	require.Equal(t, 1, wins)

	_, total, err := f.service.List(context.Background(), ListFilters{RequisitionID: req.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestRecordResponseReportsEveryViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: f.approvedRequisition(t).ID})
	require.NoError(t, err)
	resp, err := f.service.AddSupplierResponse(ctx, q.ID, "buyer", Supplier{Name: "Acme"})
	require.NoError(t, err)
	require.False(t, resp.Responded)
	require.Equal(t, ResponsePending, resp.Status)

	_, err = f.service.RecordResponse(ctx, q.ID, resp.ID, "buyer", ResponsePayload{
		Lines: []LinePayload{{UnitPrice: price("12.50"), LineTotal: price("100.00")}, {}},
	})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.True(t, verr.Has("delivery_lead_days"))
	require.True(t, verr.Has("payment_terms"))
	require.True(t, verr.Has("lines[0].line_total"))
	require.True(t, verr.Has("lines[1].unit_price"))
	require.False(t, verr.Has("lines[0].unit_price"))

	stored, err := f.service.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAwaiting, stored.Status)
	require.False(t, stored.Responses[0].Responded)
}

func TestRecordResponseNamesLineMissingPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: f.approvedRequisition(t).ID})
	require.NoError(t, err)
	resp, err := f.service.AddSupplierResponse(ctx, q.ID, "buyer", Supplier{Name: "Acme"})
	require.NoError(t, err)

	_, err = f.service.RecordResponse(ctx, q.ID, resp.ID, "buyer", fullQuote("10"))
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	require.Equal(t, "lines[1].unit_price", verr.Fields[0].Field)
}

func TestRecordResponseComputesLineTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: f.approvedRequisition(t).ID})
	require.NoError(t, err)
	resp, err := f.service.AddSupplierResponse(ctx, q.ID, "buyer", Supplier{Name: "Acme", TaxID: "12.345.678/0001-90"})
	require.NoError(t, err)

	payload := fullQuote("12.345", "0.333")
	payload.Lines[1].LineTotal = price("1.00")
	recorded, err := f.service.RecordResponse(ctx, q.ID, resp.ID, "buyer", payload)
	require.NoError(t, err)
	require.True(t, recorded.Responded)
	require.Equal(t, ResponseSubmitted, recorded.Status)

	stored, err := f.service.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInAnalysis, stored.Status)
	for i, line := range stored.Responses[0].Lines {
		require.True(t, line.LineTotal.Equal(line.Quantity.Mul(line.UnitPrice).Round(2)), "line %d", i)
	}
	require.Equal(t, "123.45", stored.Responses[0].Lines[0].LineTotal.StringFixed(2))
	require.Equal(t, "1.00", stored.Responses[0].Lines[1].LineTotal.StringFixed(2))
	require.Equal(t, "124.45", stored.Responses[0].Total().StringFixed(2))

	rerecorded, err := f.service.RecordResponse(ctx, q.ID, resp.ID, "buyer", fullQuote("10", "1"))
	require.NoError(t, err)
	require.Equal(t, "103.00", rerecorded.Total().StringFixed(2))
}

func TestRecordResponseKeepsStoredPriceScale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: f.approvedRequisition(t).ID})
	require.NoError(t, err)
	resp, err := f.service.AddSupplierResponse(ctx, q.ID, "buyer", Supplier{Name: "Acme"})
	require.NoError(t, err)

	_, err = f.service.RecordResponse(ctx, q.ID, resp.ID, "buyer", fullQuote("0.00005", "1.50"))
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	require.Equal(t, "lines[0].unit_price", verr.Fields[0].Field)

	_, err = f.service.RecordResponse(ctx, q.ID, resp.ID, "buyer", fullQuote("0.1235", "1.50000"))
	require.NoError(t, err)
	stored, err := f.service.Get(ctx, q.ID)
	require.NoError(t, err)
	for i, line := range stored.Responses[0].Lines {
		unit := line.UnitPrice.Round(shared.MeasureScale)
		require.True(t, unit.Equal(line.UnitPrice), "line %d", i)
		require.True(t, line.LineTotal.Equal(line.Quantity.Mul(unit).Round(2)), "line %d", i)
	}
}

func TestAddSupplierResponseOnceReplaysKey(t *testing.T) {
	f := newFixture(t)
	f.service.WithIdempotency(shared.NewMemoryIdempotency(f.tx))
	ctx := context.Background()
	first, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: f.approvedRequisition(t).ID})
	require.NoError(t, err)
	second, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: f.approvedRequisition(t).ID})
	require.NoError(t, err)

	added, replayed, err := f.service.AddSupplierResponseOnce(ctx, first.ID, "retry-1", "buyer", Supplier{Name: "Acme"})
	require.NoError(t, err)
	require.False(t, replayed)
	again, replayed, err := f.service.AddSupplierResponseOnce(ctx, first.ID, "retry-1", "buyer", Supplier{Name: "Acme"})
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, added.ID, again.ID)

	_, replayed, err = f.service.AddSupplierResponseOnce(ctx, second.ID, "retry-1", "buyer", Supplier{Name: "Acme"})
	require.NoError(t, err)
	require.False(t, replayed)

	stored, err := f.service.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, stored.Responses, 1)

	_, _, err = f.service.AddSupplierResponseOnce(ctx, 999, "retry-2", "buyer", Supplier{Name: "Acme"})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, _, err = f.service.AddSupplierResponseOnce(ctx, first.ID, "retry-2", "buyer", Supplier{Name: "Beta"})
	require.NoError(t, err)
}

func TestBestResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: f.approvedRequisition(t).ID})
	require.NoError(t, err)

	_, ok, err := f.service.BestResponse(ctx, q.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ids := make([]int64, 0, 4)
	for _, name := range []string{"A", "B", "C", "D"} {
		resp, err := f.service.AddSupplierResponse(ctx, q.ID, "buyer", Supplier{Name: name})
		require.NoError(t, err)
		ids = append(ids, resp.ID)
	}
	_, err = f.service.RecordResponse(ctx, q.ID, ids[0], "buyer", fullQuote("10", "10"))
	require.NoError(t, err)
	_, err = f.service.RecordResponse(ctx, q.ID, ids[1], "buyer", fullQuote("9", "10"))
	require.NoError(t, err)
	_, err = f.service.RecordResponse(ctx, q.ID, ids[2], "buyer", fullQuote("9", "10"))
	require.NoError(t, err)

	best, ok, err := f.service.BestResponse(ctx, q.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ids[1], best.ID)
	require.Equal(t, "120.00", best.Total().StringFixed(2))
}

func TestCancelReleasesRequisition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.approvedRequisition(t)
	q, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: req.ID})
	require.NoError(t, err)

	cancelled, err := f.service.Cancel(ctx, q.ID, "buyer")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	stored, err := f.requisitions.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, requisition.StatusApproved, stored.Status)

	_, err = f.service.Cancel(ctx, q.ID, "buyer")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.service.AddSupplierResponse(ctx, q.ID, "buyer", Supplier{Name: "Late"})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	reopened, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: req.ID})
	require.NoError(t, err)
	require.NotEqual(t, q.ID, reopened.ID)
}

func TestFinalizeSelectsOneAndRejectsSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.service.Open(ctx, "buyer", OpenInput{RequisitionID: f.approvedRequisition(t).ID})
	require.NoError(t, err)

	var ids []int64
	for _, name := range []string{"A", "B", "C"} {
		resp, err := f.service.AddSupplierResponse(ctx, q.ID, "buyer", Supplier{Name: name})
		require.NoError(t, err)
		ids = append(ids, resp.ID)
	}
	_, err = f.service.RecordResponse(ctx, q.ID, ids[0], "buyer", fullQuote("10", "10"))
	require.NoError(t, err)
	_, err = f.service.RecordResponse(ctx, q.ID, ids[1], "buyer", fullQuote("8", "10"))
	require.NoError(t, err)

	_, err = f.service.Finalize(ctx, q.ID, ids[2], "reviewer")
	require.ErrorIs(t, err, shared.ErrNotEligible)
	_, err = f.service.Finalize(ctx, q.ID, ids[1], "")
	require.True(t, shared.IsValidation(err))

	sel, err := f.service.Finalize(ctx, q.ID, ids[1], "reviewer")
	require.NoError(t, err)
	require.Equal(t, StatusFinalized, sel.Quotation.Status)
	require.NotNil(t, sel.Quotation.FinalizedAt)
	require.Equal(t, ResponseSelected, sel.Winner.Status)
	require.Equal(t, "reviewer", sel.Winner.SelectedBy)

	stored, err := f.service.Get(ctx, q.ID)
	require.NoError(t, err)
	selected := 0
	for _, r := range stored.Responses {
		if r.Status == ResponseSelected {
			selected++
		}
	}
	require.Equal(t, 1, selected)
	require.Equal(t, ResponseRejected, stored.Responses[0].Status)
	require.Equal(t, ResponsePending, stored.Responses[2].Status)

	_, err = f.service.Finalize(ctx, q.ID, ids[0], "reviewer")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.service.RecordResponse(ctx, q.ID, ids[2], "buyer", fullQuote("1", "1"))
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}
