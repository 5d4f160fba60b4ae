package purchaseorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sourcing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

func newTestService(t *testing.T, prefix string) (*Service, *MemoryRepository) {
	t.Helper()
	tx := db.NewMemoryTransactor()
	repo := NewMemoryRepository(tx)
	svc := NewService(repo, tx, shared.NewMemoryAuditLog(), nil, prefix)
	svc.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	return svc, repo
}

func adhocInput() CreateInput {
	return CreateInput{
		Description: "Office chairs",
		Supplier:    Supplier{Name: "Acme Furniture", TaxID: "01.234.567/0001-00"},
		TotalValue:  decimal.RequireFromString("1250.50"),
	}
}

func TestCreateNumbersPerYear(t *testing.T) {
	svc, _ := newTestService(t, "")
	ctx := context.Background()

	first, err := svc.Create(ctx, "buyer", adhocInput())
	require.NoError(t, err)
	second, err := svc.Create(ctx, "buyer", adhocInput())
	require.NoError(t, err)

	require.Equal(t, "PO-2025-00001", first.Number)
	require.Equal(t, "PO-2025-00002", second.Number)
	require.Equal(t, StatusPending, first.Status)
	require.Equal(t, "buyer", first.CreatedBy)
	require.True(t, first.TotalValue.Equal(decimal.RequireFromString("1250.50")))

	next := adhocInput()
	issued := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	next.IssueDate = &issued
	third, err := svc.Create(ctx, "buyer", next)
	require.NoError(t, err)
	require.Equal(t, "PO-2026-00001", third.Number)
}

func TestCreateUsesConfiguredPrefix(t *testing.T) {
	svc, _ := newTestService(t, " OC ")
	po, err := svc.Create(context.Background(), "buyer", adhocInput())
	require.NoError(t, err)
	require.Equal(t, "OC-2025-00001", po.Number)
}

func TestCreateRetriesTakenNumber(t *testing.T) {
	svc, repo := newTestService(t, "")
	ctx := context.Background()

	_, err := repo.Create(ctx, PurchaseOrder{Number: "PO-2025-00001", Status: StatusPending})
	require.NoError(t, err)

	po, err := svc.Create(ctx, "buyer", adhocInput())
	require.NoError(t, err)
	require.Equal(t, "PO-2025-00002", po.Number)

	items, total, err := svc.List(ctx, ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.NotEqual(t, items[0].Number, items[1].Number)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t, "")
	quotationID := int64(4)
	input := CreateInput{
		QuotationID: &quotationID,
		TotalValue:  decimal.NewFromInt(-1),
	}

	_, err := svc.Issue(context.Background(), "", input)
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	for _, field := range []string{"created_by", "response_id", "description", "supplier.name", "total_value"} {
		require.True(t, verr.Has(field), field)
	}
}

func TestCreateRejectsQuotationLink(t *testing.T) {
	svc, _ := newTestService(t, "")
	ctx := context.Background()
	quotationID, responseID := int64(7), int64(3)

	input := adhocInput()
	input.QuotationID = &quotationID
	input.ResponseID = &responseID
	_, err := svc.Create(ctx, "buyer", input)
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.True(t, verr.Has("quotation_id"))
	require.True(t, verr.Has("response_id"))

	input = adhocInput()
	input.ResponseID = &responseID
	_, err = svc.Create(ctx, "buyer", input)
	require.True(t, errors.As(err, &verr))
	require.True(t, verr.Has("response_id"))

	_, total, err := svc.List(ctx, ListFilters{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestIssueOneLiveOrderPerQuotation(t *testing.T) {
	svc, _ := newTestService(t, "")
	ctx := context.Background()
	quotationID, firstResponse, secondResponse := int64(7), int64(3), int64(4)

	input := adhocInput()
	input.QuotationID, input.ResponseID = &quotationID, &firstResponse
	first, err := svc.Issue(ctx, "buyer", input)
	require.NoError(t, err)

	input.ResponseID = &secondResponse
	_, err = svc.Issue(ctx, "buyer", input)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.Advance(ctx, first.ID, StatusCancelled, "buyer")
	require.NoError(t, err)
	_, err = svc.Issue(ctx, "buyer", input)
	require.NoError(t, err)
}

func TestCreateOnceReplaysKey(t *testing.T) {
	svc, repo := newTestService(t, "")
	svc.WithIdempotency(shared.NewMemoryIdempotency(repo.tx))
	ctx := context.Background()

	first, replayed, err := svc.CreateOnce(ctx, "retry-7", "buyer", adhocInput())
	require.NoError(t, err)
	require.False(t, replayed)

	again, replayed, err := svc.CreateOnce(ctx, "retry-7", "buyer", adhocInput())
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, first.Number, again.Number)

	other, replayed, err := svc.CreateOnce(ctx, "retry-8", "buyer", adhocInput())
	require.NoError(t, err)
	require.False(t, replayed)
	require.NotEqual(t, first.ID, other.ID)

	_, total, err := svc.List(ctx, ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestCreateOnceReleasesKeyOnFailure(t *testing.T) {
	svc, repo := newTestService(t, "")
	svc.WithIdempotency(shared.NewMemoryIdempotency(repo.tx))
	ctx := context.Background()

	bad := adhocInput()
	bad.Description = ""
	_, _, err := svc.CreateOnce(ctx, "retry-9", "buyer", bad)
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))

	po, replayed, err := svc.CreateOnce(ctx, "retry-9", "buyer", adhocInput())
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, "PO-2025-00001", po.Number)
}

func TestAdvanceFollowsLifecycle(t *testing.T) {
	svc, _ := newTestService(t, "")
	ctx := context.Background()
	po, err := svc.Create(ctx, "buyer", adhocInput())
	require.NoError(t, err)

	_, err = svc.Advance(ctx, po.ID, StatusSent, "buyer")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	for _, next := range []Status{StatusApproved, StatusSent, StatusReceived} {
		po, err = svc.Advance(ctx, po.ID, next, "buyer")
		require.NoError(t, err)
		require.Equal(t, next, po.Status)
	}

	_, err = svc.Advance(ctx, po.ID, StatusPending, "buyer")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = svc.Advance(ctx, po.ID, StatusCancelled, "buyer")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	stored, err := svc.Get(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, stored.Status)
	require.True(t, stored.TotalValue.Equal(decimal.RequireFromString("1250.50")))
}

func TestAdvanceCancel(t *testing.T) {
	svc, _ := newTestService(t, "")
	ctx := context.Background()
	po, err := svc.Create(ctx, "buyer", adhocInput())
	require.NoError(t, err)
	_, err = svc.Advance(ctx, po.ID, StatusApproved, "buyer")
	require.NoError(t, err)

	cancelled, err := svc.Advance(ctx, po.ID, StatusCancelled, "buyer")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Advance(ctx, po.ID, StatusCancelled, "buyer")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = svc.Advance(ctx, po.ID, StatusApproved, "buyer")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestAdvanceUnknownStatus(t *testing.T) {
	svc, _ := newTestService(t, "")
	_, err := svc.Advance(context.Background(), 1, Status("shipped"), "buyer")
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.True(t, verr.Has("status"))

	_, err = svc.Advance(context.Background(), 42, StatusApproved, "buyer")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFilters(t *testing.T) {
	svc, _ := newTestService(t, "")
	ctx := context.Background()
	contractID := int64(7)
	withContract := adhocInput()
	withContract.ContractID = &contractID

	_, err := svc.Create(ctx, "buyer", adhocInput())
	require.NoError(t, err)
	linked, err := svc.Create(ctx, "buyer", withContract)
	require.NoError(t, err)

	items, total, err := svc.List(ctx, ListFilters{ContractID: contractID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, linked.ID, items[0].ID)
}
