package realization

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sourcing/internal/shared"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func invoice(contractID int64, amount string, status InvoiceStatus) Invoice {
	return Invoice{ContractID: contractID, Amount: dec(amount), Status: status, IssueDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}
}

func TestComputeWithinBudget(t *testing.T) {
	contract := Contract{ID: 1, BudgetedValue: dec("100000")}
	snap := Compute(contract, []Invoice{
		invoice(1, "40000", InvoiceValidated),
		invoice(1, "35000", InvoiceValidated),
		invoice(1, "20000", InvoicePending),
	}, time.Now())

	require.True(t, snap.RealizedValue.Equal(dec("75000")))
	require.True(t, snap.RemainingBalance.Equal(dec("25000")))
	require.True(t, snap.PendingValue.Equal(dec("20000")))
	require.True(t, snap.RealizedPercentage.Valid)
	require.True(t, snap.RealizedPercentage.Decimal.Equal(dec("75.0")))
	require.Equal(t, 2, snap.ValidatedInvoices)
	require.Equal(t, 3, snap.TotalInvoices)
	require.False(t, snap.OverBudget)
}

func TestComputeOverBudget(t *testing.T) {
	contract := Contract{ID: 2, BudgetedValue: dec("50000")}
	snap := Compute(contract, []Invoice{
		invoice(2, "50000", InvoiceValidated),
		invoice(2, "12500", InvoiceValidated),
		invoice(2, "9000", InvoiceRejected),
	}, time.Now())

	require.True(t, snap.RemainingBalance.Equal(dec("-12500")))
	require.True(t, snap.RealizedPercentage.Decimal.Equal(dec("125.0")))
	require.True(t, snap.OverBudget)
}

func TestComputeEmptyAndZeroBudget(t *testing.T) {
	empty := Compute(Contract{ID: 3, BudgetedValue: dec("1000")}, nil, time.Now())
	require.True(t, empty.RealizedValue.IsZero())
	require.True(t, empty.RealizedPercentage.Valid)
	require.True(t, empty.RealizedPercentage.Decimal.IsZero())
	require.False(t, empty.OverBudget)

	zero := Compute(Contract{ID: 4}, []Invoice{invoice(4, "10", InvoiceValidated)}, time.Now())
	require.False(t, zero.RealizedPercentage.Valid)
	require.True(t, zero.RemainingBalance.Equal(dec("-10")))
	require.True(t, zero.OverBudget)

	idle := Compute(Contract{ID: 5}, nil, time.Now())
	require.False(t, idle.RealizedPercentage.Valid)
	require.False(t, idle.OverBudget)
}

func seeded(t *testing.T) (*MemorySource, Invoice) {
	t.Helper()
	src := NewMemorySource()
	src.PutContract(Contract{ID: 1, Name: "Tower block", BudgetedValue: dec("100000")})
	src.AddInvoice(invoice(1, "40000", InvoiceValidated))
	pending := src.AddInvoice(invoice(1, "35000", InvoicePending))
	return src, pending
}

func TestCalculatorWithoutCacheSeesChanges(t *testing.T) {
	src, pending := seeded(t)
	calc := NewCalculator(src, src, NewCache(nil, time.Minute), nil, nil)
	ctx := context.Background()

	snap, err := calc.Realization(ctx, 1)
	require.NoError(t, err)
	require.True(t, snap.RealizedValue.Equal(dec("40000")))

	require.NoError(t, src.SetInvoiceStatus(1, pending.ID, InvoiceValidated))
	snap, err = calc.Realization(ctx, 1)
	require.NoError(t, err)
	require.True(t, snap.RealizedValue.Equal(dec("75000")))

	over, err := calc.IsOverBudget(ctx, 1)
	require.NoError(t, err)
	require.False(t, over)

	_, err = calc.Realization(ctx, 9)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.NoError(t, calc.Invalidate(ctx, 1))
}

func newCachedCalculator(t *testing.T, src *MemorySource) (*Calculator, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCalculator(src, src, NewCache(client, time.Minute), nil, nil), client
}

func TestCalculatorCacheNeedsInvalidation(t *testing.T) {
	src, pending := seeded(t)
	calc, _ := newCachedCalculator(t, src)
	ctx := context.Background()

	first, err := calc.Realization(ctx, 1)
	require.NoError(t, err)
	require.True(t, first.RealizedValue.Equal(dec("40000")))

	require.NoError(t, src.SetInvoiceStatus(1, pending.ID, InvoiceValidated))
	cached, err := calc.Realization(ctx, 1)
	require.NoError(t, err)
	require.True(t, cached.RealizedValue.Equal(dec("40000")))
	require.True(t, cached.ComputedAt.Equal(first.ComputedAt))

	require.NoError(t, calc.Invalidate(ctx, 1))
	fresh, err := calc.Realization(ctx, 1)
	require.NoError(t, err)
	require.True(t, fresh.RealizedValue.Equal(dec("75000")))
	require.True(t, fresh.RealizedPercentage.Decimal.Equal(dec("75")))
}

func TestCacheListensForCollaboratorSignals(t *testing.T) {
	src, _ := seeded(t)
	calc, client := newCachedCalculator(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, calc.cache.ListenForInvalidation(ctx))
	require.NoError(t, client.Publish(ctx, InvalidationChannel, "1").Err())
	require.Eventually(t, func() bool {
		ver, err := calc.cache.Version(ctx, 1)
		return err == nil && ver == 1
	}, time.Second, 10*time.Millisecond)

	ver, err := calc.cache.Bump(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), ver)
	time.Sleep(50 * time.Millisecond)
	current, err := calc.cache.Version(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), current)
}

func TestParseSignal(t *testing.T) {
	id, versioned, err := parseSignal(" 42 ")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.False(t, versioned)

	id, versioned, err = parseSignal("7:3")
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.True(t, versioned)

	_, _, err = parseSignal("abc")
	require.Error(t, err)
}
