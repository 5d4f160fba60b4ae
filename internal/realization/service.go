package realization

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-sourcing/internal/observability"
)

// Calculator derives realization snapshots. Without a cache every call reads
// the collaborator; with one, entries are only reused until Invalidate.
type Calculator struct {
	contracts ContractSource
	invoices  InvoiceSource
	cache     *Cache
	metrics   *observability.Sourcing
	logger    *slog.Logger
	group     singleflight.Group
	now       func() time.Time
}

// NewCalculator wires the collaborator ports with an optional cache.
func NewCalculator(contracts ContractSource, invoices InvoiceSource, cache *Cache, metrics *observability.Sourcing, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		contracts: contracts,
		invoices:  invoices,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Realization returns the spend snapshot of contractID.
func (c *Calculator) Realization(ctx context.Context, contractID int64) (Snapshot, error) {
	if c.cache == nil {
		return c.compute(ctx, contractID)
	}
	// The version is read before the sources so a bump racing this call
	// leaves the result under a version nobody reads again.
	version, err := c.cache.Version(ctx, contractID)
	if err != nil {
		c.logger.Warn("realization cache version", slog.Int64("contract_id", contractID), slog.Any("error", err))
		return c.compute(ctx, contractID)
	}
	snap, ok, err := c.cache.Get(ctx, contractID, version)
	if err != nil {
		c.logger.Warn("realization cache read", slog.Int64("contract_id", contractID), slog.Any("error", err))
	}
	c.metrics.CacheLookup(ok)
	if ok {
		return snap, nil
	}

	ch := c.group.DoChan(fmt.Sprintf("%d:%d", contractID, version), func() (any, error) {
		fillCtx := context.WithoutCancel(ctx)
		fresh, err := c.compute(fillCtx, contractID)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(fillCtx, version, fresh); err != nil {
			c.logger.Warn("realization cache write", slog.Int64("contract_id", contractID), slog.Any("error", err))
		}
		return fresh, nil
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

// IsOverBudget reports whether validated spend exceeds the budget.
func (c *Calculator) IsOverBudget(ctx context.Context, contractID int64) (bool, error) {
	snap, err := c.Realization(ctx, contractID)
	if err != nil {
		return false, err
	}
	return snap.OverBudget, nil
}

// Invalidate drops cached snapshots of contractID after its invoices changed.
func (c *Calculator) Invalidate(ctx context.Context, contractID int64) error {
	if c.cache == nil {
		return nil
	}
	if _, err := c.cache.Bump(ctx, contractID); err != nil {
		return fmt.Errorf("realization: invalidate contract %d: %w", contractID, err)
	}
	return nil
}

// ActiveContracts lists contracts worth scanning.
func (c *Calculator) ActiveContracts(ctx context.Context) ([]int64, error) {
	return c.contracts.ActiveContracts(ctx)
}

func (c *Calculator) compute(ctx context.Context, contractID int64) (Snapshot, error) {
	contract, err := c.contracts.Contract(ctx, contractID)
	if err != nil {
		return Snapshot{}, err
	}
	invoices, err := c.invoices.InvoicesForContract(ctx, contractID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("realization: invoices of contract %d: %w", contractID, err)
	}
	return Compute(contract, invoices, c.now()), nil
}
