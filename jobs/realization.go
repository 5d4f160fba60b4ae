package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/odyssey-sourcing/internal/jobs"
	"github.com/odyssey-erp/odyssey-sourcing/internal/realization"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const defaultScanConcurrency = 4

// Realizations is the part of the calculator the jobs drive.
type Realizations interface {
	Realization(ctx context.Context, contractID int64) (realization.Snapshot, error)
	Invalidate(ctx context.Context, contractID int64) error
	ActiveContracts(ctx context.Context) ([]int64, error)
}

// InvalidateJob applies invoice change signals queued by the collaborator.
type InvalidateJob struct {
	Realizations Realizations
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
}

// NewInvalidateJob wires dependencies for the invalidate handler.
func NewInvalidateJob(realizations Realizations, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvalidateJob {
	return &InvalidateJob{Realizations: realizations, Logger: logger, Metrics: metrics}
}

// Handle processes TaskRealizationInvalidate tasks.
func (j *InvalidateJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Realizations == nil {
		return errors.New("realization invalidate: handler not configured")
	}
	var payload InvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ContractID <= 0 {
		return asynq.SkipRetry
	}
	tracker := pick(j.Metrics).Track(TaskRealizationInvalidate)
	defer func() { resultErr = tracker.End(resultErr) }()

	if err := j.Realizations.Invalidate(ctx, payload.ContractID); err != nil {
		jobLogger(j.Logger, TaskRealizationInvalidate).Error("invalidate realization",
			slog.Int64("contract_id", payload.ContractID), slog.Any("error", err))
		return err
	}
	return nil
}

// OverBudgetScanJob recomputes active contracts and reports those whose
// validated spend exceeds the budget.
type OverBudgetScanJob struct {
	Realizations Realizations
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

// NewOverBudgetScanJob wires dependencies for the scan handler.
func NewOverBudgetScanJob(realizations Realizations, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverBudgetScanJob {
	return &OverBudgetScanJob{
		Realizations: realizations,
		Logger:       logger,
		Metrics:      metrics,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes TaskRealizationOverBudgetScan tasks.
func (j *OverBudgetScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Realizations == nil {
		return errors.New("overbudget scan: handler not configured")
	}
	var payload OverBudgetScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := pick(j.Metrics).Track(TaskRealizationOverBudgetScan)
	defer func() { resultErr = tracker.End(resultErr) }()

	start := j.clock()
	over, err := j.Scan(ctx, payload.Concurrency)
	if err != nil {
		jobLogger(j.Logger, TaskRealizationOverBudgetScan).Error("scan contracts", slog.Any("error", err))
		return err
	}
	pick(j.Metrics).SetOverBudget(len(over))
	jobLogger(j.Logger, TaskRealizationOverBudgetScan).Info("completed over budget scan",
		slog.Int("over_budget", len(over)), slog.Duration("duration", j.clock().Sub(start)))
	return nil
}

// Scan returns the snapshots of active contracts that are over budget,
// ordered by contract id.
func (j *OverBudgetScanJob) Scan(ctx context.Context, concurrency int) ([]realization.Snapshot, error) {
	ids, err := j.Realizations.ActiveContracts(ctx)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = defaultScanConcurrency
	}
	var (
		mu   sync.Mutex
		over []realization.Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			snap, err := j.Realizations.Realization(gctx, id)
			if err != nil {
				return err
			}
			if snap.OverBudget {
				jobLogger(j.Logger, TaskRealizationOverBudgetScan).Warn("contract over budget",
					slog.Int64("contract_id", id),
					slog.String("budgeted", snap.BudgetedValue.StringFixed(2)),
					slog.String("realized", snap.RealizedValue.StringFixed(2)))
				mu.Lock()
				over = append(over, snap)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(over, func(a, b int) bool { return over[a].ContractID < over[b].ContractID })
	return over, nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func pick(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}
