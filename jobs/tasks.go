package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRealizationInvalidate drops cached realization snapshots of one contract.
	TaskRealizationInvalidate = "realization:invalidate"
	// TaskRealizationOverBudgetScan recomputes every active contract and
	// reports those over budget.
	TaskRealizationOverBudgetScan = "realization:overbudget_scan"
	// TaskIdempotencyCleanup prunes expired retry keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// InvalidatePayload names the contract whose invoices changed.
type InvalidatePayload struct {
	ContractID int64 `json:"contract_id"`
}

// NewInvalidateTask constructs a realization invalidation task.
func NewInvalidateTask(contractID int64) (*asynq.Task, error) {
	if contractID <= 0 {
		return nil, fmt.Errorf("jobs: invalid contract id %d", contractID)
	}
	data, err := json.Marshal(InvalidatePayload{ContractID: contractID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRealizationInvalidate, data), nil
}

// OverBudgetScanPayload tunes the scan.
type OverBudgetScanPayload struct {
	Concurrency int `json:"concurrency"`
}

// NewOverBudgetScanTask constructs the scan task.
func NewOverBudgetScanTask(concurrency int) (*asynq.Task, error) {
	data, err := json.Marshal(OverBudgetScanPayload{Concurrency: concurrency})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRealizationOverBudgetScan, data), nil
}

// IdempotencyCleanupPayload overrides the configured retention when set.
type IdempotencyCleanupPayload struct {
	RetentionSeconds int64 `json:"retention_seconds"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionSeconds: int64(retention / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
