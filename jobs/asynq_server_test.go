package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body.Queue)
	require.Zero(t, body.Pending)
}

func TestRedisOpt(t *testing.T) {
	opt, err := RedisOpt("127.0.0.1:6379")
	require.NoError(t, err)
	require.Equal(t, asynq.RedisClientOpt{Addr: "127.0.0.1:6379"}, opt)

	opt, err = RedisOpt("redis://:secret@cache:6380/2")
	require.NoError(t, err)
	client, ok := opt.(asynq.RedisClientOpt)
	require.True(t, ok)
	require.Equal(t, "cache:6380", client.Addr)
	require.Equal(t, 2, client.DB)
}

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

func (c *captureEnqueuer) Close() error { return nil }

func TestClientEnqueuesRealizationTasks(t *testing.T) {
	sink := &captureEnqueuer{}
	client := NewClientWith(sink)
	ctx := context.Background()

	_, err := client.EnqueueInvalidate(ctx, 0)
	require.Error(t, err)
	require.Empty(t, sink.tasks)

	info, err := client.EnqueueInvalidate(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, TaskRealizationInvalidate, info.Type)
	var payload InvalidatePayload
	require.NoError(t, json.Unmarshal(sink.tasks[0].Payload(), &payload))
	require.Equal(t, int64(42), payload.ContractID)

	_, err = client.EnqueueOverBudgetScan(ctx)
	require.NoError(t, err)
	require.Equal(t, TaskRealizationOverBudgetScan, sink.tasks[1].Type())
	require.NoError(t, client.Close())
}
