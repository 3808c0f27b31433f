package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/ajnasrah/viralflow/internal/engine"
)

// Task type names. Start and distribute carry a workflow payload; the cron
// tasks are payload-free periodic triggers.
const (
	TaskTypeStart        = "workflow:start"
	TaskTypeDistribute   = "workflow:distribute"
	TaskTypeCronSchedule = "cron:schedule"
	TaskTypeCronSweep    = "cron:sweep"

	QueueWorkflow = "workflow"
	QueuePublish  = "publish"
)

// WorkflowTaskPayload identifies the workflow a task operates on.
type WorkflowTaskPayload struct {
	Tenant     string `json:"tenant"`
	WorkflowID string `json:"workflowId"`
}

// Enqueuer is the asynq-backed engine.TaskEnqueuer.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (q *Enqueuer) EnqueueStart(ctx context.Context, tenant, workflowID string) error {
	return q.enqueue(ctx, TaskTypeStart, QueueWorkflow, tenant, workflowID)
}

func (q *Enqueuer) EnqueueDistribute(ctx context.Context, tenant, workflowID string) error {
	return q.enqueue(ctx, TaskTypeDistribute, QueuePublish, tenant, workflowID)
}

func (q *Enqueuer) enqueue(ctx context.Context, taskType, queue, tenant, workflowID string) error {
	payload, err := json.Marshal(WorkflowTaskPayload{Tenant: tenant, WorkflowID: workflowID})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}
	task := asynq.NewTask(taskType, payload)
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(queue), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	return nil
}

// WorkflowWorker processes queued workflow stages.
type WorkflowWorker struct {
	engine *engine.Engine
}

func NewWorkflowWorker(eng *engine.Engine) *WorkflowWorker {
	return &WorkflowWorker{engine: eng}
}

// ProcessStart handles workflow:start tasks.
func (w *WorkflowWorker) ProcessStart(ctx context.Context, t *asynq.Task) error {
	var payload WorkflowTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid start payload: %v: %w", err, asynq.SkipRetry)
	}
	log.Printf("[Worker] start %s/%s", payload.Tenant, payload.WorkflowID)
	return w.engine.StartWorkflow(ctx, payload.Tenant, payload.WorkflowID)
}

// ProcessDistribute handles workflow:distribute tasks.
func (w *WorkflowWorker) ProcessDistribute(ctx context.Context, t *asynq.Task) error {
	var payload WorkflowTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid distribute payload: %v: %w", err, asynq.SkipRetry)
	}
	log.Printf("[Worker] distribute %s/%s", payload.Tenant, payload.WorkflowID)
	return w.engine.Distribute(ctx, payload.Tenant, payload.WorkflowID)
}

// ProcessCronSchedule handles the periodic scheduler tick.
func (w *WorkflowWorker) ProcessCronSchedule(ctx context.Context, _ *asynq.Task) error {
	_, err := w.engine.RunSchedule(ctx, engine.ScheduleOptions{})
	return err
}

// ProcessCronSweep handles the periodic reconciliation pass.
func (w *WorkflowWorker) ProcessCronSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := w.engine.RunSweep(ctx)
	return err
}
