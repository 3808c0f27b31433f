package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ajnasrah/viralflow/internal/store"
)

// tickLockTTL keeps overlapping schedule triggers (asynq periodic task plus a
// manual HTTP trigger) from double-creating workflows for a tenant.
const tickLockTTL = 5 * time.Minute

// ScheduleOptions tune one scheduler run.
type ScheduleOptions struct {
	// Force bypasses the daily quota and the tick lock. Used by operators to
	// push out an extra video.
	Force bool
	// Tenant limits the run to one tenant; empty means all.
	Tenant string
}

// TenantScheduleResult is the outcome of one tenant's tick.
type TenantScheduleResult struct {
	Tenant     string `json:"tenant"`
	WorkflowID string `json:"workflowId,omitempty"`
	SeedRef    string `json:"seedRef,omitempty"`
	Skipped    string `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ScheduleSummary is the aggregate outcome of a scheduler run.
type ScheduleSummary struct {
	Results []TenantScheduleResult `json:"results"`
	Created int                    `json:"created"`
}

// RunSchedule performs one scheduling tick: for each tenant under quota, pick
// the next unclaimed seed topic, create a pending workflow and enqueue its
// start task.
func (e *Engine) RunSchedule(ctx context.Context, opts ScheduleOptions) (*ScheduleSummary, error) {
	summary := &ScheduleSummary{}

	for _, tenant := range e.tenants.All() {
		if opts.Tenant != "" && tenant.ID != opts.Tenant {
			continue
		}
		res := e.scheduleTenant(ctx, tenant.ID, opts.Force)
		if res.WorkflowID != "" {
			summary.Created++
		}
		summary.Results = append(summary.Results, res)
	}

	log.Printf("[Scheduler] tick done, %d workflow(s) created", summary.Created)
	return summary, nil
}

func (e *Engine) scheduleTenant(ctx context.Context, tenantID string, force bool) TenantScheduleResult {
	res := TenantScheduleResult{Tenant: tenantID}
	tenant := e.tenants.Get(tenantID)

	if !force {
		ok, err := e.store.AcquireTickLock(ctx, tenantID, tickLockTTL)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if !ok {
			res.Skipped = "tick lock held"
			return res
		}

		count, err := e.store.DailyCount(ctx, tenantID, time.Now())
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if count >= tenant.MaxPerDay {
			log.Printf("[Scheduler] %s at daily quota (%d/%d)", tenantID, count, tenant.MaxPerDay)
			res.Skipped = "daily quota reached"
			return res
		}
	}

	if len(tenant.Topics) == 0 {
		res.Skipped = "no seed topics configured"
		return res
	}

	// Topics already claimed by an active workflow are skipped; the first
	// free one wins.
	for _, topic := range tenant.Topics {
		wf, err := e.CreateWorkflow(ctx, tenantID, topic, nil)
		if errors.Is(err, store.ErrDuplicateSeed) {
			continue
		}
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.WorkflowID = wf.ID
		res.SeedRef = topic
		return res
	}

	res.Skipped = "all seed topics have active workflows"
	return res
}
