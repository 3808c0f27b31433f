package engine

import (
	"context"
	"log"

	"github.com/ajnasrah/viralflow/internal/client"
	"github.com/ajnasrah/viralflow/internal/model"
)

// SweepSummary reports what one reconciliation pass did.
type SweepSummary struct {
	Restarted int `json:"restarted"`
	Advanced  int `json:"advanced"`
	Exported  int `json:"exported"`
	Failed    int `json:"failed"`
	Redriven  int `json:"redriven"`
}

// RunSweep reconciles workflows whose webhooks never arrived. For each tenant
// it restarts stale pending workflows, polls overdue render and enhance jobs
// and applies the same transitions the webhooks would have, and redrives
// stuck distributions. Stage timeouts come from configuration; rendering gets
// far longer than enhancing before the sweeper intervenes.
func (e *Engine) RunSweep(ctx context.Context) (*SweepSummary, error) {
	summary := &SweepSummary{}
	for _, tenant := range e.tenants.All() {
		e.sweepPending(ctx, tenant.ID, summary)
		e.sweepRendering(ctx, tenant.ID, summary)
		e.sweepEnhancing(ctx, tenant.ID, summary)
		e.sweepDistributing(ctx, tenant.ID, summary)
	}
	log.Printf("[Sweeper] pass done: restarted=%d advanced=%d exported=%d failed=%d redriven=%d",
		summary.Restarted, summary.Advanced, summary.Exported, summary.Failed, summary.Redriven)
	return summary, nil
}

// sweepPending re-enqueues start tasks for pending workflows that sat past
// the pending timeout, which happens when the original enqueue was lost.
func (e *Engine) sweepPending(ctx context.Context, tenantID string, summary *SweepSummary) {
	stale, err := e.store.ListByStatus(ctx, tenantID, model.StatusPending, e.workflow.PendingTimeout, e.workflow.SweepBatchSize)
	if err != nil {
		log.Printf("[Sweeper] pending scan failed for %s: %v", tenantID, err)
		return
	}
	for _, wf := range stale {
		if err := e.tasks.EnqueueStart(ctx, tenantID, wf.ID); err != nil {
			log.Printf("[Sweeper] restart enqueue failed for %s/%s: %v", tenantID, wf.ID, err)
			continue
		}
		log.Printf("[Sweeper] restarted stale pending workflow %s/%s", tenantID, wf.ID)
		summary.Restarted++
	}
}

func (e *Engine) sweepRendering(ctx context.Context, tenantID string, summary *SweepSummary) {
	overdue, err := e.store.ListByStatus(ctx, tenantID, model.StatusRendering, e.workflow.RenderTimeout, e.workflow.SweepBatchSize)
	if err != nil {
		log.Printf("[Sweeper] rendering scan failed for %s: %v", tenantID, err)
		return
	}
	for _, wf := range overdue {
		st, err := e.renderer.VideoStatus(ctx, wf.RendererJobID)
		if err != nil {
			log.Printf("[Sweeper] render poll failed for %s/%s: %v", tenantID, wf.ID, err)
			continue
		}
		switch st.State {
		case client.JobCompleted:
			if st.VideoURL == "" {
				// Completed upstream but the file URL is not published yet.
				// Leave it for the next pass.
				continue
			}
			if err := e.HandleRenderResult(ctx, tenantID, wf.RendererJobID, true, st.VideoURL, ""); err != nil {
				log.Printf("[Sweeper] render advance failed for %s/%s: %v", tenantID, wf.ID, err)
				continue
			}
			summary.Advanced++
		case client.JobFailed:
			if err := e.HandleRenderResult(ctx, tenantID, wf.RendererJobID, false, "", st.Error); err != nil {
				log.Printf("[Sweeper] render fail-out failed for %s/%s: %v", tenantID, wf.ID, err)
				continue
			}
			summary.Failed++
		default:
			// Still processing upstream; leave it for the next pass.
		}
	}
}

func (e *Engine) sweepEnhancing(ctx context.Context, tenantID string, summary *SweepSummary) {
	overdue, err := e.store.ListByStatus(ctx, tenantID, model.StatusEnhancing, e.workflow.EnhanceTimeout, e.workflow.SweepBatchSize)
	if err != nil {
		log.Printf("[Sweeper] enhancing scan failed for %s: %v", tenantID, err)
		return
	}
	for _, wf := range overdue {
		st, err := e.enhancer.ProjectStatus(ctx, wf.EnhancerProjectID)
		if err != nil {
			log.Printf("[Sweeper] enhance poll failed for %s/%s: %v", tenantID, wf.ID, err)
			continue
		}
		switch {
		case st.State == client.JobCompleted && st.DownloadURL != "":
			if err := e.HandleEnhanceResult(ctx, tenantID, wf.EnhancerProjectID, true, st.DownloadURL, ""); err != nil {
				log.Printf("[Sweeper] enhance advance failed for %s/%s: %v", tenantID, wf.ID, err)
				continue
			}
			summary.Advanced++
		case st.State == client.JobCompleted:
			// Processing finished but the final file was never exported. Same
			// handling as the initial-completion webhook: trigger the export
			// and let the export webhook or the next sweep pick up the URL.
			if err := e.HandleEnhanceResult(ctx, tenantID, wf.EnhancerProjectID, true, "", ""); err != nil {
				log.Printf("[Sweeper] export trigger failed for %s/%s: %v", tenantID, wf.ID, err)
				continue
			}
			summary.Exported++
		case st.State == client.JobFailed:
			if err := e.HandleEnhanceResult(ctx, tenantID, wf.EnhancerProjectID, false, "", st.Error); err != nil {
				log.Printf("[Sweeper] enhance fail-out failed for %s/%s: %v", tenantID, wf.ID, err)
				continue
			}
			summary.Failed++
		}
	}
}

// sweepDistributing re-enqueues the fan-out for workflows stuck mid
// distribution, typically after a worker crash.
func (e *Engine) sweepDistributing(ctx context.Context, tenantID string, summary *SweepSummary) {
	stuck, err := e.store.ListByStatus(ctx, tenantID, model.StatusDistributing, e.workflow.DistributeTimeout, e.workflow.SweepBatchSize)
	if err != nil {
		log.Printf("[Sweeper] distributing scan failed for %s: %v", tenantID, err)
		return
	}
	for _, wf := range stuck {
		if err := e.tasks.EnqueueDistribute(ctx, tenantID, wf.ID); err != nil {
			log.Printf("[Sweeper] redrive enqueue failed for %s/%s: %v", tenantID, wf.ID, err)
			continue
		}
		log.Printf("[Sweeper] redrove stuck distribution %s/%s", tenantID, wf.ID)
		summary.Redriven++
	}
}
