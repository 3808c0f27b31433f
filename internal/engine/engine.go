// Package engine drives workflows through the render/enhance/distribute
// pipeline. Every transition is a conditional write on the expected prior
// status; whichever of the webhook, sweeper or worker paths commits first
// wins and the others become no-ops.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ajnasrah/viralflow/internal/client"
	"github.com/ajnasrah/viralflow/internal/config"
	"github.com/ajnasrah/viralflow/internal/model"
	"github.com/ajnasrah/viralflow/internal/selector"
	"github.com/ajnasrah/viralflow/internal/service"
	"github.com/ajnasrah/viralflow/internal/store"
)

// ErrRetryExhausted is returned by Requeue once a workflow has used up its
// restart budget.
var ErrRetryExhausted = errors.New("workflow retry budget exhausted")

// ErrUnknownTenant is returned for ids that do not resolve in the registry.
var ErrUnknownTenant = errors.New("unknown tenant")

// TaskEnqueuer hands workflow stages to the background queue. The asynq
// implementation lives in internal/worker; tests use an inline fake.
type TaskEnqueuer interface {
	EnqueueStart(ctx context.Context, tenant, workflowID string) error
	EnqueueDistribute(ctx context.Context, tenant, workflowID string) error
}

// Engine owns all workflow state changes.
type Engine struct {
	store     store.Store
	renderer  client.VideoGenerator
	enhancer  client.VideoEnhancer
	publisher client.Publisher
	storage   client.StorageClient // nil when R2 is not configured
	scripts   service.ScriptGenerator
	selector  *selector.Selector
	tenants   *config.TenantRegistry
	workflow  config.WorkflowConfig
	webhook   config.WebhookConfig
	tasks     TaskEnqueuer
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store     store.Store
	Renderer  client.VideoGenerator
	Enhancer  client.VideoEnhancer
	Publisher client.Publisher
	Storage   client.StorageClient
	Scripts   service.ScriptGenerator
	Selector  *selector.Selector
	Tenants   *config.TenantRegistry
	Workflow  config.WorkflowConfig
	Webhook   config.WebhookConfig
	Tasks     TaskEnqueuer
}

func New(d Deps) *Engine {
	return &Engine{
		store:     d.Store,
		renderer:  d.Renderer,
		enhancer:  d.Enhancer,
		publisher: d.Publisher,
		storage:   d.Storage,
		scripts:   d.Scripts,
		selector:  d.Selector,
		tenants:   d.Tenants,
		workflow:  d.Workflow,
		webhook:   d.Webhook,
		tasks:     d.Tasks,
	}
}

// CreateWorkflow persists a new pending workflow for the seed and enqueues
// the start task. Duplicate seeds with an active workflow are rejected.
func (e *Engine) CreateWorkflow(ctx context.Context, tenantID, seedRef string, platforms []string) (*model.Workflow, error) {
	tenant := e.tenants.Get(tenantID)
	if tenant == nil {
		return nil, ErrUnknownTenant
	}
	if len(platforms) == 0 {
		platforms = tenant.Platforms
	}

	now := time.Now().UTC()
	wf := &model.Workflow{
		ID:              uuid.New().String(),
		Tenant:          tenantID,
		Status:          model.StatusPending,
		SeedRef:         seedRef,
		Platforms:       platforms,
		CreatedAt:       now,
		StatusChangedAt: now,
	}

	if err := e.store.Create(ctx, wf); err != nil {
		return nil, err
	}
	if _, err := e.store.IncrDailyCount(ctx, tenantID, now); err != nil {
		log.Printf("[Engine] warning: quota counter bump failed for %s: %v", tenantID, err)
	}

	if err := e.tasks.EnqueueStart(ctx, tenantID, wf.ID); err != nil {
		// The record exists; the sweeper restarts stale pending workflows, so
		// a failed enqueue delays the workflow rather than losing it.
		log.Printf("[Engine] warning: start enqueue failed for %s/%s: %v", tenantID, wf.ID, err)
	}

	log.Printf("[Engine] workflow %s/%s created for seed %q", tenantID, wf.ID, seedRef)
	return wf, nil
}

// Get loads a workflow.
func (e *Engine) Get(ctx context.Context, tenantID, id string) (*model.Workflow, error) {
	return e.store.Get(ctx, tenantID, id)
}

// List returns workflows for a tenant in the given status.
func (e *Engine) List(ctx context.Context, tenantID string, status model.Status) ([]*model.Workflow, error) {
	return e.store.ListByStatus(ctx, tenantID, status, 0, 0)
}

// StartWorkflow runs the first pipeline stage: script generation and renderer
// submission. Safe to call repeatedly; it only acts on pending workflows.
func (e *Engine) StartWorkflow(ctx context.Context, tenantID, id string) error {
	tenant := e.tenants.Get(tenantID)
	if tenant == nil {
		return ErrUnknownTenant
	}

	wf, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if wf.Status != model.StatusPending {
		log.Printf("[Engine] start skipped for %s/%s: status is %s", tenantID, id, wf.Status)
		return nil
	}

	result, err := e.scripts.Generate(ctx, tenantID, wf.SeedRef)
	if err != nil {
		// Script validation failures are deterministic for a seed; retrying
		// the same generation is pointless, so the workflow fails outright.
		return e.fail(ctx, tenantID, id, model.StatusPending, fmt.Sprintf("script generation: %v", err))
	}

	wf, err = e.store.Transition(ctx, tenantID, id, model.StatusPending, model.StatusScriptReady, func(w *model.Workflow) {
		w.Script = result.Script
		w.Caption = result.Caption
		w.Title = result.Title
	})
	if errors.Is(err, store.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}

	credits, err := e.renderer.RemainingCredits(ctx)
	if err != nil {
		return e.fail(ctx, tenantID, id, model.StatusScriptReady, fmt.Sprintf("renderer quota check: %v", err))
	}
	if credits < 1 {
		return e.fail(ctx, tenantID, id, model.StatusScriptReady, "renderer account out of credits")
	}

	agent, err := e.selector.Select(ctx, tenant, selector.Options{})
	if err != nil {
		return e.fail(ctx, tenantID, id, model.StatusScriptReady, fmt.Sprintf("agent selection: %v", err))
	}

	jobID, err := e.renderer.GenerateVideo(ctx, client.RenderRequest{
		Script:      wf.Script,
		AvatarID:    agent.AvatarID,
		VoiceID:     agent.VoiceID,
		CallbackID:  wf.ID,
		CallbackURL: e.rendererCallbackURL(tenantID),
	})
	if err != nil {
		return e.fail(ctx, tenantID, id, model.StatusScriptReady, fmt.Sprintf("render submission: %v", err))
	}

	_, err = e.store.Transition(ctx, tenantID, id, model.StatusScriptReady, model.StatusRendering, func(w *model.Workflow) {
		w.AgentID = agent.ID
		w.RendererJobID = jobID
	})
	if errors.Is(err, store.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Printf("[Engine] workflow %s/%s rendering, job %s, agent %s", tenantID, id, jobID, agent.ID)
	return nil
}

// HandleRenderResult applies a renderer outcome, whether delivered by webhook
// or discovered by the sweeper. Unknown job ids return store.ErrNotFound;
// results for workflows past the rendering stage are dropped silently.
func (e *Engine) HandleRenderResult(ctx context.Context, tenantID, jobID string, success bool, videoURL, upstreamErr string) error {
	wf, err := e.store.FindByRendererJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if wf.Status != model.StatusRendering {
		log.Printf("[Engine] render result for %s/%s dropped: status is %s", tenantID, wf.ID, wf.Status)
		return nil
	}

	if !success {
		msg := upstreamErr
		if msg == "" {
			msg = "renderer reported failure"
		}
		return e.fail(ctx, tenantID, wf.ID, model.StatusRendering, msg)
	}
	if videoURL == "" {
		return e.fail(ctx, tenantID, wf.ID, model.StatusRendering, "renderer completed without output url")
	}

	hostedURL := e.rehost(ctx, videoURL, fmt.Sprintf("%s/%s/render.mp4", tenantID, wf.ID))

	wf, err = e.store.Transition(ctx, tenantID, wf.ID, model.StatusRendering, model.StatusRenderDone, func(w *model.Workflow) {
		w.RendererOutputURL = hostedURL
	})
	if errors.Is(err, store.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}

	return e.submitEnhance(ctx, tenantID, wf)
}

// submitEnhance advances render_done -> enhancing by creating the enhancer
// project for the hosted render output.
func (e *Engine) submitEnhance(ctx context.Context, tenantID string, wf *model.Workflow) error {
	projectID, err := e.enhancer.CreateProject(ctx, client.EnhanceRequest{
		VideoURL:    wf.RendererOutputURL,
		Title:       wf.Title,
		CallbackURL: e.enhancerCallbackURL(tenantID),
	})
	if err != nil {
		return e.fail(ctx, tenantID, wf.ID, model.StatusRenderDone, fmt.Sprintf("enhance submission: %v", err))
	}

	_, err = e.store.Transition(ctx, tenantID, wf.ID, model.StatusRenderDone, model.StatusEnhancing, func(w *model.Workflow) {
		w.EnhancerProjectID = projectID
	})
	if errors.Is(err, store.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Printf("[Engine] workflow %s/%s enhancing, project %s", tenantID, wf.ID, projectID)
	return nil
}

// HandleEnhanceResult applies an enhancer outcome from webhook or sweeper.
func (e *Engine) HandleEnhanceResult(ctx context.Context, tenantID, projectID string, success bool, downloadURL, upstreamErr string) error {
	wf, err := e.store.FindByEnhancerProject(ctx, tenantID, projectID)
	if err != nil {
		return err
	}
	if wf.Status != model.StatusEnhancing {
		log.Printf("[Engine] enhance result for %s/%s dropped: status is %s", tenantID, wf.ID, wf.Status)
		return nil
	}

	if !success {
		msg := upstreamErr
		if msg == "" {
			msg = "enhancer reported failure"
		}
		return e.fail(ctx, tenantID, wf.ID, model.StatusEnhancing, msg)
	}
	if downloadURL == "" {
		// Initial completion event: captions are done but the final file only
		// exists after an export. Trigger it and stay in enhancing until the
		// export webhook (or the sweeper) delivers the download URL.
		if err := e.enhancer.ExportProject(ctx, projectID); err != nil {
			return fmt.Errorf("export trigger for %s/%s: %w", tenantID, wf.ID, err)
		}
		log.Printf("[Engine] triggered export for %s/%s project %s", tenantID, wf.ID, projectID)
		return nil
	}

	hostedURL := e.rehost(ctx, downloadURL, fmt.Sprintf("%s/%s/final.mp4", tenantID, wf.ID))

	_, err = e.store.Transition(ctx, tenantID, wf.ID, model.StatusEnhancing, model.StatusEnhanceDone, func(w *model.Workflow) {
		w.EnhancerOutputURL = hostedURL
	})
	if errors.Is(err, store.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.tasks.EnqueueDistribute(ctx, tenantID, wf.ID); err != nil {
		log.Printf("[Engine] warning: distribute enqueue failed for %s/%s: %v", tenantID, wf.ID, err)
	}
	return nil
}

// Distribute fans the final video out to every platform the workflow targets.
// Partial success still completes the workflow; per-platform failures are
// recorded in the distribution map. Publishing is at-least-once: a crash
// between posting and the terminal write can repost on redrive, which is
// accepted and logged rather than coordinated away.
func (e *Engine) Distribute(ctx context.Context, tenantID, id string) error {
	tenant := e.tenants.Get(tenantID)
	if tenant == nil {
		return ErrUnknownTenant
	}

	wf, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	switch wf.Status {
	case model.StatusEnhanceDone:
		wf, err = e.store.Transition(ctx, tenantID, id, model.StatusEnhanceDone, model.StatusDistributing, nil)
		if errors.Is(err, store.ErrStaleStatus) {
			return nil
		}
		if err != nil {
			return err
		}
	case model.StatusDistributing:
		// Sweeper redrive of a stuck fan-out. May double-post; see above.
		log.Printf("[Engine] redriving distribution for %s/%s", tenantID, id)
	default:
		log.Printf("[Engine] distribute skipped for %s/%s: status is %s", tenantID, id, wf.Status)
		return nil
	}

	accounts, err := e.publisher.ListAccounts(ctx, tenant.LateProfileID)
	if err != nil {
		return e.fail(ctx, tenantID, id, model.StatusDistributing, fmt.Sprintf("account lookup: %v", err))
	}
	byPlatform := make(map[string]client.SocialAccount, len(accounts))
	for _, a := range accounts {
		byPlatform[a.Platform] = a
	}

	results := make(map[string]model.PlatformResult, len(wf.Platforms))
	succeeded := 0
	for _, platform := range wf.Platforms {
		account, ok := byPlatform[platform]
		if !ok {
			results[platform] = model.PlatformResult{Error: "no connected account"}
			continue
		}
		postID, err := e.publisher.CreatePost(ctx, client.PostRequest{
			ProfileID: tenant.LateProfileID,
			AccountID: account.ID,
			Platform:  platform,
			VideoURL:  wf.EnhancerOutputURL,
			Caption:   wf.Caption,
		})
		if err != nil {
			log.Printf("[Engine] %s post failed for %s/%s: %v", platform, tenantID, id, err)
			results[platform] = model.PlatformResult{Error: err.Error()}
			continue
		}
		results[platform] = model.PlatformResult{PostID: postID}
		succeeded++
	}

	now := time.Now().UTC()
	if succeeded > 0 {
		_, err = e.store.Transition(ctx, tenantID, id, model.StatusDistributing, model.StatusCompleted, func(w *model.Workflow) {
			w.Distribution = results
			w.CompletedAt = &now
		})
		if errors.Is(err, store.ErrStaleStatus) {
			return nil
		}
		if err != nil {
			return err
		}
		log.Printf("[Engine] workflow %s/%s completed, %d/%d platforms", tenantID, id, succeeded, len(wf.Platforms))
		return nil
	}

	_, err = e.store.Transition(ctx, tenantID, id, model.StatusDistributing, model.StatusFailed, func(w *model.Workflow) {
		w.Distribution = results
		w.Error = "all platform posts failed"
		w.FailedAt = &now
	})
	if errors.Is(err, store.ErrStaleStatus) {
		return nil
	}
	return err
}

// Requeue restarts a failed workflow from the top of the pipeline, bounded by
// the retry budget.
func (e *Engine) Requeue(ctx context.Context, tenantID, id string) (*model.Workflow, error) {
	wf, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if wf.Status != model.StatusFailed {
		return nil, fmt.Errorf("only failed workflows can be requeued (status is %s)", wf.Status)
	}
	if wf.RetryCount >= e.workflow.MaxRetries {
		return nil, ErrRetryExhausted
	}

	wf, err = e.store.Transition(ctx, tenantID, id, model.StatusFailed, model.StatusPending, func(w *model.Workflow) {
		w.RetryCount++
		w.Error = ""
		w.FailedAt = nil
		w.Script = ""
		w.Caption = ""
		w.Title = ""
		w.AgentID = ""
		w.RendererJobID = ""
		w.RendererOutputURL = ""
		w.EnhancerProjectID = ""
		w.EnhancerOutputURL = ""
		w.Distribution = nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.tasks.EnqueueStart(ctx, tenantID, id); err != nil {
		log.Printf("[Engine] warning: start enqueue failed for requeued %s/%s: %v", tenantID, id, err)
	}
	log.Printf("[Engine] workflow %s/%s requeued (attempt %d)", tenantID, id, wf.RetryCount+1)
	return wf, nil
}

// fail moves a workflow to failed from the expected status. A stale status
// means someone else already moved it, which is fine.
func (e *Engine) fail(ctx context.Context, tenantID, id string, from model.Status, msg string) error {
	now := time.Now().UTC()
	_, err := e.store.Transition(ctx, tenantID, id, from, model.StatusFailed, func(w *model.Workflow) {
		w.Error = msg
		w.FailedAt = &now
	})
	if errors.Is(err, store.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("[Engine] workflow %s/%s failed at %s: %s", tenantID, id, from, msg)
	return nil
}

// rehost copies an upstream URL into our storage when configured; otherwise
// the upstream URL is passed through unchanged.
func (e *Engine) rehost(ctx context.Context, sourceURL, key string) string {
	if e.storage == nil {
		return sourceURL
	}
	hosted, err := e.storage.Rehost(ctx, sourceURL, key)
	if err != nil {
		log.Printf("[Engine] warning: rehost failed for %s, using upstream url: %v", key, err)
		return sourceURL
	}
	return hosted
}

func (e *Engine) rendererCallbackURL(tenantID string) string {
	return fmt.Sprintf("%s/api/webhooks/heygen/%s?token=%s", e.webhook.PublicBaseURL, tenantID, e.webhook.Token)
}

func (e *Engine) enhancerCallbackURL(tenantID string) string {
	return fmt.Sprintf("%s/api/webhooks/submagic/%s", e.webhook.PublicBaseURL, tenantID)
}
