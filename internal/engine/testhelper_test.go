package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ajnasrah/viralflow/internal/client"
	"github.com/ajnasrah/viralflow/internal/config"
	"github.com/ajnasrah/viralflow/internal/model"
	"github.com/ajnasrah/viralflow/internal/selector"
	"github.com/ajnasrah/viralflow/internal/service"
	"github.com/ajnasrah/viralflow/internal/store"
)

type fakeRenderer struct {
	mu          sync.Mutex
	submitted   []client.RenderRequest
	credits     int
	generateErr error
	statusFn    func(jobID string) *client.RenderStatus
	statusCalls int
}

func (f *fakeRenderer) GenerateVideo(_ context.Context, req client.RenderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generateErr != nil {
		return "", f.generateErr
	}
	f.submitted = append(f.submitted, req)
	return fmt.Sprintf("job-%d", len(f.submitted)), nil
}

func (f *fakeRenderer) VideoStatus(_ context.Context, jobID string) (*client.RenderStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	fn := f.statusFn
	f.mu.Unlock()
	if fn == nil {
		return &client.RenderStatus{State: client.JobProcessing}, nil
	}
	return fn(jobID), nil
}

func (f *fakeRenderer) RemainingCredits(context.Context) (int, error) { return f.credits, nil }
func (f *fakeRenderer) IsConfigured() bool                           { return true }

type fakeEnhancer struct {
	mu        sync.Mutex
	created   []client.EnhanceRequest
	createErr error
	statusFn  func(projectID string) *client.EnhanceStatus
	exports   []string
}

func (f *fakeEnhancer) CreateProject(_ context.Context, req client.EnhanceRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return fmt.Sprintf("proj-%d", len(f.created)), nil
}

func (f *fakeEnhancer) ProjectStatus(_ context.Context, projectID string) (*client.EnhanceStatus, error) {
	f.mu.Lock()
	fn := f.statusFn
	f.mu.Unlock()
	if fn == nil {
		return &client.EnhanceStatus{State: client.JobProcessing}, nil
	}
	return fn(projectID), nil
}

func (f *fakeEnhancer) ExportProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports = append(f.exports, projectID)
	return nil
}

func (f *fakeEnhancer) IsConfigured() bool { return true }

type fakePublisher struct {
	mu            sync.Mutex
	posts         []client.PostRequest
	failPlatforms map[string]bool
	missing       map[string]bool
}

func (f *fakePublisher) ListAccounts(context.Context, string) ([]client.SocialAccount, error) {
	accounts := []client.SocialAccount{}
	for _, p := range []string{"tiktok", "instagram", "youtube"} {
		if f.missing[p] {
			continue
		}
		accounts = append(accounts, client.SocialAccount{ID: "acct-" + p, Platform: p})
	}
	return accounts, nil
}

func (f *fakePublisher) CreatePost(_ context.Context, req client.PostRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPlatforms[req.Platform] {
		return "", fmt.Errorf("%s rejected the upload", req.Platform)
	}
	f.posts = append(f.posts, req)
	return "post-" + req.Platform, nil
}

func (f *fakePublisher) IsConfigured() bool { return true }

type fakeScripts struct {
	err error
}

func (f *fakeScripts) Generate(_ context.Context, _, seedRef string) (*service.ScriptResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.ScriptResult{
		Script:  "A perfectly reasonable spoken script about " + seedRef + " that passes validation.",
		Caption: "Everything about " + seedRef,
		Title:   "About " + seedRef,
	}, nil
}

type fakeQueue struct {
	mu          sync.Mutex
	starts      []string
	distributes []string
}

func (f *fakeQueue) EnqueueStart(_ context.Context, tenant, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, tenant+"/"+id)
	return nil
}

func (f *fakeQueue) EnqueueDistribute(_ context.Context, tenant, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.distributes = append(f.distributes, tenant+"/"+id)
	return nil
}

type env struct {
	t         *testing.T
	store     *store.MemoryStore
	renderer  *fakeRenderer
	enhancer  *fakeEnhancer
	publisher *fakePublisher
	scripts   *fakeScripts
	queue     *fakeQueue
	eng       *Engine
	clockBase time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	st := store.NewMemoryStore()
	base := time.Now().UTC()
	st.SetClock(func() time.Time { return base })

	e := &env{
		t:         t,
		store:     st,
		renderer:  &fakeRenderer{credits: 100},
		enhancer:  &fakeEnhancer{},
		publisher: &fakePublisher{},
		scripts:   &fakeScripts{},
		queue:     &fakeQueue{},
		clockBase: base,
	}

	tenants := config.NewTenantRegistry([]config.Tenant{{
		ID:            "acme",
		DisplayName:   "Acme",
		LateProfileID: "acme-profile",
		Platforms:     []string{"tiktok", "instagram", "youtube"},
		MaxPerDay:     2,
		Topics:        []string{"topic-a", "topic-b", "topic-c"},
		Agents: []config.Agent{
			{ID: "a1", Name: "One", AvatarID: "av1", VoiceID: "v1", Language: "en", Active: true},
			{ID: "a2", Name: "Two", AvatarID: "av2", VoiceID: "v2", Language: "en", Active: true},
		},
	}})

	e.eng = New(Deps{
		Store:     st,
		Renderer:  e.renderer,
		Enhancer:  e.enhancer,
		Publisher: e.publisher,
		Scripts:   e.scripts,
		Selector:  selector.New(st),
		Tenants:   tenants,
		Workflow: config.WorkflowConfig{
			RenderTimeout:     20 * time.Minute,
			EnhanceTimeout:    10 * time.Minute,
			PendingTimeout:    5 * time.Minute,
			DistributeTimeout: 10 * time.Minute,
			MaxRetries:        2,
			SweepBatchSize:    10,
		},
		Webhook: config.WebhookConfig{
			PublicBaseURL: "http://localhost:8000",
			Token:         "hook-token",
			SigningSecret: "signing-secret",
		},
		Tasks: e.queue,
	})
	return e
}

// advanceClock moves the store clock forward so age filters see records as
// stale.
func (e *env) advanceClock(d time.Duration) {
	e.clockBase = e.clockBase.Add(d)
	base := e.clockBase
	e.store.SetClock(func() time.Time { return base })
}

// startWorkflow creates a workflow for the seed and runs the start stage,
// leaving it in rendering.
func (e *env) startWorkflow(seed string) *model.Workflow {
	e.t.Helper()
	ctx := context.Background()
	wf, err := e.eng.CreateWorkflow(ctx, "acme", seed, nil)
	if err != nil {
		e.t.Fatalf("create workflow: %v", err)
	}
	if err := e.eng.StartWorkflow(ctx, "acme", wf.ID); err != nil {
		e.t.Fatalf("start workflow: %v", err)
	}
	return e.reload(wf.ID)
}

// enhanceWorkflow drives a workflow to the enhancing stage.
func (e *env) enhanceWorkflow(seed string) *model.Workflow {
	e.t.Helper()
	wf := e.startWorkflow(seed)
	if err := e.eng.HandleRenderResult(context.Background(), "acme", wf.RendererJobID, true, "https://cdn.example.com/raw.mp4", ""); err != nil {
		e.t.Fatalf("render result: %v", err)
	}
	return e.reload(wf.ID)
}

func (e *env) reload(id string) *model.Workflow {
	e.t.Helper()
	wf, err := e.store.Get(context.Background(), "acme", id)
	if err != nil {
		e.t.Fatalf("reload workflow: %v", err)
	}
	return wf
}

func (e *env) wantStatus(wf *model.Workflow, want model.Status) {
	e.t.Helper()
	if wf.Status != want {
		e.t.Fatalf("workflow %s status = %s, want %s", wf.ID, wf.Status, want)
	}
}
