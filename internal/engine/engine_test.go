package engine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ajnasrah/viralflow/internal/client"
	"github.com/ajnasrah/viralflow/internal/model"
	"github.com/ajnasrah/viralflow/internal/store"
)

func TestWebhookDrivenHappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	wf := e.startWorkflow("topic-a")
	e.wantStatus(wf, model.StatusRendering)
	if wf.Script == "" || wf.Caption == "" || wf.Title == "" {
		t.Fatal("script fields not persisted")
	}
	if wf.AgentID == "" || wf.RendererJobID == "" {
		t.Fatal("render submission not recorded")
	}
	if len(e.renderer.submitted) != 1 {
		t.Fatalf("expected one render submission, got %d", len(e.renderer.submitted))
	}
	if e.renderer.submitted[0].CallbackID != wf.ID {
		t.Fatal("callback id should carry the workflow id")
	}

	// Renderer webhook lands: render_done, then straight into enhancing.
	if err := e.eng.HandleRenderResult(ctx, "acme", wf.RendererJobID, true, "https://cdn.example.com/raw.mp4", ""); err != nil {
		t.Fatal(err)
	}
	wf = e.reload(wf.ID)
	e.wantStatus(wf, model.StatusEnhancing)
	if wf.RendererOutputURL != "https://cdn.example.com/raw.mp4" {
		t.Fatalf("unexpected renderer output url %q", wf.RendererOutputURL)
	}
	if wf.EnhancerProjectID == "" {
		t.Fatal("enhancer project not recorded")
	}
	if e.enhancer.created[0].Title != wf.Title {
		t.Fatal("enhancer should receive the workflow title")
	}

	// Enhancer webhook lands: enhance_done and distribution queued.
	if err := e.eng.HandleEnhanceResult(ctx, "acme", wf.EnhancerProjectID, true, "https://cdn.example.com/final.mp4", ""); err != nil {
		t.Fatal(err)
	}
	wf = e.reload(wf.ID)
	e.wantStatus(wf, model.StatusEnhanceDone)
	if len(e.queue.distributes) != 1 {
		t.Fatalf("expected one distribute task, got %d", len(e.queue.distributes))
	}

	// Distribution fans out to every platform.
	if err := e.eng.Distribute(ctx, "acme", wf.ID); err != nil {
		t.Fatal(err)
	}
	wf = e.reload(wf.ID)
	e.wantStatus(wf, model.StatusCompleted)
	if wf.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}
	if len(wf.Distribution) != 3 {
		t.Fatalf("expected 3 platform results, got %d", len(wf.Distribution))
	}
	for platform, res := range wf.Distribution {
		if res.PostID == "" || res.Error != "" {
			t.Fatalf("platform %s should have succeeded: %+v", platform, res)
		}
	}
}

func TestDuplicateRenderWebhookIsNoop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	wf := e.enhanceWorkflow("topic-a")
	e.wantStatus(wf, model.StatusEnhancing)

	// The same webhook again: workflow is past rendering, so nothing happens.
	if err := e.eng.HandleRenderResult(ctx, "acme", wf.RendererJobID, true, "https://cdn.example.com/other.mp4", ""); err != nil {
		t.Fatal(err)
	}
	again := e.reload(wf.ID)
	e.wantStatus(again, model.StatusEnhancing)
	if again.RendererOutputURL != wf.RendererOutputURL {
		t.Fatal("duplicate webhook overwrote the output url")
	}
	if len(e.enhancer.created) != 1 {
		t.Fatalf("duplicate webhook created a second enhancer project")
	}
}

func TestUnknownRenderJobReturnsNotFound(t *testing.T) {
	e := newEnv(t)
	err := e.eng.HandleRenderResult(context.Background(), "acme", "job-nope", true, "https://x/y.mp4", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRenderFailureWebhook(t *testing.T) {
	e := newEnv(t)
	wf := e.startWorkflow("topic-a")

	if err := e.eng.HandleRenderResult(context.Background(), "acme", wf.RendererJobID, false, "", "avatar render crashed"); err != nil {
		t.Fatal(err)
	}
	wf = e.reload(wf.ID)
	e.wantStatus(wf, model.StatusFailed)
	if wf.Error != "avatar render crashed" {
		t.Fatalf("upstream error not recorded: %q", wf.Error)
	}
	if wf.FailedAt == nil {
		t.Fatal("failedAt not set")
	}
}

func TestScriptValidationFailureFailsFast(t *testing.T) {
	e := newEnv(t)
	e.scripts.err = errors.New("script contains placeholder text")
	ctx := context.Background()

	wf, err := e.eng.CreateWorkflow(ctx, "acme", "topic-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.eng.StartWorkflow(ctx, "acme", wf.ID); err != nil {
		t.Fatal(err)
	}

	wf = e.reload(wf.ID)
	e.wantStatus(wf, model.StatusFailed)
	if len(e.renderer.submitted) != 0 {
		t.Fatal("invalid script must never reach the renderer")
	}
}

func TestRendererOutOfCredits(t *testing.T) {
	e := newEnv(t)
	e.renderer.credits = 0
	ctx := context.Background()

	wf, err := e.eng.CreateWorkflow(ctx, "acme", "topic-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.eng.StartWorkflow(ctx, "acme", wf.ID); err != nil {
		t.Fatal(err)
	}

	wf = e.reload(wf.ID)
	e.wantStatus(wf, model.StatusFailed)
	if len(e.renderer.submitted) != 0 {
		t.Fatal("render submitted despite missing credits")
	}
}

func TestPartialDistributionStillCompletes(t *testing.T) {
	e := newEnv(t)
	e.publisher.failPlatforms = map[string]bool{"instagram": true}
	ctx := context.Background()

	wf := e.enhanceWorkflow("topic-a")
	if err := e.eng.HandleEnhanceResult(ctx, "acme", wf.EnhancerProjectID, true, "https://cdn.example.com/final.mp4", ""); err != nil {
		t.Fatal(err)
	}
	if err := e.eng.Distribute(ctx, "acme", wf.ID); err != nil {
		t.Fatal(err)
	}

	wf = e.reload(wf.ID)
	e.wantStatus(wf, model.StatusCompleted)
	if wf.Distribution["instagram"].Error == "" {
		t.Fatal("instagram failure not recorded")
	}
	if wf.Distribution["tiktok"].PostID == "" || wf.Distribution["youtube"].PostID == "" {
		t.Fatalf("successful platforms missing post ids: %+v", wf.Distribution)
	}
}

func TestAllPlatformsFailingFailsWorkflow(t *testing.T) {
	e := newEnv(t)
	e.publisher.failPlatforms = map[string]bool{"tiktok": true, "instagram": true, "youtube": true}
	ctx := context.Background()

	wf := e.enhanceWorkflow("topic-a")
	if err := e.eng.HandleEnhanceResult(ctx, "acme", wf.EnhancerProjectID, true, "https://cdn.example.com/final.mp4", ""); err != nil {
		t.Fatal(err)
	}
	if err := e.eng.Distribute(ctx, "acme", wf.ID); err != nil {
		t.Fatal(err)
	}

	wf = e.reload(wf.ID)
	e.wantStatus(wf, model.StatusFailed)
	if len(wf.Distribution) != 3 {
		t.Fatalf("per-platform errors should still be recorded: %+v", wf.Distribution)
	}
}

func TestMissingAccountRecordedAsPlatformError(t *testing.T) {
	e := newEnv(t)
	e.publisher.missing = map[string]bool{"youtube": true}
	ctx := context.Background()

	wf := e.enhanceWorkflow("topic-a")
	if err := e.eng.HandleEnhanceResult(ctx, "acme", wf.EnhancerProjectID, true, "https://cdn.example.com/final.mp4", ""); err != nil {
		t.Fatal(err)
	}
	if err := e.eng.Distribute(ctx, "acme", wf.ID); err != nil {
		t.Fatal(err)
	}

	wf = e.reload(wf.ID)
	e.wantStatus(wf, model.StatusCompleted)
	if wf.Distribution["youtube"].Error == "" {
		t.Fatal("missing account should surface as a platform error")
	}
}

func TestRequeueBoundedByRetryBudget(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	wf := e.startWorkflow("topic-a")
	failIt := func() {
		t.Helper()
		cur := e.reload(wf.ID)
		if err := e.eng.HandleRenderResult(ctx, "acme", cur.RendererJobID, false, "", "boom"); err != nil {
			t.Fatal(err)
		}
	}

	failIt()
	for attempt := 1; attempt <= 2; attempt++ {
		requeued, err := e.eng.Requeue(ctx, "acme", wf.ID)
		if err != nil {
			t.Fatalf("requeue %d failed: %v", attempt, err)
		}
		if requeued.RetryCount != attempt {
			t.Fatalf("retry count = %d, want %d", requeued.RetryCount, attempt)
		}
		if requeued.RendererJobID != "" || requeued.Error != "" || requeued.Script != "" {
			t.Fatal("requeue must clear stage state")
		}
		// Restart and fail again.
		if err := e.eng.StartWorkflow(ctx, "acme", wf.ID); err != nil {
			t.Fatal(err)
		}
		failIt()
	}

	if _, err := e.eng.Requeue(ctx, "acme", wf.ID); !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
}

func TestRequeueRejectedWhenSeedReclaimed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	wf := e.startWorkflow("topic-a")
	if err := e.eng.HandleRenderResult(ctx, "acme", wf.RendererJobID, false, "", "boom"); err != nil {
		t.Fatal(err)
	}

	// The failure released the seed; a fresh workflow claims it.
	newer, err := e.eng.CreateWorkflow(ctx, "acme", "topic-a", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.eng.Requeue(ctx, "acme", wf.ID); !errors.Is(err, store.ErrDuplicateSeed) {
		t.Fatalf("expected ErrDuplicateSeed, got %v", err)
	}
	e.wantStatus(e.reload(wf.ID), model.StatusFailed)
	e.wantStatus(e.reload(newer.ID), model.StatusPending)
}

func TestEnhanceCompletionWithoutURLTriggersExport(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	wf := e.enhanceWorkflow("topic-a")

	// Initial completion: captions done, final file not exported yet.
	if err := e.eng.HandleEnhanceResult(ctx, "acme", wf.EnhancerProjectID, true, "", ""); err != nil {
		t.Fatal(err)
	}
	e.wantStatus(e.reload(wf.ID), model.StatusEnhancing)
	if len(e.enhancer.exports) != 1 || e.enhancer.exports[0] != wf.EnhancerProjectID {
		t.Fatalf("export not triggered: %+v", e.enhancer.exports)
	}
	if len(e.queue.distributes) != 0 {
		t.Fatal("distribution must wait for the export to deliver a url")
	}

	// The export webhook then advances normally.
	if err := e.eng.HandleEnhanceResult(ctx, "acme", wf.EnhancerProjectID, true, "https://cdn.example.com/final.mp4", ""); err != nil {
		t.Fatal(err)
	}
	e.wantStatus(e.reload(wf.ID), model.StatusEnhanceDone)
}

func TestRequeueRejectsNonFailed(t *testing.T) {
	e := newEnv(t)
	wf := e.startWorkflow("topic-a")
	if _, err := e.eng.Requeue(context.Background(), "acme", wf.ID); err == nil {
		t.Fatal("expected requeue of a rendering workflow to be rejected")
	}
}

type fakeStorage struct {
	rehosted []string
}

func (f *fakeStorage) Upload(_ context.Context, key string, _ io.Reader, _ string) (string, error) {
	return "https://media.example.com/" + key, nil
}

func (f *fakeStorage) Rehost(_ context.Context, sourceURL, key string) (string, error) {
	f.rehosted = append(f.rehosted, sourceURL)
	return "https://media.example.com/" + key, nil
}

func (f *fakeStorage) Delete(context.Context, string) error { return nil }

func (f *fakeStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://media.example.com/" + key, nil
}

func (f *fakeStorage) GetPublicURL(key string) string { return "https://media.example.com/" + key }

var _ client.StorageClient = (*fakeStorage)(nil)

func TestRenderOutputRehostedWhenStorageConfigured(t *testing.T) {
	e := newEnv(t)
	st := &fakeStorage{}
	e.eng.storage = st
	ctx := context.Background()

	wf := e.startWorkflow("topic-a")
	if err := e.eng.HandleRenderResult(ctx, "acme", wf.RendererJobID, true, "https://upstream.example.com/raw.mp4", ""); err != nil {
		t.Fatal(err)
	}

	wf = e.reload(wf.ID)
	if wf.RendererOutputURL == "https://upstream.example.com/raw.mp4" {
		t.Fatal("output url should point at our storage after rehosting")
	}
	if len(st.rehosted) != 1 {
		t.Fatalf("expected one rehost, got %d", len(st.rehosted))
	}
	if e.enhancer.created[0].VideoURL != wf.RendererOutputURL {
		t.Fatal("enhancer should receive the hosted url")
	}
}
