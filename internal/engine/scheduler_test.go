package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ajnasrah/viralflow/internal/model"
)

func TestScheduleCreatesPendingWorkflow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	summary, err := e.eng.RunSchedule(ctx, ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Created != 1 {
		t.Fatalf("expected one workflow created, got %d", summary.Created)
	}

	res := summary.Results[0]
	if res.Tenant != "acme" || res.SeedRef != "topic-a" {
		t.Fatalf("unexpected result: %+v", res)
	}

	wf := e.reload(res.WorkflowID)
	e.wantStatus(wf, model.StatusPending)
	if len(e.queue.starts) != 1 {
		t.Fatalf("expected one start task, got %d", len(e.queue.starts))
	}

	count, err := e.store.DailyCount(ctx, "acme", time.Now())
	if err != nil || count != 1 {
		t.Fatalf("daily count = %d, %v", count, err)
	}
}

func TestScheduleTickLockPreventsOverlap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.eng.RunSchedule(ctx, ScheduleOptions{}); err != nil {
		t.Fatal(err)
	}
	summary, err := e.eng.RunSchedule(ctx, ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Created != 0 {
		t.Fatal("second tick inside the lock window should create nothing")
	}
	if summary.Results[0].Skipped != "tick lock held" {
		t.Fatalf("unexpected skip reason: %+v", summary.Results[0])
	}
}

func TestScheduleStopsAtDailyQuota(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Quota is 2/day. Ticks are spaced past the lock TTL.
	for i := 0; i < 2; i++ {
		summary, err := e.eng.RunSchedule(ctx, ScheduleOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Created != 1 {
			t.Fatalf("tick %d should create one workflow, got %d", i+1, summary.Created)
		}
		e.advanceClock(tickLockTTL + time.Minute)
	}

	summary, err := e.eng.RunSchedule(ctx, ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Created != 0 {
		t.Fatal("third tick should be blocked by the daily quota")
	}
	if summary.Results[0].Skipped != "daily quota reached" {
		t.Fatalf("unexpected skip reason: %+v", summary.Results[0])
	}
}

func TestScheduleForceBypassesQuotaAndLock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := e.eng.RunSchedule(ctx, ScheduleOptions{}); err != nil {
			t.Fatal(err)
		}
		e.advanceClock(tickLockTTL + time.Minute)
	}

	// Quota is exhausted; force still creates from the remaining topic.
	summary, err := e.eng.RunSchedule(ctx, ScheduleOptions{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Created != 1 {
		t.Fatalf("force tick should bypass quota: %+v", summary.Results)
	}
	if summary.Results[0].SeedRef != "topic-c" {
		t.Fatalf("expected the last unclaimed topic, got %+v", summary.Results[0])
	}
}

func TestScheduleSkipsClaimedSeeds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// topic-a already has an active workflow.
	if _, err := e.eng.CreateWorkflow(ctx, "acme", "topic-a", nil); err != nil {
		t.Fatal(err)
	}

	summary, err := e.eng.RunSchedule(ctx, ScheduleOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Created != 1 || summary.Results[0].SeedRef != "topic-b" {
		t.Fatalf("expected topic-b to be picked, got %+v", summary.Results[0])
	}
}

func TestScheduleTenantFilter(t *testing.T) {
	e := newEnv(t)

	summary, err := e.eng.RunSchedule(context.Background(), ScheduleOptions{Tenant: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Results) != 0 || summary.Created != 0 {
		t.Fatalf("filtered run should touch nothing: %+v", summary)
	}
}
