package store

import (
	"context"
	"errors"
	"time"

	"github.com/ajnasrah/viralflow/internal/model"
)

var (
	// ErrNotFound is returned when a workflow or lookup key does not exist.
	ErrNotFound = errors.New("workflow not found")

	// ErrStaleStatus is returned by Transition when the workflow is no longer
	// in the expected status. Callers treat this as "someone else got there
	// first" and drop the update.
	ErrStaleStatus = errors.New("workflow status changed concurrently")

	// ErrDuplicateSeed is returned by Create when the tenant already has a
	// non-terminal workflow for the same seed.
	ErrDuplicateSeed = errors.New("active workflow exists for seed")
)

// Store persists workflow records and the small amount of coordination state
// around them (seed claims, quota counters, agent usage, tick locks). The
// Redis implementation is authoritative; the memory implementation backs
// tests and unconfigured local runs.
type Store interface {
	// Create persists a new workflow and claims its (tenant, seedRef) pair.
	// Fails with ErrDuplicateSeed while another non-terminal workflow holds
	// the claim.
	Create(ctx context.Context, wf *model.Workflow) error

	Get(ctx context.Context, tenant, id string) (*model.Workflow, error)

	// FindByRendererJob resolves a renderer callback to its workflow.
	FindByRendererJob(ctx context.Context, tenant, jobID string) (*model.Workflow, error)

	// FindByEnhancerProject resolves an enhancer callback to its workflow.
	FindByEnhancerProject(ctx context.Context, tenant, projectID string) (*model.Workflow, error)

	// ListByStatus returns up to limit workflows for the tenant in the given
	// status whose last status change is older than olderThan. A zero
	// olderThan means no age filter.
	ListByStatus(ctx context.Context, tenant string, status model.Status, olderThan time.Duration, limit int) ([]*model.Workflow, error)

	// Transition moves the workflow from the expected status to the next one,
	// applying mutate to the record inside the same atomic step. Returns
	// ErrStaleStatus if the stored status no longer matches from. A
	// failed -> pending transition re-claims the seed and returns
	// ErrDuplicateSeed when another workflow holds the claim.
	Transition(ctx context.Context, tenant, id string, from, to model.Status, mutate func(*model.Workflow)) (*model.Workflow, error)

	// DailyCount returns how many workflows were started for the tenant today.
	DailyCount(ctx context.Context, tenant string, day time.Time) (int, error)

	// IncrDailyCount bumps today's counter and returns the new value.
	IncrDailyCount(ctx context.Context, tenant string, day time.Time) (int, error)

	// AcquireTickLock takes the per-tenant scheduler lock. Returns false when
	// another tick currently holds it.
	AcquireTickLock(ctx context.Context, tenant string, ttl time.Duration) (bool, error)

	// IncrAgentUsage atomically bumps the usage counter for an agent and
	// stamps its last-used time.
	IncrAgentUsage(ctx context.Context, tenant, agentID string, at time.Time) error

	// AgentUsage returns usage records for all agents the tenant has ever
	// selected, keyed by agent id.
	AgentUsage(ctx context.Context, tenant string) (map[string]model.AgentUsage, error)

	// ResetAgentUsage clears the tenant's usage counters.
	ResetAgentUsage(ctx context.Context, tenant string) error
}
