// Package selector rotates rendering agents so no single avatar dominates a
// tenant's feed. Least-used wins; ties break on least-recently-used.
package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/ajnasrah/viralflow/internal/config"
	"github.com/ajnasrah/viralflow/internal/model"
	"github.com/ajnasrah/viralflow/internal/store"
)

// Options narrows the candidate pool for one selection.
type Options struct {
	Language string
	Exclude  []string
}

// AgentStats is the usage view returned to operators.
type AgentStats struct {
	Agent      config.Agent `json:"agent"`
	UsageCount int          `json:"usageCount"`
	LastUsedAt *time.Time   `json:"lastUsedAt,omitempty"`
}

// Selector picks agents for a tenant using persisted usage counters.
type Selector struct {
	store store.Store
}

func New(st store.Store) *Selector {
	return &Selector{store: st}
}

// Select picks the least-used active agent and records the selection. The
// usage increment happens at selection time, not at workflow completion, so
// concurrent ticks spread across agents.
func (s *Selector) Select(ctx context.Context, tenant *config.Tenant, opts Options) (*config.Agent, error) {
	agent, err := s.pick(ctx, tenant, opts)
	if err != nil {
		return nil, err
	}
	if err := s.store.IncrAgentUsage(ctx, tenant.ID, agent.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to record agent selection: %w", err)
	}
	return agent, nil
}

// Preview returns the agent Select would pick without recording it.
func (s *Selector) Preview(ctx context.Context, tenant *config.Tenant, opts Options) (*config.Agent, error) {
	return s.pick(ctx, tenant, opts)
}

func (s *Selector) pick(ctx context.Context, tenant *config.Tenant, opts Options) (*config.Agent, error) {
	usage, err := s.store.AgentUsage(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent usage: %w", err)
	}

	excluded := make(map[string]bool, len(opts.Exclude))
	for _, id := range opts.Exclude {
		excluded[id] = true
	}

	var best *config.Agent
	var bestUsage model.AgentUsage
	for i := range tenant.Agents {
		a := &tenant.Agents[i]
		if !a.Active || excluded[a.ID] {
			continue
		}
		if opts.Language != "" && a.Language != opts.Language {
			continue
		}
		u := usage[a.ID]
		if best == nil || less(u, bestUsage) {
			best = a
			bestUsage = u
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no eligible agent for tenant %s", tenant.ID)
	}
	return best, nil
}

// less orders by usage count, then by last-used time. Never-used agents sort
// first because their zero LastUsedAt is the oldest possible time.
func less(a, b model.AgentUsage) bool {
	if a.UsageCount != b.UsageCount {
		return a.UsageCount < b.UsageCount
	}
	return a.LastUsedAt.Before(b.LastUsedAt)
}

// Stats returns the roster with usage counters merged in, in roster order.
func (s *Selector) Stats(ctx context.Context, tenant *config.Tenant) ([]AgentStats, error) {
	usage, err := s.store.AgentUsage(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent usage: %w", err)
	}

	out := make([]AgentStats, 0, len(tenant.Agents))
	for _, a := range tenant.Agents {
		st := AgentStats{Agent: a}
		if u, ok := usage[a.ID]; ok {
			st.UsageCount = u.UsageCount
			if !u.LastUsedAt.IsZero() {
				t := u.LastUsedAt
				st.LastUsedAt = &t
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// Reset clears the tenant's usage counters so rotation starts fresh.
func (s *Selector) Reset(ctx context.Context, tenant *config.Tenant) error {
	return s.store.ResetAgentUsage(ctx, tenant.ID)
}
