package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajnasrah/viralflow/internal/model"
)

// MemoryStore is an in-process Store used by tests and by local runs without
// Redis. Same semantics as RedisStore, guarded by a single mutex.
type MemoryStore struct {
	mu        sync.Mutex
	workflows map[string]*model.Workflow         // wfKey -> record
	seeds     map[string]string                  // seedKey -> workflow id
	renders   map[string]string                  // renderKey -> workflow id
	enhances  map[string]string                  // enhanceKey -> workflow id
	quotas    map[string]int                     // quotaKey -> count
	agents    map[string]map[string]model.AgentUsage // tenant -> agent id -> usage
	locks     map[string]time.Time               // tickLockKey -> expiry
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*model.Workflow),
		seeds:     make(map[string]string),
		renders:   make(map[string]string),
		enhances:  make(map[string]string),
		quotas:    make(map[string]int),
		agents:    make(map[string]map[string]model.AgentUsage),
		locks:     make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Create(_ context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := seedKey(wf.Tenant, wf.SeedRef)
	if _, taken := s.seeds[sk]; taken {
		return ErrDuplicateSeed
	}
	s.seeds[sk] = wf.ID

	cp := *wf
	s.workflows[wfKey(wf.Tenant, wf.ID)] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenant, id string) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(tenant, id)
}

func (s *MemoryStore) getLocked(tenant, id string) (*model.Workflow, error) {
	wf, ok := s.workflows[wfKey(tenant, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (s *MemoryStore) FindByRendererJob(_ context.Context, tenant, jobID string) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.renders[renderKey(tenant, jobID)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.getLocked(tenant, id)
}

func (s *MemoryStore) FindByEnhancerProject(_ context.Context, tenant, projectID string) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.enhances[enhanceKey(tenant, projectID)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.getLocked(tenant, id)
}

func (s *MemoryStore) ListByStatus(_ context.Context, tenant string, status model.Status, olderThan time.Duration, limit int) ([]*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	var out []*model.Workflow
	for _, wf := range s.workflows {
		if wf.Tenant != tenant || wf.Status != status {
			continue
		}
		if olderThan > 0 && wf.StatusChangedAt.After(cutoff) {
			continue
		}
		cp := *wf
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, tenant, id string, from, to model.Status, mutate func(*model.Workflow)) (*model.Workflow, error) {
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[wfKey(tenant, id)]
	if !ok {
		return nil, ErrNotFound
	}
	if wf.Status != from {
		return nil, ErrStaleStatus
	}
	if to == model.StatusPending && from == model.StatusFailed {
		// The failure released the seed claim; a newer workflow may hold it
		// now, in which case the restart would break seed uniqueness.
		sk := seedKey(tenant, wf.SeedRef)
		if holder, taken := s.seeds[sk]; taken && holder != id {
			return nil, ErrDuplicateSeed
		}
	}

	wf.Status = to
	wf.StatusChangedAt = s.now().UTC()
	if mutate != nil {
		mutate(wf)
	}

	if wf.RendererJobID != "" {
		s.renders[renderKey(tenant, wf.RendererJobID)] = id
	}
	if wf.EnhancerProjectID != "" {
		s.enhances[enhanceKey(tenant, wf.EnhancerProjectID)] = id
	}
	if to.Terminal() {
		delete(s.seeds, seedKey(tenant, wf.SeedRef))
	} else if to == model.StatusPending && from == model.StatusFailed {
		// Checked above; either unclaimed or already ours.
		s.seeds[seedKey(tenant, wf.SeedRef)] = id
	}

	cp := *wf
	return &cp, nil
}

func (s *MemoryStore) DailyCount(_ context.Context, tenant string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotas[quotaKey(tenant, day)], nil
}

func (s *MemoryStore) IncrDailyCount(_ context.Context, tenant string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := quotaKey(tenant, day)
	s.quotas[k]++
	return s.quotas[k], nil
}

func (s *MemoryStore) AcquireTickLock(_ context.Context, tenant string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tickLockKey(tenant)
	if exp, held := s.locks[k]; held && s.now().Before(exp) {
		return false, nil
	}
	s.locks[k] = s.now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) IncrAgentUsage(_ context.Context, tenant, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents[tenant] == nil {
		s.agents[tenant] = make(map[string]model.AgentUsage)
	}
	u := s.agents[tenant][agentID]
	u.AgentID = agentID
	u.UsageCount++
	u.LastUsedAt = at.UTC()
	s.agents[tenant][agentID] = u
	return nil
}

func (s *MemoryStore) AgentUsage(_ context.Context, tenant string) (map[string]model.AgentUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.AgentUsage, len(s.agents[tenant]))
	for id, u := range s.agents[tenant] {
		out[id] = u
	}
	return out, nil
}

func (s *MemoryStore) ResetAgentUsage(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, tenant)
	return nil
}
