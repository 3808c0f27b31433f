package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajnasrah/viralflow/internal/model"
)

const (
	quotaTTL = 48 * time.Hour

	// maxCASRetries bounds optimistic-lock retries on contended workflows.
	maxCASRetries = 5
)

// RedisStore is the authoritative Store implementation. Workflow records are
// JSON values; status membership, renderer/enhancer lookups and seed claims
// are separate keys kept in sync inside WATCH/MULTI transactions.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func wfKey(tenant, id string) string {
	return fmt.Sprintf("wf:%s:%s", tenant, id)
}

func statusKey(tenant string, status model.Status) string {
	return fmt.Sprintf("wf:%s:status:%s", tenant, status)
}

func renderKey(tenant, jobID string) string {
	return fmt.Sprintf("wf:%s:render:%s", tenant, jobID)
}

func enhanceKey(tenant, projectID string) string {
	return fmt.Sprintf("wf:%s:enhance:%s", tenant, projectID)
}

func seedKey(tenant, seedRef string) string {
	return fmt.Sprintf("wf:%s:seed:%s", tenant, seedRef)
}

func quotaKey(tenant string, day time.Time) string {
	return fmt.Sprintf("quota:%s:%s", tenant, day.UTC().Format("2006-01-02"))
}

func agentsKey(tenant string) string {
	return fmt.Sprintf("agents:%s", tenant)
}

func tickLockKey(tenant string) string {
	return fmt.Sprintf("lock:tick:%s", tenant)
}

func (s *RedisStore) Create(ctx context.Context, wf *model.Workflow) error {
	// The seed claim is the uniqueness guard: SETNX wins exactly once while
	// another non-terminal workflow exists for the same seed.
	ok, err := s.client.SetNX(ctx, seedKey(wf.Tenant, wf.SeedRef), wf.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim seed: %w", err)
	}
	if !ok {
		return ErrDuplicateSeed
	}

	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, wfKey(wf.Tenant, wf.ID), data, 0)
	pipe.SAdd(ctx, statusKey(wf.Tenant, wf.Status), wf.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		// Release the claim so the seed is not wedged by a half-written record.
		s.client.Del(ctx, seedKey(wf.Tenant, wf.SeedRef))
		return fmt.Errorf("failed to persist workflow: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, tenant, id string) (*model.Workflow, error) {
	data, err := s.client.Get(ctx, wfKey(tenant, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	var wf model.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &wf, nil
}

func (s *RedisStore) FindByRendererJob(ctx context.Context, tenant, jobID string) (*model.Workflow, error) {
	return s.findByLookup(ctx, tenant, renderKey(tenant, jobID))
}

func (s *RedisStore) FindByEnhancerProject(ctx context.Context, tenant, projectID string) (*model.Workflow, error) {
	return s.findByLookup(ctx, tenant, enhanceKey(tenant, projectID))
}

func (s *RedisStore) findByLookup(ctx context.Context, tenant, key string) (*model.Workflow, error) {
	id, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lookup key: %w", err)
	}
	return s.Get(ctx, tenant, id)
}

func (s *RedisStore) ListByStatus(ctx context.Context, tenant string, status model.Status, olderThan time.Duration, limit int) ([]*model.Workflow, error) {
	ids, err := s.client.SMembers(ctx, statusKey(tenant, status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read status index: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	var out []*model.Workflow
	for _, id := range ids {
		wf, err := s.Get(ctx, tenant, id)
		if errors.Is(err, ErrNotFound) {
			// Stale index entry; drop it.
			s.client.SRem(ctx, statusKey(tenant, status), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if wf.Status != status {
			continue
		}
		if olderThan > 0 && wf.StatusChangedAt.After(cutoff) {
			continue
		}
		out = append(out, wf)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Transition(ctx context.Context, tenant, id string, from, to model.Status, mutate func(*model.Workflow)) (*model.Workflow, error) {
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	key := wfKey(tenant, id)
	var result *model.Workflow

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var wf model.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return fmt.Errorf("failed to unmarshal workflow: %w", err)
		}
		if wf.Status != from {
			return ErrStaleStatus
		}

		reclaimSeed := to == model.StatusPending && from == model.StatusFailed
		if reclaimSeed {
			// The failure released the seed claim; a newer workflow may hold
			// it now. Watching the claim key makes the re-claim race-free
			// against a concurrent Create.
			sk := seedKey(tenant, wf.SeedRef)
			if err := tx.Watch(ctx, sk).Err(); err != nil {
				return err
			}
			holder, err := tx.Get(ctx, sk).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && holder != id {
				return ErrDuplicateSeed
			}
		}

		wf.Status = to
		wf.StatusChangedAt = time.Now().UTC()
		if mutate != nil {
			mutate(&wf)
		}

		updated, err := json.Marshal(&wf)
		if err != nil {
			return fmt.Errorf("failed to marshal workflow: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.SRem(ctx, statusKey(tenant, from), id)
			pipe.SAdd(ctx, statusKey(tenant, to), id)
			if wf.RendererJobID != "" {
				pipe.Set(ctx, renderKey(tenant, wf.RendererJobID), id, 0)
			}
			if wf.EnhancerProjectID != "" {
				pipe.Set(ctx, enhanceKey(tenant, wf.EnhancerProjectID), id, 0)
			}
			if to.Terminal() {
				// Terminal workflows release the seed so a later attempt can
				// claim it again.
				pipe.Del(ctx, seedKey(tenant, wf.SeedRef))
			} else if reclaimSeed {
				pipe.Set(ctx, seedKey(tenant, wf.SeedRef), id, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = &wf
		return nil
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrStaleStatus
}

func (s *RedisStore) DailyCount(ctx context.Context, tenant string, day time.Time) (int, error) {
	n, err := s.client.Get(ctx, quotaKey(tenant, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return n, nil
}

func (s *RedisStore) IncrDailyCount(ctx context.Context, tenant string, day time.Time) (int, error) {
	key := quotaKey(tenant, day)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump quota counter: %w", err)
	}
	if n == 1 {
		s.client.Expire(ctx, key, quotaTTL)
	}
	return int(n), nil
}

func (s *RedisStore) AcquireTickLock(ctx context.Context, tenant string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, tickLockKey(tenant), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to take tick lock: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) IncrAgentUsage(ctx context.Context, tenant, agentID string, at time.Time) error {
	// Two hash fields per agent keep the increment a single atomic HINCRBY.
	key := agentsKey(tenant)
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, agentID+":count", 1)
	pipe.HSet(ctx, key, agentID+":last", at.UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bump agent usage: %w", err)
	}
	return nil
}

func (s *RedisStore) AgentUsage(ctx context.Context, tenant string) (map[string]model.AgentUsage, error) {
	entries, err := s.client.HGetAll(ctx, agentsKey(tenant)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent usage: %w", err)
	}
	out := make(map[string]model.AgentUsage)
	for field, raw := range entries {
		switch {
		case strings.HasSuffix(field, ":count"):
			id := strings.TrimSuffix(field, ":count")
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("corrupt usage counter for %s: %w", id, err)
			}
			u := out[id]
			u.AgentID = id
			u.UsageCount = n
			out[id] = u
		case strings.HasSuffix(field, ":last"):
			id := strings.TrimSuffix(field, ":last")
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("corrupt usage timestamp for %s: %w", id, err)
			}
			u := out[id]
			u.AgentID = id
			u.LastUsedAt = t
			out[id] = u
		}
	}
	return out, nil
}

func (s *RedisStore) ResetAgentUsage(ctx context.Context, tenant string) error {
	if err := s.client.Del(ctx, agentsKey(tenant)).Err(); err != nil {
		return fmt.Errorf("failed to reset agent usage: %w", err)
	}
	return nil
}
