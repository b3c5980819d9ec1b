package syncjobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sync jobs in redis. The retention window is enforced with
// key TTLs, so garbage collection is redis's job, not ours.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore builds a store; retention must be positive.
func NewRedisStore(rdb *redis.Client, retention time.Duration) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if retention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	return &RedisStore{rdb: rdb, retention: retention}, nil
}

func jobKey(tenantID, jobID string) string {
	return fmt.Sprintf("odoo-bridge:syncjob:%s:%s", tenantID, jobID)
}

func latestKey(tenantID string) string {
	return fmt.Sprintf("odoo-bridge:syncjob:%s:latest", tenantID)
}

// Save persists a job and points the tenant's "latest" marker at it.
func (s *RedisStore) Save(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode sync job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.TenantID, job.ID), payload, s.retention)
	pipe.Set(ctx, latestKey(job.TenantID), job.ID, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save sync job: %w", err)
	}
	return nil
}

// Get fetches one job by id.
func (s *RedisStore) Get(ctx context.Context, tenantID, jobID string) (Job, error) {
	payload, err := s.rdb.Get(ctx, jobKey(tenantID, jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get sync job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("decode sync job: %w", err)
	}
	return job, nil
}

// Latest fetches the most recently saved job for a tenant.
func (s *RedisStore) Latest(ctx context.Context, tenantID string) (Job, error) {
	jobID, err := s.rdb.Get(ctx, latestKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get latest sync job id: %w", err)
	}
	return s.Get(ctx, tenantID, jobID)
}
