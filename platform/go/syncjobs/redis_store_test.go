package syncjobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// mustTestRedis connects to the redis named by TEST_REDIS_ADDR; tests are
// skipped when it is not set.
func mustTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr, ok := os.LookupEnv("TEST_REDIS_ADDR")
	if !ok || addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis store tests")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisStoreRoundTrip(t *testing.T) {
	rdb := mustTestRedis(t)
	ctx := context.Background()

	store, err := NewRedisStore(rdb, time.Minute)
	require.NoError(t, err)

	tenantID := "tenant-" + uuid.NewString()[:8]
	job := Job{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Trigger:           TriggerManual,
		RequestedAt:       time.Now().UTC().Truncate(time.Second),
		Result:            ResultPartial,
		EntitiesProcessed: 4,
		Errors:            []string{"urn:ngsi-ld:Device:3: rejected by ERP"},
	}

	require.NoError(t, store.Save(ctx, job))

	got, err := store.Get(ctx, tenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.Result, got.Result)
	require.Equal(t, job.Errors, got.Errors)

	latest, err := store.Latest(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, job.ID, latest.ID)

	_, err = store.Get(ctx, tenantID, uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreRetentionTTL(t *testing.T) {
	rdb := mustTestRedis(t)
	ctx := context.Background()

	store, err := NewRedisStore(rdb, time.Second)
	require.NoError(t, err)

	tenantID := "tenant-" + uuid.NewString()[:8]
	job := Job{ID: uuid.NewString(), TenantID: tenantID, Trigger: TriggerScheduled, Result: ResultSuccess}
	require.NoError(t, store.Save(ctx, job))

	ttl, err := rdb.TTL(ctx, jobKey(tenantID, job.ID)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, time.Second)
}
