package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSyncStatusStoreUpsertAndDegrade(t *testing.T) {
	pool := mustTestPool(t)
	ctx := context.Background()

	store, err := NewSyncStatusStore(pool)
	require.NoError(t, err)

	tenantID := "tenant-" + uuid.NewString()[:8]

	_, err = store.Get(ctx, tenantID)
	require.ErrorIs(t, err, ErrNotFound)

	at := time.Now().UTC()
	require.NoError(t, store.Upsert(ctx, SyncStatusRecord{
		TenantID:       tenantID,
		Status:         SyncStatusPartial,
		LastSync:       &at,
		EntitiesSynced: 4,
		Errors:         []string{"urn:ngsi-ld:Device:3: rejected by ERP"},
	}))

	got, err := store.Get(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, SyncStatusPartial, got.Status)
	require.Equal(t, 4, got.EntitiesSynced)
	require.Equal(t, []string{"urn:ngsi-ld:Device:3: rejected by ERP"}, got.Errors)
	require.NotNil(t, got.LastSync)

	require.NoError(t, store.MarkDegraded(ctx, tenantID, "subscription registration exhausted retries"))

	got, err = store.Get(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, SyncStatusDegraded, got.Status)
	// Counters from the last successful run survive the degradation flag.
	require.Equal(t, 4, got.EntitiesSynced)

	require.NoError(t, store.Delete(ctx, tenantID))
	_, err = store.Get(ctx, tenantID)
	require.ErrorIs(t, err, ErrNotFound)
}
