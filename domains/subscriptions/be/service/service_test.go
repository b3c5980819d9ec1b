package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nekazari/odoo-bridge/domains/subscriptions/be/service"
	"github.com/nekazari/odoo-bridge/platform/go/broker"
	"github.com/nekazari/odoo-bridge/platform/go/odoo"
)

type stubBroker struct {
	mu          sync.Mutex
	subs        map[string]broker.Subscription
	createCalls int
	deleteCalls int
	failCreates int // fail this many create calls before succeeding
}

func newStubBroker() *stubBroker {
	return &stubBroker{subs: make(map[string]broker.Subscription)}
}

func (b *stubBroker) Subscription(ctx context.Context, tenantID, id string) (broker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return broker.Subscription{}, fmt.Errorf("subscription %s: %w", id, broker.ErrNotFound)
	}
	return sub, nil
}

func (b *stubBroker) CreateSubscription(ctx context.Context, tenantID string, sub broker.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createCalls++
	if b.failCreates > 0 {
		b.failCreates--
		return errors.New("broker unavailable")
	}
	b.subs[sub.ID] = sub
	return nil
}

func (b *stubBroker) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteCalls++
	delete(b.subs, id)
	return nil
}

type stubMarker struct {
	mu     sync.Mutex
	causes []string
}

func (m *stubMarker) MarkDegraded(ctx context.Context, tenantID, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.causes = append(m.causes, cause)
	return nil
}

func newService(b *stubBroker, m *stubMarker) *service.Service {
	return service.New(b, m, service.Config{
		WebhookBaseURL: "https://bridge.nekazari.example",
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
	}, zap.NewNop())
}

func TestEnsureAllRegistersEveryType(t *testing.T) {
	b := newStubBroker()
	svc := newService(b, &stubMarker{})

	require.NoError(t, svc.EnsureAll(context.Background(), "tenant-1"))
	require.Len(t, b.subs, len(odoo.SyncedTypes()))

	sub, ok := b.subs["urn:ngsi-ld:Subscription:nkz-odoo-tenant-1-agriparcel"]
	require.True(t, ok)
	require.Equal(t, "AgriParcel", sub.Entities[0].Type)
	require.Equal(t, "https://bridge.nekazari.example/webhook/notifications", sub.Notification.Endpoint.URI)
}

func TestEnsureAllIsIdempotent(t *testing.T) {
	b := newStubBroker()
	svc := newService(b, &stubMarker{})

	require.NoError(t, svc.EnsureAll(context.Background(), "tenant-1"))
	created := b.createCalls

	// A second pass finds everything in shape and creates nothing.
	require.NoError(t, svc.EnsureAll(context.Background(), "tenant-1"))
	require.Equal(t, created, b.createCalls)
}

func TestEnsureReplacesDriftedSubscription(t *testing.T) {
	b := newStubBroker()
	svc := newService(b, &stubMarker{})

	id := "urn:ngsi-ld:Subscription:nkz-odoo-tenant-1-device"
	b.subs[id] = broker.Subscription{
		ID:       id,
		Entities: []broker.SubscriptionEntity{{Type: "Device"}},
		Notification: broker.NotificationParams{
			Endpoint: broker.Endpoint{URI: "https://old-host.example/hook"},
		},
	}

	require.NoError(t, svc.Ensure(context.Background(), "tenant-1", "Device"))
	require.Equal(t, 1, b.deleteCalls)
	require.Equal(t, "https://bridge.nekazari.example/webhook/notifications",
		b.subs[id].Notification.Endpoint.URI)
}

func TestEnsureRetriesTransientFailures(t *testing.T) {
	b := newStubBroker()
	b.failCreates = 2
	svc := newService(b, &stubMarker{})

	require.NoError(t, svc.Ensure(context.Background(), "tenant-1", "Device"))
	require.Equal(t, 3, b.createCalls)
}

func TestEnsureAllMarksDegradedOnExhaustion(t *testing.T) {
	b := newStubBroker()
	b.failCreates = 1000 // every attempt fails
	marker := &stubMarker{}
	svc := newService(b, marker)

	err := svc.EnsureAll(context.Background(), "tenant-1")
	require.Error(t, err)
	require.Len(t, marker.causes, 1)
	require.Contains(t, marker.causes[0], "subscriptions not established")
}

func TestTeardownAllDeletesEveryType(t *testing.T) {
	b := newStubBroker()
	svc := newService(b, &stubMarker{})

	require.NoError(t, svc.EnsureAll(context.Background(), "tenant-1"))
	require.NoError(t, svc.TeardownAll(context.Background(), "tenant-1"))
	require.Empty(t, b.subs)
}
