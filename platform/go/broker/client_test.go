package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEntityFetchScopedToTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tenant-1", r.Header.Get(tenantHeader))
		switch r.URL.Path {
		case "/ngsi-ld/v1/entities/urn:ngsi-ld:AgriParcel:42":
			w.Header().Set("Content-Type", "application/ld+json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":   "urn:ngsi-ld:AgriParcel:42",
				"type": "AgriParcel",
				"name": map[string]any{"type": "Property", "value": "Field A"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	ctx := context.Background()

	entity, err := client.Entity(ctx, "tenant-1", "urn:ngsi-ld:AgriParcel:42")
	require.NoError(t, err)
	require.Equal(t, "AgriParcel", entity["type"])

	_, err = client.Entity(ctx, "tenant-1", "urn:ngsi-ld:AgriParcel:missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEntitiesByType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ngsi-ld/v1/entities", r.URL.Path)
		require.Equal(t, "Device", r.URL.Query().Get("type"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "urn:ngsi-ld:Device:1", "type": "Device"},
			{"id": "urn:ngsi-ld:Device:2", "type": "Device"},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())

	entities, err := client.EntitiesByType(context.Background(), "tenant-1", "Device")
	require.NoError(t, err)
	require.Len(t, entities, 2)
}

func TestSubscriptionLifecycle(t *testing.T) {
	existing := map[string]Subscription{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var sub Subscription
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
			if _, ok := existing[sub.ID]; ok {
				w.WriteHeader(http.StatusConflict)
				return
			}
			existing[sub.ID] = sub
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet:
			id := r.URL.Path[len("/ngsi-ld/v1/subscriptions/"):]
			sub, ok := existing[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(sub)
		case r.Method == http.MethodDelete:
			id := r.URL.Path[len("/ngsi-ld/v1/subscriptions/"):]
			if _, ok := existing[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(existing, id)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	ctx := context.Background()

	sub := Subscription{
		ID:       "urn:ngsi-ld:Subscription:nkz-odoo-tenant-1-device",
		Type:     "Subscription",
		Entities: []SubscriptionEntity{{Type: "Device"}},
		Notification: NotificationParams{
			Endpoint: Endpoint{URI: "http://odoo-bridge/webhook/notifications", Accept: "application/json"},
		},
	}

	require.NoError(t, client.CreateSubscription(ctx, "tenant-1", sub))
	// Re-registration hits 409 and is still success.
	require.NoError(t, client.CreateSubscription(ctx, "tenant-1", sub))

	got, err := client.Subscription(ctx, "tenant-1", sub.ID)
	require.NoError(t, err)
	require.Equal(t, sub.Entities, got.Entities)

	require.NoError(t, client.DeleteSubscription(ctx, "tenant-1", sub.ID))
	// Deleting an absent subscription is tolerated.
	require.NoError(t, client.DeleteSubscription(ctx, "tenant-1", sub.ID))

	_, err = client.Subscription(ctx, "tenant-1", sub.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
