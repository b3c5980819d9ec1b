package tenant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatabaseNameDeterministicAndSanitized(t *testing.T) {
	require.Equal(t, "nkz_odoo_tenant_1", DatabaseName("tenant-1"))
	require.Equal(t, DatabaseName("tenant-1"), DatabaseName("tenant-1"))
	require.Equal(t, "nkz_odoo_acme_farms", DatabaseName("Acme Farms"))
	require.NotEqual(t, DatabaseName("tenant-1"), DatabaseName("tenant-2"))
}

func TestInstanceURL(t *testing.T) {
	require.Equal(t, "https://tenant-1.odoo.nekazari.example", InstanceURL("tenant-1", "odoo.nekazari.example"))
}

func TestSubscriptionIDRoundTrip(t *testing.T) {
	id := SubscriptionID("tenant-1", "AgriParcel")
	require.Equal(t, "urn:ngsi-ld:Subscription:nkz-odoo-tenant-1-agriparcel", id)

	tenantID, ok := ParseSubscriptionID(id)
	require.True(t, ok)
	require.Equal(t, "tenant-1", tenantID)

	// Tenant ids containing dashes survive the round trip.
	tenantID, ok = ParseSubscriptionID(SubscriptionID("my-long-tenant", "Device"))
	require.True(t, ok)
	require.Equal(t, "my-long-tenant", tenantID)

	_, ok = ParseSubscriptionID("urn:ngsi-ld:Subscription:someone-elses")
	require.False(t, ok)
}
