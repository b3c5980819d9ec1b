package tenant

import (
	"fmt"
	"strings"
)

// databasePrefix matches the naming convention the Odoo deployment filters on
// (dbfilter selects the database from the request subdomain).
const databasePrefix = "nkz_odoo_"

// DatabaseName derives the Odoo database name for a tenant. The result is
// deterministic for a given tenant id and unique across tenants.
func DatabaseName(tenantID string) string {
	return databasePrefix + sanitize(tenantID)
}

// InstanceURL builds the tenant-facing Odoo URL using the subdomain pattern.
func InstanceURL(tenantID, domain string) string {
	return fmt.Sprintf("https://%s.%s", tenantID, domain)
}

// SubscriptionID builds the context-broker subscription id for one tenant and
// entity type. The tenant id is recovered from this id when notifications
// arrive, so the format must stay in sync with ParseSubscriptionID.
func SubscriptionID(tenantID, entityType string) string {
	return fmt.Sprintf("urn:ngsi-ld:Subscription:nkz-odoo-%s-%s", tenantID, strings.ToLower(entityType))
}

// ParseSubscriptionID extracts the tenant id from a subscription id produced
// by SubscriptionID. Returns false when the id does not follow the scheme.
func ParseSubscriptionID(subscriptionID string) (string, bool) {
	parts := strings.Split(subscriptionID, ":")
	name := parts[len(parts)-1]
	if !strings.HasPrefix(name, "nkz-odoo-") {
		return "", false
	}
	name = strings.TrimPrefix(name, "nkz-odoo-")
	// The trailing segment is the lowercased entity type; everything before it
	// is the tenant id, which may itself contain dashes.
	idx := strings.LastIndex(name, "-")
	if idx <= 0 {
		return "", false
	}
	return name[:idx], true
}

// sanitize maps an opaque tenant id onto the character set PostgreSQL accepts
// in database names.
func sanitize(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
