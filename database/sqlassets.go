package sqlassets

import _ "embed"

//go:embed schema/platform/tenants.sql
var TenantsSQL string

//go:embed schema/platform/entity_mappings.sql
var EntityMappingsSQL string

//go:embed schema/platform/sync_status.sql
var SyncStatusSQL string

// All returns the platform DDL in dependency order. Every statement is
// idempotent so multiple instances can race on startup.
func All() []string {
	return []string{TenantsSQL, EntityMappingsSQL, SyncStatusSQL}
}
