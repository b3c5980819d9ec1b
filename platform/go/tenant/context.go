package tenant

import "context"

type ctxKey string

const idKey ctxKey = "NEKAZARI_TENANT_ID"

// WithID returns a derived context carrying the resolved tenant id.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, idKey, tenantID)
}

// FromContext extracts the tenant id and a boolean indicating presence.
func FromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(idKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
