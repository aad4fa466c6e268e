package tenancy

import "context"

type ctxKey string

const integrationKey ctxKey = "scheduling.integration_id"

// WithIntegrationID stores the integration id in context.
func WithIntegrationID(ctx context.Context, integrationID string) context.Context {
	return context.WithValue(ctx, integrationKey, integrationID)
}

// IntegrationIDFromContext extracts the integration id if present.
func IntegrationIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(integrationKey)
	if val == nil {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}
