package tenant

import (
	"context"
	"errors"
	"strings"
)

// ErrNoTenant indicates an operation was invoked without a tenant in context.
var ErrNoTenant = errors.New("tenant: missing tenant key")

type tenantContextKey struct{}

// WithTenant attaches the tenant key to the context. Every engine operation
// is scoped to exactly one tenant; there is no ambient default.
func WithTenant(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantContextKey{}, key)
}

// FromContext extracts the tenant key from the context.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tenantContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Require returns the tenant key or ErrNoTenant.
func Require(ctx context.Context) (string, error) {
	key, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoTenant
	}
	return key, nil
}
