package httpmiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// TenantHeader names the tenant a request acts for.
const TenantHeader = "X-Tenant-ID"

const maxTenantIDLen = 64

type tenantKey struct{}

// TenantFromContext returns the tenant stored by Tenant, or "".
func TenantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey{}).(string)
	return id
}

// WithTenant returns a copy of ctx scoped to tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// Tenant rejects requests without a valid X-Tenant-ID header with 400 and
// scopes the rest to that tenant.
func Tenant() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(TenantHeader))
			if !printableASCII(id, maxTenantIDLen) {
				WriteError(w, http.StatusBadRequest, "TENANT_REQUIRED", "X-Tenant-ID header is required")
				return
			}
			ctx := WithTenant(r.Context(), id)
			ctx = zctx.With(ctx, zap.String("tenant_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
