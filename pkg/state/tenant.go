package state

import (
	"context"
)

const (
	CurrentTenantId = "CurrentTenantId"
	CurrentUserIP   = "CurrentIP"
)

// CurrentTenant returns the tenant id set by the auth middleware, 0 when
// absent. Works with a *gin.Context as well.
func CurrentTenant(ctx context.Context) uint {
	value := ctx.Value(CurrentTenantId)
	if value == nil {
		return 0
	}

	tenantID, ok := value.(uint)
	if !ok {
		return 0
	}

	return tenantID
}

func SetCurrentTenant(ctx context.Context, tenantID uint) context.Context {
	return context.WithValue(ctx, CurrentTenantId, tenantID)
}
