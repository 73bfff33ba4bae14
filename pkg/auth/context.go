package auth

import (
	"context"

	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
)

// IdentityFromContext returns the identity resolved for the request, or nil
// for anonymous requests
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return identity
}

// UserFromContext returns the effective user of the request, or nil
func UserFromContext(ctx context.Context) *User {
	if identity := IdentityFromContext(ctx); identity != nil {
		return identity.User
	}
	return nil
}
