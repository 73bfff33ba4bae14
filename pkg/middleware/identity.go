package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/session"
)

// IdentityResolver turns a session into the users behind it
type IdentityResolver interface {
	Identity(ctx context.Context, sess session.Session) (*auth.Identity, error)
}

// Identity resolves the session's identity. Anonymous requests pass
// through without one; handlers decide whether that is acceptable.
// Requires Session.
func Identity(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess := session.FromContext(ctx)
			if sess == nil {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := resolver.Identity(ctx, sess)
			if err != nil {
				httputil.WriteServiceError(w, r, err)
				return
			}
			if identity != nil {
				ctx = contextkeys.WithIdentity(ctx, identity)
				ctx = observability.WithUserID(ctx, session.FormatID(identity.User.ID))
				if identity.IsImpersonating() {
					ctx = contextkeys.WithOriginalUserID(ctx, session.FormatID(identity.OriginalUser.ID))
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
