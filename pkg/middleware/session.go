package middleware

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
	"github.com/platinummonkey/tenantadmin/pkg/httputil"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/session"
)

// Session loads the session named by the request cookie, starting a new
// one when the cookie is missing or the session has expired
func Session(store session.Store, cookie session.Cookie) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var sess session.Session
			if id, ok := cookie.Read(r); ok {
				loaded, err := store.Load(ctx, id)
				switch {
				case err == nil:
					sess = loaded
				case !errors.Is(err, session.ErrSessionNotFound):
					observability.FromContext(ctx).WithError(err).Error("failed to load session")
					httputil.WriteServiceUnavailable(w, "session store unavailable")
					return
				}
			}

			if sess == nil {
				created, err := store.New(ctx)
				if err != nil {
					observability.FromContext(ctx).WithError(err).Error("failed to create session")
					httputil.WriteServiceUnavailable(w, "session store unavailable")
					return
				}
				sess = created
				cookie.Write(w, sess)
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithSession(ctx, sess)))
		})
	}
}
