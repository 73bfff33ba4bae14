package audit

import (
	"net/http"
)

// Middleware makes logger the request's activity log, so services record
// events through FromContext without holding a reference. A nil logger
// discards events.
func Middleware(logger Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithLogger(r.Context(), logger)))
		})
	}
}
