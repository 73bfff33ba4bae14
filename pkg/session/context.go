package session

import (
	"context"

	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
)

// FromContext returns the request's session, or nil when the session
// middleware did not run
func FromContext(ctx context.Context) Session {
	sess, _ := ctx.Value(contextkeys.SessionKey).(Session)
	return sess
}
