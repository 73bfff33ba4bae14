// Package api assembles the tenant administration HTTP API.
//
// Server wires the request middleware (request ID, logging, session,
// identity, tenant context) in front of the handler groups exported by the
// domain packages: rbac, tenants, impersonation, settings, audit and sso.
// Password sign-in, sign-out and /me live here because they span sessions,
// identities and permissions.
//
//	server := api.NewServer(api.Dependencies{
//		Logger:        logger,
//		Sessions:      sessionStore,
//		Users:         users,
//		Checker:       checker,
//		Impersonation: impersonator,
//	})
//	http.ListenAndServe(":8080", server.Handler())
package api
