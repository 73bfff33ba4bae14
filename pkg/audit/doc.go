// Package audit records the activity log: who did what, as whom, in which
// tenant.
//
// Every event carries two user IDs. ActorID is the human responsible and
// stays the original super admin for the whole impersonation session;
// EffectiveUserID is the identity the request acted as. Queries by either
// column are indexed.
//
// Events are written through a Logger. DBLogger persists to the
// activity_log table and also serves the read API; StructuredLogger
// mirrors events into the application log; MultiLogger fans out to both.
//
//	logger := audit.NewMultiLogger(dbLogger, audit.NewStructuredLogger(appLogger))
//	audit.Record(ctx, logger, audit.NewEvent(ctx, identity, audit.EventTypeTenantSwitch, audit.EventStatusSuccess).
//		WithTenant(tenant.ID).
//		WithTarget(audit.TargetTypeTenant, tenant.ID))
//
// Record never fails the caller. A write error is logged and dropped.
package audit
