// Package impersonation lets an administrator act as another user and return.
//
// A session is either Normal or Impersonating. Take moves Normal to
// Impersonating and Leave moves back; nesting is refused with
// auth.InvalidStateTransitionError. Every transition and every denied Take
// is written to the activity log with the original user as actor and the
// impersonated user as the effective user, so actions taken while
// impersonating stay attributable.
package impersonation
