// Package auth provides the identity store for tenantadmin.
//
// # Overview
//
// A User has an account class (Type) and a lifecycle state (Status) that are
// independent of roles. super_admin accounts bypass every permission check;
// only active, non-deleted users may sign in.
//
//	user := &auth.User{
//		Name:  "Jane Doe",
//		Email: "jane@example.com",
//		Type:  auth.UserTypeAdmin,
//	}
//	user.PasswordHash, _ = auth.HashPassword(password)
//	err := store.Create(ctx, user)
//
// # Identity
//
// An Identity pairs the effective user with the original user while an
// administrator is impersonating someone. Actor returns the human who is
// responsible for the request and is what the activity log records.
//
// # Errors
//
// AccessDeniedError and InvalidStateTransitionError are shared by every
// package that enforces authorization or a state machine. Use IsAccessDenied
// and IsInvalidStateTransition to match them through wrapping.
package auth
