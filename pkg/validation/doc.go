// Package validation checks user-submitted input before any state is changed.
//
// # Overview
//
// Every mutating operation in the service collects field problems into a
// ValidationError and returns it before touching storage. The error carries
// one FieldError per problem so HTTP handlers can render them field by field.
//
// # Rules
//
// Role names:
//   - Trimmed, then matched against ^[a-z_]+$ exactly as submitted
//   - "Users_Admin" is rejected, not lowercased
//
// Permission names:
//   - Dot-namespaced lowercase segments (users.create, tenants.settings.update)
//
// Slugs, emails and setting keys have their own helpers.
//
// # Usage Example
//
//	v := validation.New()
//	name := v.RoleName("name", req.Name)
//	v.OneOf("guard_name", req.GuardName, "web", "api")
//	if err := v.Err(); err != nil {
//		return err
//	}
package validation
