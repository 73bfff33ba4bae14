package rbac

import (
	"context"

	"github.com/platinummonkey/tenantadmin/pkg/audit"
	"github.com/platinummonkey/tenantadmin/pkg/auth"
)

// Invalidator drops cached grants after a mutation
type Invalidator interface {
	InvalidateUser(userID int64)
	InvalidateGrants()
}

// Service applies role and permission mutations, keeps the checker cache
// coherent and records each change in the activity log
type Service struct {
	store    *Store
	cache    Invalidator
	activity audit.Logger
}

// NewService creates a Service. cache and activity may be nil.
func NewService(store *Store, cache Invalidator, activity audit.Logger) *Service {
	if activity == nil {
		activity = audit.NopLogger()
	}
	return &Service{store: store, cache: cache, activity: activity}
}

// Store returns the underlying store for read operations
func (s *Service) Store() *Store {
	return s.store
}

// CreateRole creates a role with its initial permissions
func (s *Service) CreateRole(ctx context.Context, identity *auth.Identity, req CreateRoleRequest) (*Role, error) {
	role, err := s.store.CreateRole(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidateGrants()
	s.record(ctx, identity, audit.EventTypeRoleCreate, audit.TargetTypeRole, role.ID, nil)
	return role, nil
}

// UpdateRole renames or relabels a role
func (s *Service) UpdateRole(ctx context.Context, identity *auth.Identity, id int64, req UpdateRoleRequest) (*Role, error) {
	role, err := s.store.UpdateRole(ctx, id, req)
	if err != nil {
		return nil, err
	}
	s.invalidateGrants()
	s.record(ctx, identity, audit.EventTypeRoleUpdate, audit.TargetTypeRole, id, nil)
	return role, nil
}

// SyncPermissions replaces a role's permission set
func (s *Service) SyncPermissions(ctx context.Context, identity *auth.Identity, roleID int64, names []string) (*Role, error) {
	role, err := s.store.SyncPermissions(ctx, roleID, names)
	if err != nil {
		return nil, err
	}
	s.invalidateGrants()
	s.record(ctx, identity, audit.EventTypeRolePermissionsSync, audit.TargetTypeRole, roleID,
		map[string]interface{}{"permissions": role.Permissions})
	return role, nil
}

// DeleteRole deletes an unused role
func (s *Service) DeleteRole(ctx context.Context, identity *auth.Identity, id int64) error {
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidateGrants()
	s.record(ctx, identity, audit.EventTypeRoleDelete, audit.TargetTypeRole, id, nil)
	return nil
}

// CreatePermission registers a permission
func (s *Service) CreatePermission(ctx context.Context, identity *auth.Identity, req CreatePermissionRequest) (*Permission, error) {
	p, err := s.store.CreatePermission(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidateGrants()
	s.record(ctx, identity, audit.EventTypePermissionCreate, audit.TargetTypePermission, p.ID, nil)
	return p, nil
}

// AssignRole gives userID a role
func (s *Service) AssignRole(ctx context.Context, identity *auth.Identity, userID, roleID int64) error {
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidateUser(userID)
	s.record(ctx, identity, audit.EventTypeUserRoleAssign, audit.TargetTypeUser, userID,
		map[string]interface{}{"role_id": roleID})
	return nil
}

// RevokeRole removes a role from userID
func (s *Service) RevokeRole(ctx context.Context, identity *auth.Identity, userID, roleID int64) error {
	if err := s.store.RevokeRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidateUser(userID)
	s.record(ctx, identity, audit.EventTypeUserRoleRevoke, audit.TargetTypeUser, userID,
		map[string]interface{}{"role_id": roleID})
	return nil
}

// GivePermission grants a permission to userID directly
func (s *Service) GivePermission(ctx context.Context, identity *auth.Identity, userID int64, name, guard string) error {
	if err := s.store.GivePermission(ctx, userID, name, guard); err != nil {
		return err
	}
	s.invalidateUser(userID)
	s.record(ctx, identity, audit.EventTypeUserPermissionGrant, audit.TargetTypeUser, userID,
		map[string]interface{}{"permission": name})
	return nil
}

// RevokePermission removes a directly granted permission from userID
func (s *Service) RevokePermission(ctx context.Context, identity *auth.Identity, userID int64, name, guard string) error {
	if err := s.store.RevokePermission(ctx, userID, name, guard); err != nil {
		return err
	}
	s.invalidateUser(userID)
	s.record(ctx, identity, audit.EventTypeUserPermissionRevoke, audit.TargetTypeUser, userID,
		map[string]interface{}{"permission": name})
	return nil
}

func (s *Service) invalidateGrants() {
	if s.cache != nil {
		s.cache.InvalidateGrants()
	}
}

func (s *Service) invalidateUser(userID int64) {
	if s.cache != nil {
		s.cache.InvalidateUser(userID)
	}
}

func (s *Service) record(ctx context.Context, identity *auth.Identity, eventType audit.EventType, targetType audit.TargetType, targetID int64, metadata map[string]interface{}) {
	event := audit.NewEvent(ctx, identity, eventType, audit.EventStatusSuccess).WithTarget(targetType, targetID)
	for k, v := range metadata {
		event.WithMetadata(k, v)
	}
	audit.Record(ctx, s.activity, event)
}
