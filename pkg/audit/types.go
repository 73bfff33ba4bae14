package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/contextkeys"
)

// EventType represents the category of activity event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLogout      EventType = "auth.logout"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"

	// Impersonation events
	EventTypeImpersonationTake  EventType = "impersonation.take"
	EventTypeImpersonationLeave EventType = "impersonation.leave"

	// Authorization events
	EventTypeAccessDenied         EventType = "authz.access_denied"
	EventTypeRoleCreate           EventType = "authz.role_create"
	EventTypeRoleUpdate           EventType = "authz.role_update"
	EventTypeRoleDelete           EventType = "authz.role_delete"
	EventTypeRolePermissionsSync  EventType = "authz.role_permissions_sync"
	EventTypePermissionCreate     EventType = "authz.permission_create"
	EventTypeUserRoleAssign       EventType = "authz.user_role_assign"
	EventTypeUserRoleRevoke       EventType = "authz.user_role_revoke"
	EventTypeUserPermissionGrant  EventType = "authz.user_permission_grant"
	EventTypeUserPermissionRevoke EventType = "authz.user_permission_revoke"

	// Tenant events
	EventTypeTenantSwitch       EventType = "tenant.switch"
	EventTypeTenantCreate       EventType = "tenant.create"
	EventTypeTenantUpdate       EventType = "tenant.update"
	EventTypeTenantSuspend      EventType = "tenant.suspend"
	EventTypeTenantActivate     EventType = "tenant.activate"
	EventTypeTenantDelete       EventType = "tenant.delete"
	EventTypeTenantMemberAdd    EventType = "tenant.member_add"
	EventTypeTenantMemberUpdate EventType = "tenant.member_update"
	EventTypeTenantMemberRemove EventType = "tenant.member_remove"
	EventTypeTenantInvite       EventType = "tenant.invite"
	EventTypeTenantInviteAccept EventType = "tenant.invite_accept"

	// Settings events
	EventTypeSettingUpdate EventType = "settings.update"
	EventTypeSettingDelete EventType = "settings.delete"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// TargetType represents the kind of record an event acted on
type TargetType string

const (
	TargetTypeUser       TargetType = "user"
	TargetTypeTenant     TargetType = "tenant"
	TargetTypeMembership TargetType = "membership"
	TargetTypeRole       TargetType = "role"
	TargetTypePermission TargetType = "permission"
	TargetTypeSetting    TargetType = "setting"
)

// Event is a single activity log entry.
//
// ActorID is the human responsible (the original user while impersonating);
// EffectiveUserID is the user the request acted as.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	ActorID         *int64 `json:"actor_id,omitempty"`
	EffectiveUserID *int64 `json:"effective_user_id,omitempty"`
	TenantID        *int64 `json:"tenant_id,omitempty"`

	TargetType TargetType `json:"target_type,omitempty"`
	TargetID   string     `json:"target_id,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent builds an event for identity with request details taken from ctx
func NewEvent(ctx context.Context, identity *auth.Identity, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		IPAddress: contextkeys.GetClientIP(ctx),
		UserAgent: contextkeys.GetUserAgent(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
	}

	if identity != nil {
		if actor := identity.Actor(); actor != nil {
			id := actor.ID
			event.ActorID = &id
		}
		if identity.User != nil {
			id := identity.User.ID
			event.EffectiveUserID = &id
		}
	}

	return event
}

// WithTarget sets the record the event acted on
func (e *Event) WithTarget(targetType TargetType, id int64) *Event {
	e.TargetType = targetType
	e.TargetID = strconv.FormatInt(id, 10)
	return e
}

// WithTargetName sets a target identified by name rather than ID
func (e *Event) WithTargetName(targetType TargetType, name string) *Event {
	e.TargetType = targetType
	e.TargetID = name
	return e
}

// WithTenant records the tenant context of the event
func (e *Event) WithTenant(tenantID int64) *Event {
	e.TenantID = &tenantID
	return e
}

// WithMessage sets the human-readable description
func (e *Event) WithMessage(message string) *Event {
	e.Message = message
	return e
}

// WithMetadata adds a metadata entry
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ToJSON converts the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for searching the activity log
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Actor filters
	ActorID         *int64
	EffectiveUserID *int64
	TenantID        *int64

	// Event filters
	EventTypes []EventType
	Status     *EventStatus

	// Target filters
	TargetType TargetType
	TargetID   string

	// Pagination
	Limit  int
	Offset int
}
