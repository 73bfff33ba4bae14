package audit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantadmin/pkg/httputil"
)

// Handlers provides HTTP handlers for the activity log API
type Handlers struct {
	store Store
}

// NewHandlers creates new activity log handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers activity log routes. Callers guard the router
// with the activity.view permission.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/activity", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/activity/{id:[0-9]+}", h.getEvent).Methods(http.MethodGet)
}

// listEvents handles GET /activity
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []*Event{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEvent handles GET /activity/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if event == nil {
		httputil.WriteNotFoundError(w, "activity event not found")
		return
	}

	httputil.WriteSuccess(w, event)
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	var filter SearchFilter
	var err error

	page, err := httputil.ParsePage(r, 100, 1000)
	if err != nil {
		return filter, err
	}
	filter.Limit = page.Limit
	filter.Offset = page.Offset

	if filter.ActorID, err = httputil.ParseQueryInt64Ptr(r, "actor_id"); err != nil {
		return filter, err
	}
	if filter.EffectiveUserID, err = httputil.ParseQueryInt64Ptr(r, "effective_user_id"); err != nil {
		return filter, err
	}
	if filter.TenantID, err = httputil.ParseQueryInt64Ptr(r, "tenant_id"); err != nil {
		return filter, err
	}

	if filter.StartTime, err = parseTime(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTime(r, "end_time"); err != nil {
		return filter, err
	}

	if types := httputil.ParseQueryString(r, "event_type", ""); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, EventType(t))
			}
		}
	}

	if status := httputil.ParseQueryString(r, "status", ""); status != "" {
		s := EventStatus(status)
		switch s {
		case EventStatusSuccess, EventStatusFailure, EventStatusDenied:
			filter.Status = &s
		default:
			return filter, fmt.Errorf("invalid status: %s", status)
		}
	}

	filter.TargetType = TargetType(httputil.ParseQueryString(r, "target_type", ""))
	filter.TargetID = httputil.ParseQueryString(r, "target_id", "")

	return filter, nil
}

func parseTime(r *http.Request, key string) (*time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return nil, fmt.Errorf("invalid RFC3339 time for %s: %s", key, str)
	}
	return &t, nil
}
