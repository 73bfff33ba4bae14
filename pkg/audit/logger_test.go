package audit

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantadmin/pkg/observability"
)

// recordingLogger keeps every event it receives
type recordingLogger struct {
	events []*Event
	err    error
	closed bool
}

func (l *recordingLogger) Log(ctx context.Context, event *Event) error {
	l.events = append(l.events, event)
	return l.err
}

func (l *recordingLogger) Close() error {
	l.closed = true
	return l.err
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	assert.NoError(t, logger.Log(context.Background(), &Event{}))
}

func TestMiddleware_InjectsLogger(t *testing.T) {
	rec := &recordingLogger{}
	var seen Logger

	handler := Middleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Same(t, rec, seen)
}

func TestRecord_SwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	ctx := observability.WithLogger(context.Background(), observability.NewLogger(observability.InfoLevel, &buf))
	rec := &recordingLogger{err: errors.New("insert failed")}

	assert.NotPanics(t, func() {
		Record(ctx, rec, &Event{EventType: EventTypeRoleDelete, Status: EventStatusSuccess})
	})
	assert.Len(t, rec.events, 1)
	assert.Contains(t, buf.String(), "failed to write activity log")
	assert.Contains(t, buf.String(), "authz.role_delete")

	assert.NotPanics(t, func() { Record(ctx, nil, &Event{}) })
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(observability.NewLogger(observability.InfoLevel, &buf))
	actor, effective := int64(1), int64(7)

	err := logger.Log(context.Background(), &Event{
		EventType:       EventTypeImpersonationTake,
		Status:          EventStatusSuccess,
		ActorID:         &actor,
		EffectiveUserID: &effective,
		TargetType:      TargetTypeUser,
		TargetID:        "7",
		Message:         "impersonation started",
	})

	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "impersonation started")
	assert.Contains(t, out, `"actor_id":1`)
	assert.Contains(t, out, `"effective_user_id":7`)
	assert.NoError(t, logger.Close())
}

func TestMultiLogger(t *testing.T) {
	failing := &recordingLogger{err: errors.New("first failed")}
	healthy := &recordingLogger{}
	multi := NewMultiLogger(failing, nil, healthy)

	err := multi.Log(context.Background(), &Event{EventType: EventTypeTenantCreate})

	assert.EqualError(t, err, "first failed")
	assert.Len(t, healthy.events, 1, "later loggers still receive the event")

	closeErr := multi.Close()
	assert.Error(t, closeErr)
	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)
}

func TestWithMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	rec := &recordingLogger{}
	logger := WithMetrics(rec, metrics)

	require.NoError(t, logger.Log(context.Background(), &Event{EventType: EventTypeTenantSwitch, Status: EventStatusDenied}))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActivityEventsTotal.WithLabelValues("tenant.switch", "denied")))
	assert.Len(t, rec.events, 1)
	assert.Same(t, rec, WithMetrics(rec, nil))
}
