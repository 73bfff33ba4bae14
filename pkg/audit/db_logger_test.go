package audit

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventRowColumns = []string{
	"id", "created_at", "action", "status",
	"actor_id", "effective_user_id", "tenant_id",
	"target_type", "target_id",
	"ip_address", "user_agent", "request_id",
	"message", "metadata",
}

func newMockLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger, mock
}

func TestNewDBLogger_RequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}

func TestDBLogger_Log(t *testing.T) {
	logger, mock := newMockLogger(t)

	actor, effective, tenant := int64(1), int64(9), int64(3)
	event := &Event{
		Timestamp:       time.Now().UTC(),
		EventType:       EventTypeTenantSwitch,
		Status:          EventStatusSuccess,
		ActorID:         &actor,
		EffectiveUserID: &effective,
		TenantID:        &tenant,
		TargetType:      TargetTypeTenant,
		TargetID:        "3",
		Message:         "switched",
		Metadata:        map[string]interface{}{"from": float64(2)},
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO activity_log")).
		WithArgs(sqlmock.AnyArg(), "tenant.switch", "success",
			&actor, &effective, &tenant,
			"tenant", "3",
			"", "", "",
			"switched", `{"from":2}`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(77), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Log_NilMetadata(t *testing.T) {
	logger, mock := newMockLogger(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO activity_log")).
		WithArgs(sqlmock.AnyArg(), "auth.logout", "success",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"", "", "", "", "", "", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	err := logger.Log(context.Background(), &Event{EventType: EventTypeAuthLogout, Status: EventStatusSuccess})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Log_Error(t *testing.T) {
	logger, mock := newMockLogger(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO activity_log")).
		WillReturnError(errors.New("disk full"))

	err := logger.Log(context.Background(), &Event{EventType: EventTypeAuthLogin, Status: EventStatusFailure})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert activity event")
}

func TestDBLogger_Search(t *testing.T) {
	logger, mock := newMockLogger(t)
	now := time.Now().UTC()
	actor := int64(1)
	denied := EventStatusDenied

	rows := sqlmock.NewRows(eventRowColumns).
		AddRow(int64(5), now, "authz.access_denied", "denied",
			int64(1), int64(9), nil,
			"role", "2",
			"10.0.0.1", "curl", "req-1",
			"missing roles.view", []byte(`{"permission":"roles.view"}`))

	mock.ExpectQuery(`FROM activity_log\s+WHERE 1=1 AND actor_id = \$1 AND action = ANY\(\$2\) AND status = \$3 ORDER BY created_at DESC, id DESC LIMIT \$4 OFFSET \$5`).
		WithArgs(actor, sqlmock.AnyArg(), "denied", 100, 0).
		WillReturnRows(rows)

	events, err := logger.Search(context.Background(), SearchFilter{
		ActorID:    &actor,
		EventTypes: []EventType{EventTypeAccessDenied},
		Status:     &denied,
	})

	require.NoError(t, err)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, int64(5), e.ID)
	assert.Equal(t, EventTypeAccessDenied, e.EventType)
	require.NotNil(t, e.ActorID)
	assert.Equal(t, int64(1), *e.ActorID)
	assert.Nil(t, e.TenantID)
	assert.Equal(t, "roles.view", e.Metadata["permission"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Search_ClampsLimit(t *testing.T) {
	logger, mock := newMockLogger(t)

	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(100, 20).
		WillReturnRows(sqlmock.NewRows(eventRowColumns))

	events, err := logger.Search(context.Background(), SearchFilter{Limit: 5000, Offset: 20})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		logger, mock := newMockLogger(t)
		mock.ExpectQuery(`WHERE id = \$1`).
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows(eventRowColumns).
				AddRow(int64(8), time.Now(), "impersonation.take", "success",
					int64(1), int64(1), nil, "user", "4", "", "", "", "", nil))

		event, err := logger.Get(context.Background(), 8)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, EventTypeImpersonationTake, event.EventType)
		assert.Nil(t, event.Metadata)
	})

	t.Run("missing", func(t *testing.T) {
		logger, mock := newMockLogger(t)
		mock.ExpectQuery(`WHERE id = \$1`).
			WithArgs(int64(9)).
			WillReturnError(sql.ErrNoRows)

		event, err := logger.Get(context.Background(), 9)
		assert.NoError(t, err)
		assert.Nil(t, event)
	})
}

func TestDBLogger_DeleteOlderThan(t *testing.T) {
	logger, mock := newMockLogger(t)
	cutoff := time.Now().Add(-90 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM activity_log WHERE created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := logger.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
