package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", validation.NewFieldError("name", validation.RuleRequired, "required"), http.StatusUnprocessableEntity},
		{"wrapped validation", fmt.Errorf("create: %w", validation.NewFieldError("x", validation.RuleFormat, "bad")), http.StatusUnprocessableEntity},
		{"access denied", &auth.AccessDeniedError{UserID: 1, Permission: "roles.view"}, http.StatusForbidden},
		{"state transition", &auth.InvalidStateTransitionError{State: "impersonating", Action: "impersonate"}, http.StatusConflict},
		{"credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{"not found", fmt.Errorf("%w: 7", auth.ErrUserNotFound), http.StatusNotFound},
		{"bare not found", postgres.ErrNotFound, http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	t.Run("validation writes fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/roles", nil)

		WriteServiceError(w, r, validation.NewFieldError("name", validation.RuleUnique, "taken"))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), `"rule":"unique"`)
	})

	t.Run("internal error hides message", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/roles", nil)

		WriteServiceError(w, r, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})

	t.Run("access denied echoes reason", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/roles", nil)

		WriteServiceError(w, r, &auth.AccessDeniedError{Permission: "roles.view"})

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "roles.view")
	})
}
