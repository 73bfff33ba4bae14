package httputil

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tenantadmin/pkg/auth"
	"github.com/platinummonkey/tenantadmin/pkg/observability"
	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

// StatusFor maps a service error to the HTTP status it is reported with
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case validation.IsValidationError(err):
		return http.StatusUnprocessableEntity
	case auth.IsAccessDenied(err):
		return http.StatusForbidden
	case auth.IsInvalidStateTransition(err):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrAccountInactive):
		return http.StatusUnauthorized
	case errors.Is(err, postgres.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes err with the status StatusFor assigns it.
// Unexpected errors are logged with the request logger and reported as a
// bare 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusUnprocessableEntity:
		v, _ := validation.AsValidationError(err)
		WriteValidationError(w, v)
	case http.StatusInternalServerError:
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
		WriteInternalError(w)
	default:
		WriteError(w, status, err)
	}
}
