// Package httputil provides the JSON request/response helpers and generic
// middleware shared by every handler package.
//
// # Errors
//
// Service errors are mapped to statuses in one place:
//
//	if err != nil {
//		httputil.WriteServiceError(w, r, err)
//		return
//	}
//
// Validation failures become 422 with the field list, access denials 403,
// invalid state transitions 409 and anything wrapping postgres.ErrNotFound
// 404. Everything else is logged and reported as a bare 500.
//
// # Request Parsing
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	page, err := httputil.ParsePage(r, 50, 200)
//
// # Middleware
//
//	router.Use(httputil.RecoveryMiddleware)
//	router.Use(httputil.LoggingMiddleware(logger))
//	router.Use(httputil.MaxBytesMiddleware(1 << 20))
//	router.Use(httputil.ContentTypeMiddleware)
package httputil
