package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParseJSON decodes a single JSON value from the request body into dest
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("invalid JSON: request body is required")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON: unexpected data after the request object")
	}
	return nil
}

// ParseJSONOrError is ParseJSON that replies itself, 413 for a body over
// the MaxBytesMiddleware limit and 400 otherwise. Callers return when it
// reports false.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	err := ParseJSON(r, dest)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	WriteBadRequest(w, err.Error())
	return false
}

// ParsePathInt64 reads a numeric route variable such as {id} or {user_id}
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str, err := ParsePathString(r, key)
	if err != nil {
		return 0, err
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathInt64OrError is ParsePathInt64 that replies 400 itself
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return val, true
}

// ParsePathString reads a route variable
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// parseQuery converts the query parameter key with parse. An absent or
// empty parameter yields def.
func parseQuery[T any](r *http.Request, key, kind string, def T, parse func(string) (T, error)) (T, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return def, nil
	}
	val, err := parse(str)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("invalid %s for query param %s: %s", kind, key, str)
	}
	return val, nil
}

func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	return parseQuery(r, key, "integer", defaultVal, strconv.Atoi)
}

func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	return parseQuery(r, key, "boolean", defaultVal, strconv.ParseBool)
}

// ParseQueryInt64Ptr parses an optional ID filter such as tenant_id. An
// absent parameter yields nil.
func ParseQueryInt64Ptr(r *http.Request, key string) (*int64, error) {
	return parseQuery(r, key, "integer", (*int64)(nil), func(s string) (*int64, error) {
		v, err := strconv.ParseInt(s, 10, 64)
		return &v, err
	})
}

func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// Page holds limit/offset pagination parsed from the query string
type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads limit and offset. A non-positive limit becomes
// defaultLimit, a larger one is capped at maxLimit and a negative offset
// becomes 0.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) (Page, error) {
	limit, err := ParseQueryInt(r, "limit", defaultLimit)
	if err != nil {
		return Page{}, err
	}
	offset, err := ParseQueryInt(r, "offset", 0)
	if err != nil {
		return Page{}, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return Page{Limit: min(limit, maxLimit), Offset: max(offset, 0)}, nil
}
