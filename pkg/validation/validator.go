package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Rule identifiers attached to every FieldError.
const (
	RuleRequired = "required"
	RuleFormat   = "format"
	RuleMaxLen   = "max_length"
	RuleOneOf    = "one_of"
	RuleUnique   = "unique"
	RuleExists   = "exists"
	RuleInUse    = "in_use"
	RuleDistinct = "distinct"
	RuleReserved = "reserved"
)

// MaxNameLength is the column width of name-like fields.
const MaxNameLength = 255

var (
	roleNamePattern       = regexp.MustCompile(`^[a-z_]+$`)
	permissionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)
	slugPattern           = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	settingKeyPattern     = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)*$`)
)

// FieldError describes a single rejected field
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError collects field errors found before a mutation is attempted.
// A mutating operation that returns one has not changed any state.
type ValidationError struct {
	Errors []*FieldError `json:"errors"`
}

// New returns an empty ValidationError ready to collect field errors
func New() *ValidationError {
	return &ValidationError{}
}

// NewFieldError returns a ValidationError holding a single field error
func NewFieldError(field, rule, message string) *ValidationError {
	v := New()
	v.Add(field, rule, message)
	return v
}

// Add records a field error
func (v *ValidationError) Add(field, rule, message string) {
	v.Errors = append(v.Errors, &FieldError{Field: field, Rule: rule, Message: message})
}

// Valid reports whether no field errors were recorded
func (v *ValidationError) Valid() bool {
	return len(v.Errors) == 0
}

// Err returns v as an error, or nil when nothing was recorded
func (v *ValidationError) Err() error {
	if v.Valid() {
		return nil
	}
	return v
}

// Field returns the errors recorded for one field
func (v *ValidationError) Field(name string) []*FieldError {
	var out []*FieldError
	for _, fe := range v.Errors {
		if fe.Field == name {
			out = append(out, fe)
		}
	}
	return out
}

// Has reports whether field failed the given rule
func (v *ValidationError) Has(field, rule string) bool {
	for _, fe := range v.Field(field) {
		if fe.Rule == rule {
			return true
		}
	}
	return false
}

func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v.Errors))
	for _, fe := range v.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err wraps a ValidationError
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// AsValidationError extracts the ValidationError wrapped by err
func AsValidationError(err error) (*ValidationError, bool) {
	var v *ValidationError
	ok := errors.As(err, &v)
	return v, ok
}

// Required trims value and records an error when it is empty
func (v *ValidationError) Required(field, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		v.Add(field, RuleRequired, fmt.Sprintf("%s is required", field))
	}
	return value
}

// MaxLength records an error when value exceeds n bytes
func (v *ValidationError) MaxLength(field, value string, n int) {
	if len(value) > n {
		v.Add(field, RuleMaxLen, fmt.Sprintf("%s must not exceed %d characters", field, n))
	}
}

// OneOf records an error when value is not one of allowed
func (v *ValidationError) OneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, RuleOneOf, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// RoleName validates a role name and returns it trimmed.
//
// Names are matched exactly as submitted: "Users_Admin" is rejected rather
// than folded to "users_admin".
func (v *ValidationError) RoleName(field, value string) string {
	value = v.Required(field, value)
	if value == "" {
		return value
	}
	v.MaxLength(field, value, MaxNameLength)
	if !roleNamePattern.MatchString(value) {
		v.Add(field, RuleFormat, fmt.Sprintf("%s may only contain lowercase letters and underscores", field))
	}
	return value
}

// PermissionName validates a dot-namespaced permission name such as users.create
func (v *ValidationError) PermissionName(field, value string) string {
	value = v.Required(field, value)
	if value == "" {
		return value
	}
	v.MaxLength(field, value, MaxNameLength)
	if !permissionNamePattern.MatchString(value) {
		v.Add(field, RuleFormat, fmt.Sprintf("%s must be a dot-separated lowercase name such as users.create", field))
	}
	return value
}

// PermissionNames validates every entry and rejects duplicates. Nil and empty
// lists are valid.
func (v *ValidationError) PermissionNames(field string, values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for i, raw := range values {
		name := v.PermissionName(fmt.Sprintf("%s.%d", field, i), raw)
		if name == "" {
			continue
		}
		if seen[name] {
			v.Add(field, RuleDistinct, fmt.Sprintf("%s contains %q more than once", field, name))
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Email validates an address and returns it trimmed and lowercased
func (v *ValidationError) Email(field, value string) string {
	value = strings.ToLower(v.Required(field, value))
	if value == "" {
		return value
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.Add(field, RuleFormat, fmt.Sprintf("%s must be a valid email address", field))
	}
	return value
}

// Slug validates a URL slug
func (v *ValidationError) Slug(field, value string) string {
	value = v.Required(field, value)
	if value == "" {
		return value
	}
	v.MaxLength(field, value, MaxNameLength)
	if !slugPattern.MatchString(value) {
		v.Add(field, RuleFormat, fmt.Sprintf("%s may only contain lowercase letters, digits and single hyphens", field))
	}
	return value
}

// SettingKey validates a setting key such as mail.from_address
func (v *ValidationError) SettingKey(field, value string) string {
	value = v.Required(field, value)
	if value == "" {
		return value
	}
	v.MaxLength(field, value, MaxNameLength)
	if !settingKeyPattern.MatchString(value) {
		v.Add(field, RuleFormat, fmt.Sprintf("%s must be a lowercase dotted key", field))
	}
	return value
}
