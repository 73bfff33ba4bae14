package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

var (
	// ErrSettingNotFound is returned when no setting matches a key
	ErrSettingNotFound = fmt.Errorf("setting %w", postgres.ErrNotFound)
	// ErrDecrypt is returned when an encrypted value cannot be opened
	ErrDecrypt = errors.New("failed to decrypt setting")
)

// Scope selects which table a setting lives in
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeUser   Scope = "user"
	ScopeTenant Scope = "tenant"
)

// ValueType describes how Value is interpreted
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeInteger ValueType = "integer"
	TypeBoolean ValueType = "boolean"
	TypeJSON    ValueType = "json"
)

// ValueTypes lists the valid value types
var ValueTypes = []string{string(TypeString), string(TypeInteger), string(TypeBoolean), string(TypeJSON)}

// DefaultGroup is used when a setting is saved without a group
const DefaultGroup = "general"

// Setting is a typed key/value pair. OwnerID is the user or tenant for
// scoped settings and zero for global ones. Value always holds plaintext;
// encryption happens in the store.
type Setting struct {
	ID          int64     `json:"id"`
	Scope       Scope     `json:"scope"`
	OwnerID     int64     `json:"owner_id,omitempty"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Type        ValueType `json:"type"`
	Group       string    `json:"group"`
	Description string    `json:"description"`
	IsPublic    bool      `json:"is_public"`
	IsEncrypted bool      `json:"is_encrypted"`
	IsEditable  bool      `json:"is_editable"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Bool parses a boolean setting
func (s *Setting) Bool() (bool, error) {
	return strconv.ParseBool(s.Value)
}

// Int parses an integer setting
func (s *Setting) Int() (int64, error) {
	return strconv.ParseInt(s.Value, 10, 64)
}

// Decode unmarshals a json setting into v
func (s *Setting) Decode(v interface{}) error {
	return json.Unmarshal([]byte(s.Value), v)
}

// Redacted returns a copy safe to list: encrypted values are blanked
func (s *Setting) Redacted() *Setting {
	out := *s
	if out.IsEncrypted {
		out.Value = ""
	}
	return &out
}

// validate normalizes s and checks it against its declared type
func (s *Setting) validate() error {
	v := validation.New()
	s.Key = v.SettingKey("key", s.Key)
	if s.Type == "" {
		s.Type = TypeString
	}
	v.OneOf("type", string(s.Type), ValueTypes...)
	if s.Group == "" {
		s.Group = DefaultGroup
	}
	v.MaxLength("group", s.Group, 100)

	switch s.Scope {
	case ScopeGlobal:
		s.OwnerID = 0
	case ScopeUser, ScopeTenant:
		if s.OwnerID <= 0 {
			v.Add("owner_id", validation.RuleRequired, "owner_id is required")
		}
	default:
		v.Add("scope", validation.RuleOneOf, "scope must be global, user or tenant")
	}

	var err error
	switch s.Type {
	case TypeInteger:
		_, err = s.Int()
	case TypeBoolean:
		_, err = s.Bool()
	case TypeJSON:
		if !json.Valid([]byte(s.Value)) {
			err = errors.New("invalid json")
		}
	}
	if err != nil {
		v.Add("value", validation.RuleFormat, fmt.Sprintf("value is not a valid %s", s.Type))
	}

	return v.Err()
}

// ListFilter narrows List results
type ListFilter struct {
	Group      string
	PublicOnly bool
}
