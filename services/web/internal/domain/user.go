package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// Profile keys understood by User. Everything else is kept in Attributes.
const (
	keyID       = "id"
	keyEmail    = "email"
	keyName     = "name"
	keyUsername = "username"
	keyFullName = "full_name"
	keyPhone    = "phone_number"
	keyAddress  = "address"
	keyRole     = "role"

	// The auth service stores these under shorter names.
	aliasPhone    = "phone"
	aliasLocation = "location"
)

// canonicalKey maps alias profile keys to the keys User marshals.
func canonicalKey(k string) string {
	switch k {
	case aliasPhone:
		return keyPhone
	case aliasLocation:
		return keyAddress
	}
	return k
}

// User is an authenticated marketplace user. It is treated as a value: every
// update produces a new User rather than mutating an existing one.
type User struct {
	ID       string
	Email    string
	Name     string
	Username string
	Phone    string
	Location string
	Role     Role

	// Attributes holds backend profile fields without a typed counterpart.
	Attributes map[string]any
}

// NewUser synthesizes a user when the backend answers without a profile.
func NewUser(id, email, username, role string) User {
	u := User{
		ID:       id,
		Email:    email,
		Username: username,
		Role:     Role(role),
	}
	u.Name = u.displayName("")
	return u
}

// Normalized returns a copy of u with its role mapped to the canonical
// vocabulary.
func (u User) Normalized() User {
	u.Role = NormalizeRole(string(u.Role))
	u.Attributes = maps.Clone(u.Attributes)
	return u
}

// Merge returns a new user with the fields of partial laid over u. Fields in
// partial win. The role is normalized again so a raw backend role cannot leak
// into the session.
func (u User) Merge(partial map[string]any) (User, error) {
	base := u.fields()
	for k, v := range partial {
		base[canonicalKey(k)] = v
	}

	data, err := json.Marshal(base)
	if err != nil {
		return User{}, fmt.Errorf("marshal merged user: %w", err)
	}

	var merged User
	if err := json.Unmarshal(data, &merged); err != nil {
		return User{}, fmt.Errorf("unmarshal merged user: %w", err)
	}
	return merged.Normalized(), nil
}

// DashboardPath returns the dashboard route for the user's role.
func (u User) DashboardPath() string {
	return DashboardPath(NormalizeRole(string(u.Role)))
}

// HasRole reports whether the user's canonical role is one of roles.
func (u User) HasRole(roles ...Role) bool {
	role := NormalizeRole(string(u.Role))
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u User) displayName(fullName string) string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	case fullName != "":
		return fullName
	default:
		local, _, _ := strings.Cut(u.Email, "@")
		return local
	}
}

func (u User) fields() map[string]any {
	m := make(map[string]any, len(u.Attributes)+8)
	maps.Copy(m, u.Attributes)

	m[keyID] = u.ID
	m[keyEmail] = u.Email
	m[keyName] = u.Name
	m[keyRole] = string(u.Role)
	if u.Username != "" {
		m[keyUsername] = u.Username
	}
	if u.Phone != "" {
		m[keyPhone] = u.Phone
	}
	if u.Location != "" {
		m[keyAddress] = u.Location
	}
	return m
}

// MarshalJSON flattens Attributes next to the typed fields.
func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.fields())
}

// UnmarshalJSON accepts a backend profile. Numeric IDs are kept in their
// textual form and the role is kept as sent.
func (u *User) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("decode user: null profile")
	}

	var out User
	var fullName string
	var err error

	take := func(key string) string {
		v, ok := raw[key]
		if !ok {
			return ""
		}
		delete(raw, key)
		s, e := ScalarString(v)
		if e != nil && err == nil {
			err = fmt.Errorf("decode user field %q: %w", key, e)
		}
		return s
	}

	out.ID = take(keyID)
	out.Email = take(keyEmail)
	out.Name = take(keyName)
	out.Username = take(keyUsername)
	fullName = take(keyFullName)
	out.Phone = take(keyPhone)
	if alt := take(aliasPhone); out.Phone == "" {
		out.Phone = alt
	}
	out.Location = take(keyAddress)
	if alt := take(aliasLocation); out.Location == "" {
		out.Location = alt
	}
	out.Role = Role(take(keyRole))
	if err != nil {
		return err
	}

	out.Name = out.displayName(fullName)
	if fullName != "" && fullName != out.Name {
		raw[keyFullName], _ = json.Marshal(fullName)
	}

	if len(raw) > 0 {
		out.Attributes = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if e := json.Unmarshal(v, &val); e != nil {
				return fmt.Errorf("decode user field %q: %w", k, e)
			}
			out.Attributes[k] = val
		}
	}

	*u = out
	return nil
}

// ScalarString renders a JSON string, number or null as a Go string.
func ScalarString(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}

	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		return "", fmt.Errorf("expected scalar, got %s", string(v[:1]))
	}
}
