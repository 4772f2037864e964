package session

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

// User is the normalized identity the rest of the client works with.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (u *User) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

func (u *User) HasPermission(permission string) bool {
	return u != nil && slices.Contains(u.Permissions, permission)
}

type GrantKind int

const (
	GrantInvalid GrantKind = iota
	GrantString
	GrantNamed
	GrantKeyed
)

// Grant is one role or permission entry as the backend sent it. Backends
// disagree on the shape: "admin", {"name":"admin"} and {"key":"admin"} all
// appear in the wild. Anything else decodes to GrantInvalid.
type Grant struct {
	Kind  GrantKind
	Value string
}

// UnmarshalJSON never fails; unrecognized shapes become GrantInvalid so a
// single bad entry cannot reject a whole profile.
func (g *Grant) UnmarshalJSON(data []byte) error {
	*g = Grant{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			*g = Grant{Kind: GrantString, Value: s}
		}
	case '{':
		var obj struct {
			Name *string `json:"name"`
			Key  *string `json:"key"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		switch {
		case obj.Name != nil:
			*g = Grant{Kind: GrantNamed, Value: *obj.Name}
		case obj.Key != nil:
			*g = Grant{Kind: GrantKeyed, Value: *obj.Key}
		}
	}
	return nil
}

// NormalizeGrants reduces grants to their names, dropping invalid and empty
// entries and duplicates while keeping first-seen order.
func NormalizeGrants(grants []Grant) []string {
	out := make([]string, 0, len(grants))
	seen := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if g.Kind == GrantInvalid {
			continue
		}
		v := strings.TrimSpace(g.Value)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// RawUser is the profile payload as the backend returns it.
type RawUser struct {
	ID          json.RawMessage `json:"id"`
	Email       string          `json:"email"`
	FirstName   string          `json:"first_name"`
	FirstNameJS string          `json:"firstName"`
	LastName    string          `json:"last_name"`
	LastNameJS  string          `json:"lastName"`
	Roles       []Grant         `json:"roles"`
	Permissions []Grant         `json:"permissions"`
}

// Normalize converts the backend payload into a User. Numeric and string ids
// are both accepted.
func (r RawUser) Normalize() User {
	return User{
		ID:          rawID(r.ID),
		Email:       r.Email,
		FirstName:   firstNonEmpty(r.FirstName, r.FirstNameJS),
		LastName:    firstNonEmpty(r.LastName, r.LastNameJS),
		Roles:       NormalizeGrants(r.Roles),
		Permissions: NormalizeGrants(r.Permissions),
	}
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
