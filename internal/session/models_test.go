package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrant_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		raw  string
		want Grant
	}{
		{`"admin"`, Grant{Kind: GrantString, Value: "admin"}},
		{`{"name":"editor"}`, Grant{Kind: GrantNamed, Value: "editor"}},
		{`{"key":"viewer"}`, Grant{Kind: GrantKeyed, Value: "viewer"}},
		{`{"name":"a","key":"b"}`, Grant{Kind: GrantNamed, Value: "a"}},
		{`{"name":42}`, Grant{}},
		{`{"label":"x"}`, Grant{}},
		{`42`, Grant{}},
		{`null`, Grant{}},
		{`true`, Grant{}},
		{`["admin"]`, Grant{}},
	}
	for _, tt := range tests {
		var g Grant
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &g), tt.raw)
		assert.Equal(t, tt.want, g, tt.raw)
	}
}

func TestNormalizeGrants_MixedShapes(t *testing.T) {
	var grants []Grant
	require.NoError(t, json.Unmarshal([]byte(`[{"name":"admin"},"editor",{"key":"viewer"},42]`), &grants))
	require.Equal(t, []string{"admin", "editor", "viewer"}, NormalizeGrants(grants))
}

func TestNormalizeGrants_DropsEmptyAndDuplicates(t *testing.T) {
	grants := []Grant{
		{Kind: GrantString, Value: "admin"},
		{Kind: GrantNamed, Value: "  "},
		{Kind: GrantKeyed, Value: "admin"},
		{Kind: GrantInvalid, Value: "ghost"},
		{Kind: GrantString, Value: "billing"},
	}
	require.Equal(t, []string{"admin", "billing"}, NormalizeGrants(grants))
	require.Empty(t, NormalizeGrants(nil))
}

func TestRawUser_Normalize(t *testing.T) {
	t.Run("numeric id and snake case names", func(t *testing.T) {
		var raw RawUser
		require.NoError(t, json.Unmarshal([]byte(`{
			"id": 17,
			"email": "ada@example.com",
			"first_name": "Ada",
			"last_name": "Lovelace",
			"roles": [{"name":"admin"}, 7],
			"permissions": ["invoices:read", {"key":"invoices:write"}]
		}`), &raw))

		u := raw.Normalize()
		require.Equal(t, "17", u.ID)
		require.Equal(t, "Ada", u.FirstName)
		require.Equal(t, "Lovelace", u.LastName)
		require.Equal(t, []string{"admin"}, u.Roles)
		require.True(t, u.HasPermission("invoices:write"))
		require.False(t, u.HasRole("editor"))
	})

	t.Run("string id and camel case names", func(t *testing.T) {
		var raw RawUser
		require.NoError(t, json.Unmarshal([]byte(`{"id":"u-1","email":"b@example.com","firstName":"Bo","lastName":"Li"}`), &raw))

		u := raw.Normalize()
		require.Equal(t, "u-1", u.ID)
		require.Equal(t, "Bo", u.FirstName)
		require.Equal(t, "Li", u.LastName)
		require.Empty(t, u.Roles)
	})
}

func TestUser_NilHelpers(t *testing.T) {
	var u *User
	require.False(t, u.HasRole("admin"))
	require.False(t, u.HasPermission("x"))
}
