package definitions_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportdeck/reportd/pkg/definitions"
)

func TestParseParameterList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []definitions.ParameterSpec
	}{
		{
			name: "bare strings",
			raw:  `["p_from", "p_to"]`,
			want: []definitions.ParameterSpec{
				{Name: "p_from"},
				{Name: "p_to"},
			},
		},
		{
			name: "mixed bare and structured, order preserved",
			raw: `[
				{"name":"p_city","values_query":"SELECT DISTINCT city FROM tenants ORDER BY city"},
				"p_tenant"
			]`,
			want: []definitions.ParameterSpec{
				{Name: "p_city", ValuesQuery: "SELECT DISTINCT city FROM tenants ORDER BY city"},
				{Name: "p_tenant"},
			},
		},
		{
			name: "legacy name keys",
			raw:  `[{"param":"p_a"},{"parameter":"p_b"}]`,
			want: []definitions.ParameterSpec{
				{Name: "p_a"},
				{Name: "p_b"},
			},
		},
		{
			name: "malformed json degrades to empty",
			raw:  `{"not": "a list"`,
			want: nil,
		},
		{
			name: "non-list json degrades to empty",
			raw:  `"p_lonely"`,
			want: nil,
		},
		{
			name: "empty string",
			raw:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, definitions.ParseParameterList(tt.raw))
		})
	}
}

func TestEncodeParameterList_RoundTrip(t *testing.T) {
	params := []definitions.ParameterSpec{
		{Name: "p_city", ValuesQuery: "SELECT city FROM tenants"},
		{Name: "p_plain"},
	}

	encoded, err := definitions.EncodeParameterList(params)
	require.NoError(t, err)

	// Bare parameters serialize back to the compact string form.
	var generic []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(encoded), &generic))
	require.Len(t, generic, 2)
	assert.JSONEq(t, `"p_plain"`, string(generic[1]))

	assert.Equal(t, params, definitions.ParseParameterList(encoded))
}

func TestEncodeParameterList_NilIsEmptyList(t *testing.T) {
	encoded, err := definitions.EncodeParameterList(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", encoded)
}

func TestParameterNames(t *testing.T) {
	params := []definitions.ParameterSpec{
		{Name: "b"}, {Name: "a"},
	}

	assert.Equal(t, []string{"b", "a"}, definitions.ParameterNames(params))
}
