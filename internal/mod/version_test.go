package mod

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersionConstraint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		raw     string
		accept  []string
		reject  []string
		wantErr bool
	}{
		{name: "major wildcard", input: "1.x", raw: "1.x", accept: []string{"1.0.0", "v1.99.5"}, reject: []string{"2.0.0", "0.9.9"}},
		{name: "spaced", input: " 2.x ", raw: "2.x", accept: []string{"2.3.4"}, reject: []string{"1.0.0"}},
		{name: "minor wildcard", input: "1.2.*", raw: "1.2.*", accept: []string{"1.2.7"}, reject: []string{"1.3.0"}},
		{name: "any", input: "*", raw: "*", accept: []string{"0.0.1", "abc"}},
		{name: "caret", input: "^1.2.0", raw: "^1.2.0", accept: []string{"1.2.0", "1.9.0"}, reject: []string{"1.1.9", "2.0.0"}},
		{name: "caret zero major", input: "^0.2.3", raw: "^0.2.3", accept: []string{"0.2.9"}, reject: []string{"0.3.0"}},
		{name: "tilde", input: "~1.2.0", raw: "~1.2.0", accept: []string{"1.2.5"}, reject: []string{"1.3.0"}},
		{name: "range", input: ">=1.0.0   <2.0.0", raw: ">=1.0.0 <2.0.0", accept: []string{"1.5.0"}, reject: []string{"2.0.0"}},
		{name: "alternatives", input: "1.x || >=3.0.0", raw: "1.x || >=3.0.0", accept: []string{"1.1.0", "3.2.0"}, reject: []string{"2.0.0"}},
		{name: "exact", input: "1.0.0", raw: "1.0.0", accept: []string{"1.0.0"}, reject: []string{"1.0.1"}},
		{name: "exact short", input: "==1.2", raw: "==1.2", accept: []string{"1.2.0"}, reject: []string{"1.2.1"}},
		{name: "invalid suffix", input: "1.y", wantErr: true},
		{name: "negative", input: "-1.x", wantErr: true},
		{name: "dangling operator", input: ">=", wantErr: true},
		{name: "empty alternative", input: "1.x ||", wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			constraint, err := ParseVersionConstraint(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				require.Nil(t, constraint)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.raw, constraint.String())
			for _, v := range tc.accept {
				require.True(t, constraint.Satisfies(v), "%s should satisfy %s", v, tc.input)
			}
			for _, v := range tc.reject {
				require.False(t, constraint.Satisfies(v), "%s should not satisfy %s", v, tc.input)
			}
		})
	}
}

func TestVersionConstraintSatisfiesEdgeCases(t *testing.T) {
	require.False(t, MustParseVersionConstraint("1.x").Satisfies("abc"))
	require.True(t, MustParseVersionConstraint("*").Any())

	var none *VersionConstraint
	require.True(t, none.Any())
	require.True(t, none.Satisfies("0.0.1"))
	require.Empty(t, none.String())
}

func TestMustParseVersionConstraintPanicsOnInvalid(t *testing.T) {
	require.Panics(t, func() {
		MustParseVersionConstraint("1.y")
	})
}
