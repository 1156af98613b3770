package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParamSpecs(t *testing.T) {
	tests := map[string]struct {
		specs     []string
		expParams map[string]string
		expErr    bool
	}{
		"No params should return nil.": {
			specs:     nil,
			expParams: nil,
		},
		"KEY=VALUE should parse.": {
			specs:     []string{"branch=main", "mode=full"},
			expParams: map[string]string{"branch": "main", "mode": "full"},
		},
		"Values can contain equal signs.": {
			specs:     []string{"filter=a=b"},
			expParams: map[string]string{"filter": "a=b"},
		},
		"Empty values are allowed.": {
			specs:     []string{"note="},
			expParams: map[string]string{"note": ""},
		},
		"Later entries should override earlier ones.": {
			specs:     []string{"mode=one", "mode=two"},
			expParams: map[string]string{"mode": "two"},
		},
		"Missing equal sign should fail.": {
			specs:  []string{"branch"},
			expErr: true,
		},
		"Empty key should fail.": {
			specs:  []string{"=value"},
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			params, err := parseParamSpecs(tc.specs)

			if tc.expErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expParams, params)
		})
	}
}
