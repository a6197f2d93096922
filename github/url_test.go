package github

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseURL(t *testing.T) {
	testCases := map[string]struct {
		url      string
		expected Location
	}{
		"repository root": {
			url:      "https://github.com/octo/widgets",
			expected: Location{Owner: "octo", Repo: "widgets"},
		},
		"trailing slash and .git": {
			url:      "https://github.com/octo/widgets.git/",
			expected: Location{Owner: "octo", Repo: "widgets"},
		},
		"branch only": {
			url:      "https://github.com/octo/widgets/tree/main",
			expected: Location{Owner: "octo", Repo: "widgets", Ref: "main"},
		},
		"branch and nested folder": {
			url:      "https://github.com/octo/my.widgets/tree/v1.2.0/src/pkg/util/",
			expected: Location{Owner: "octo", Repo: "my.widgets", Ref: "v1.2.0", Path: "src/pkg/util"},
		},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			loc, err := ParseURL(tc.url)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, loc)
		})
	}
}

func Test_ParseURL_Invalid(t *testing.T) {
	testCases := map[string]string{
		"empty":                 "",
		"http scheme":           "http://github.com/octo/widgets",
		"other host":            "https://gitlab.com/octo/widgets",
		"owner only":            "https://github.com/octo",
		"name starts with dash": "https://github.com/-octo/widgets",
		"missing tree segment":  "https://github.com/octo/widgets/blob/main/a.go",
		"tree without ref":      "https://github.com/octo/widgets/tree",
		"ref with double dot":   "https://github.com/octo/widgets/tree/a..b/src",
		"ref with colon":        "https://github.com/octo/widgets/tree/a:b",
		"path with backslash":   `https://github.com/octo/widgets/tree/main/a\b`,
	}

	for scenario, url := range testCases {
		t.Run(scenario, func(t *testing.T) {
			_, err := ParseURL(url)
			assert.ErrorIs(t, err, ErrInvalidURL)
		})
	}
}

func Test_ValidTokenFormat(t *testing.T) {
	testCases := map[string]struct {
		token string
		valid bool
	}{
		"classic":            {"ghp_" + strings.Repeat("a", 36), true},
		"classic too short":  {"ghp_" + strings.Repeat("a", 20), false},
		"fine grained":       {"github_pat_" + strings.Repeat("B", 60), true},
		"fine grained short": {"github_pat_abc", false},
		"legacy hex":         {strings.Repeat("0a", 20), true},
		"legacy not hex":     {strings.Repeat("zz", 20), false},
		"surrounding spaces": {"  " + strings.Repeat("f", 40) + "\n", true},
		"garbage":            {"hunter2", false},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, tc.valid, ValidTokenFormat(tc.token))
		})
	}
}
