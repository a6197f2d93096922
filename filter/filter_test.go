package filter

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Filter_Accept(t *testing.T) {
	testCases := map[string]struct {
		rules    Rules
		path     string
		size     int64
		expected bool
	}{
		"no rules accepts everything": {
			path: "src/main.go", size: 10, expected: true,
		},
		"include extension match": {
			rules: Rules{IncludeExtensions: []string{"go", ".MD"}},
			path:  "docs/README.md", size: 10, expected: true,
		},
		"include extension miss": {
			rules: Rules{IncludeExtensions: []string{".go"}},
			path:  "docs/README.md", size: 10, expected: false,
		},
		"exclude extension": {
			rules: Rules{ExcludeExtensions: []string{".lock"}},
			path:  "yarn.lock", size: 10, expected: false,
		},
		"include pattern at any depth": {
			rules: Rules{IncludePatterns: []string{"*.py"}},
			path:  "pkg/sub/mod.py", size: 10, expected: true,
		},
		"include directory pattern": {
			rules: Rules{IncludePatterns: []string{"docs/**"}},
			path:  "docs/guide/intro.md", size: 10, expected: true,
		},
		"include directory pattern miss": {
			rules: Rules{IncludePatterns: []string{"docs/**"}},
			path:  "src/docs.go", size: 10, expected: false,
		},
		"exclude pattern": {
			rules: Rules{ExcludePatterns: []string{"**/testdata/**"}},
			path:  "pkg/testdata/golden.txt", size: 10, expected: false,
		},
		"exclude pattern with negation": {
			rules: Rules{ExcludePatterns: []string{"*.txt", "!keep.txt"}},
			path:  "a/keep.txt", size: 10, expected: true,
		},
		"below min size": {
			rules: Rules{MinSize: "1KB"},
			path:  "a.go", size: 999, expected: false,
		},
		"above max size": {
			rules: Rules{MaxSize: "1KiB"},
			path:  "a.go", size: 1025, expected: false,
		},
		"unknown size passes size checks": {
			rules: Rules{MinSize: "1KB", ExcludeLarge: true},
			path:  "a.go", size: -1, expected: true,
		},
		"binary extension": {
			rules: Rules{ExcludeBinary: true},
			path:  "assets/logo.PNG", size: 10, expected: false,
		},
		"extensionless file under bin": {
			rules: Rules{ExcludeBinary: true},
			path:  "tools/bin/runner", size: 10, expected: false,
		},
		"text file with binary filter": {
			rules: Rules{ExcludeBinary: true},
			path:  "bin/run.sh", size: 10, expected: true,
		},
		"large file": {
			rules: Rules{ExcludeLarge: true},
			path:  "data.csv", size: LargeFileThreshold + 1, expected: false,
		},
		"exactly at large threshold": {
			rules: Rules{ExcludeLarge: true},
			path:  "data.csv", size: LargeFileThreshold, expected: true,
		},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			f, err := New(tc.rules, zerolog.Nop())
			require.NoError(t, err)
			assert.Equal(t, tc.expected, f.Accept(tc.path, tc.size))
		})
	}
}

func Test_New_InvalidRules(t *testing.T) {
	testCases := map[string]Rules{
		"bad pattern":         {IncludePatterns: []string{"[a-"}},
		"bad size":            {MinSize: "ten"},
		"min larger than max": {MinSize: "2MB", MaxSize: "1MB"},
	}

	for scenario, rules := range testCases {
		t.Run(scenario, func(t *testing.T) {
			_, err := New(rules, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func Test_Filter_NilAcceptsAll(t *testing.T) {
	var f *Filter
	assert.True(t, f.Accept("anything", 1))
}

func Test_Rules_Empty(t *testing.T) {
	assert.True(t, Rules{}.Empty())
	assert.False(t, Rules{ExcludeBinary: true}.Empty())
}
