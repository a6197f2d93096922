// Package filter decides which repository files are downloaded.
package filter

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/docker/go-units"
	"github.com/moby/patternmatcher"
	"github.com/rs/zerolog"
)

// LargeFileThreshold is the size above which ExcludeLarge rejects a file.
const LargeFileThreshold int64 = 10 * 1024 * 1024

var binaryExtensions = setOf(
	// images
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".svg", ".ico", ".webp",
	// video
	".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".mkv", ".m4v",
	// audio
	".mp3", ".wav", ".flac", ".aac", ".ogg", ".wma", ".m4a",
	// archives
	".zip", ".rar", ".7z", ".tar", ".gz", ".bz2", ".xz", ".lzma",
	// documents
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".odt", ".ods", ".odp",
	// executables and libraries
	".exe", ".dll", ".so", ".dylib", ".bin", ".app", ".deb", ".rpm", ".msi",
	".o", ".obj", ".lib", ".a", ".class", ".pyc", ".pyo",
	// fonts
	".ttf", ".otf", ".woff", ".woff2", ".eot",
	// misc
	".db", ".sqlite", ".dat", ".cache", ".tmp", ".log", ".pid", ".lock",
)

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// Rules configures a Filter. Zero values disable the corresponding check.
type Rules struct {
	IncludeExtensions []string `yaml:"include_extensions"`
	ExcludeExtensions []string `yaml:"exclude_extensions"`
	IncludePatterns   []string `yaml:"include_patterns"`
	ExcludePatterns   []string `yaml:"exclude_patterns"`

	// MinSize and MaxSize are human sizes such as "512B", "10KB" or "2MiB".
	MinSize string `yaml:"min_size"`
	MaxSize string `yaml:"max_size"`

	ExcludeBinary bool `yaml:"exclude_binary"`
	ExcludeLarge  bool `yaml:"exclude_large_files"`
}

// Empty reports whether the rules accept every file.
func (r Rules) Empty() bool {
	return len(r.IncludeExtensions) == 0 && len(r.ExcludeExtensions) == 0 &&
		len(r.IncludePatterns) == 0 && len(r.ExcludePatterns) == 0 &&
		r.MinSize == "" && r.MaxSize == "" && !r.ExcludeBinary && !r.ExcludeLarge
}

// Filter is an immutable predicate over repository paths.
type Filter struct {
	includeExt []string
	excludeExt []string
	include    *patternmatcher.PatternMatcher
	exclude    *patternmatcher.PatternMatcher
	minSize    int64
	maxSize    int64

	excludeBinary bool
	excludeLarge  bool

	log zerolog.Logger
}

// New compiles rules into a Filter.
func New(rules Rules, log zerolog.Logger) (*Filter, error) {
	f := &Filter{
		includeExt:    normalizeExts(rules.IncludeExtensions),
		excludeExt:    normalizeExts(rules.ExcludeExtensions),
		minSize:       -1,
		maxSize:       -1,
		excludeBinary: rules.ExcludeBinary,
		excludeLarge:  rules.ExcludeLarge,
		log:           log.With().Str("component", "filter").Logger(),
	}

	var err error
	if f.include, err = compile(rules.IncludePatterns); err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	if f.exclude, err = compile(rules.ExcludePatterns); err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	if f.minSize, err = parseSize(rules.MinSize); err != nil {
		return nil, fmt.Errorf("min size: %w", err)
	}
	if f.maxSize, err = parseSize(rules.MaxSize); err != nil {
		return nil, fmt.Errorf("max size: %w", err)
	}
	if f.minSize >= 0 && f.maxSize >= 0 && f.minSize > f.maxSize {
		return nil, fmt.Errorf("min size %s is larger than max size %s", rules.MinSize, rules.MaxSize)
	}

	f.log.Debug().
		Int("include_patterns", len(rules.IncludePatterns)).
		Int("exclude_patterns", len(rules.ExcludePatterns)).
		Msg("file filter initialized")
	return f, nil
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// compile builds a matcher for dockerignore-style patterns. A pattern
// without a slash matches at any depth, like in .gitignore.
func compile(patterns []string) (*patternmatcher.PatternMatcher, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	norm := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		neg := strings.HasPrefix(p, "!")
		body := strings.TrimPrefix(p, "!")
		if !strings.Contains(body, "/") {
			body = "**/" + body
		}
		if neg {
			body = "!" + body
		}
		norm = append(norm, filepath.FromSlash(body))
	}
	return patternmatcher.New(norm)
}

func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1, nil
	}
	// "10KB" is decimal, "10KiB" is binary
	parse := units.FromHumanSize
	if strings.ContainsAny(s, "iI") {
		parse = units.RAMInBytes
	}
	n, err := parse(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return n, nil
}

func matches(pm *patternmatcher.PatternMatcher, p string) bool {
	if pm == nil {
		return false
	}
	ok, err := pm.MatchesOrParentMatches(filepath.FromSlash(p))
	return err == nil && ok
}

// Accept reports whether the file at repository path p with the given size
// should be downloaded. A negative size is unknown and passes size checks.
func (f *Filter) Accept(p string, size int64) bool {
	if f == nil {
		return true
	}

	ext := strings.ToLower(path.Ext(p))

	if len(f.includeExt) > 0 && !slices.Contains(f.includeExt, ext) {
		f.log.Debug().Str("path", p).Msg("file excluded by extension filter")
		return false
	}
	if slices.Contains(f.excludeExt, ext) {
		f.log.Debug().Str("path", p).Msg("file excluded by extension filter")
		return false
	}

	if f.include != nil && !matches(f.include, p) {
		f.log.Debug().Str("path", p).Msg("file excluded by pattern filter")
		return false
	}
	if matches(f.exclude, p) {
		f.log.Debug().Str("path", p).Msg("file excluded by pattern filter")
		return false
	}

	if size >= 0 {
		if (f.minSize >= 0 && size < f.minSize) || (f.maxSize >= 0 && size > f.maxSize) {
			f.log.Debug().Str("path", p).Int64("size", size).Msg("file excluded by size filter")
			return false
		}
	}

	if f.excludeBinary && (binaryExtensions[ext] || likelyBinaryName(p)) {
		f.log.Debug().Str("path", p).Msg("file excluded by binary filter")
		return false
	}

	if f.excludeLarge && size > LargeFileThreshold {
		f.log.Debug().Str("path", p).Int64("size", size).Msg("file excluded by large file filter")
		return false
	}

	return true
}

// likelyBinaryName reports extensionless files under bin-style directories.
func likelyBinaryName(p string) bool {
	if strings.Contains(path.Base(p), ".") {
		return false
	}
	for _, part := range strings.Split(path.Dir(p), "/") {
		switch part {
		case "bin", "sbin", "libexec":
			return true
		}
	}
	return false
}
