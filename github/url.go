package github

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const urlPrefix = "https://github.com/"

var ErrInvalidURL = errors.New("invalid github url")

// owner and repository names start and end with an alphanumeric
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

var (
	legacyToken = regexp.MustCompile(`^[a-fA-F0-9]{40}$`)
	badRefParts = []string{" ", "~", "^", ":", "?", "*", "[", "\\", ".."}
	badPathPart = []string{"..", "./", "\\", "\x00"}
)

// Location is a parsed folder URL.
type Location struct {
	Owner string
	Repo  string
	// Ref is empty when the URL names no branch or tag.
	Ref  string
	Path string
}

func (l Location) FullName() string {
	return l.Owner + "/" + l.Repo
}

// ParseURL parses https://github.com/{owner}/{repo}[/tree/{ref}[/{path}]].
func ParseURL(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("%w: url cannot be empty", ErrInvalidURL)
	}

	raw = strings.TrimRight(raw, "/")
	raw = strings.TrimSuffix(raw, ".git")

	if !strings.HasPrefix(raw, urlPrefix) {
		return Location{}, fmt.Errorf("%w: must start with %q", ErrInvalidURL, urlPrefix)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Host != "github.com" {
		return Location{}, fmt.Errorf("%w: unexpected host %q", ErrInvalidURL, u.Host)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return Location{}, fmt.Errorf("%w: must include owner and repository", ErrInvalidURL)
	}

	loc := Location{Owner: parts[0], Repo: parts[1]}
	if !namePattern.MatchString(loc.Owner) {
		return Location{}, fmt.Errorf("%w: invalid owner name %q", ErrInvalidURL, loc.Owner)
	}
	if !namePattern.MatchString(loc.Repo) {
		return Location{}, fmt.Errorf("%w: invalid repository name %q", ErrInvalidURL, loc.Repo)
	}

	if len(parts) >= 3 {
		if parts[2] != "tree" || len(parts) < 4 {
			return Location{}, fmt.Errorf("%w: use /tree/{ref}/{path} to address a folder", ErrInvalidURL)
		}
		loc.Ref = parts[3]
		loc.Path = strings.Join(parts[4:], "/")
	}

	if loc.Ref != "" && !validRef(loc.Ref) {
		return Location{}, fmt.Errorf("%w: invalid branch or tag name %q", ErrInvalidURL, loc.Ref)
	}
	if !validPath(loc.Path) {
		return Location{}, fmt.Errorf("%w: invalid folder path %q", ErrInvalidURL, loc.Path)
	}
	return loc, nil
}

func validRef(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, ".") || strings.HasSuffix(ref, ".") {
		return false
	}
	for _, bad := range badRefParts {
		if strings.Contains(ref, bad) {
			return false
		}
	}
	for _, r := range ref {
		if r < 32 || r == 127 {
			return false
		}
	}
	return true
}

func validPath(p string) bool {
	for _, bad := range badPathPart {
		if strings.Contains(p, bad) {
			return false
		}
	}
	return true
}

// ValidTokenFormat reports whether token looks like a classic (ghp_),
// fine-grained (github_pat_) or legacy 40-hex personal access token.
func ValidTokenFormat(token string) bool {
	token = strings.TrimSpace(token)
	switch {
	case strings.HasPrefix(token, "ghp_"):
		return len(token) == 40
	case strings.HasPrefix(token, "github_pat_"):
		return len(token) >= 50
	default:
		return legacyToken.MatchString(token)
	}
}
