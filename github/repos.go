package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const perPage = 100

var (
	ErrRefNotFound = errors.New("branch or tag not found")
	ErrNotAFile    = errors.New("path is not a file")
)

var commitSHA = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// Repository is a handle on one repository, bound to its Client.
type Repository struct {
	c *Client

	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
}

// Repo fetches repository metadata.
func (c *Client) Repo(ctx context.Context, owner, name string) (*Repository, error) {
	var out repoResponse
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name)), nil, &out); err != nil {
		return nil, err
	}
	if out.FullName == "" {
		out.FullName = owner + "/" + name
	}
	return &Repository{
		c:             c,
		Owner:         owner,
		Name:          name,
		FullName:      out.FullName,
		DefaultBranch: out.DefaultBranch,
	}, nil
}

func (r *Repository) path(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", url.PathEscape(r.Owner), url.PathEscape(r.Name), suffix)
}

// ResolveRef returns the commit SHA a branch or tag points to. Branches are
// searched first, then tags, both by exact name. A full commit SHA is
// returned as is.
func (r *Repository) ResolveRef(ctx context.Context, ref string) (string, error) {
	if commitSHA.MatchString(ref) {
		return strings.ToLower(ref), nil
	}

	for _, kind := range []string{"branches", "tags"} {
		sha, ok, err := r.findNamed(ctx, kind, ref)
		if err != nil {
			return "", err
		}
		if ok {
			r.c.log.Debug().Str("ref", ref).Str("kind", kind).Str("sha", sha).Msg("resolved ref")
			return sha, nil
		}
	}
	return "", fmt.Errorf("%w: %q in %s", ErrRefNotFound, ref, r.FullName)
}

func (r *Repository) findNamed(ctx context.Context, kind, name string) (string, bool, error) {
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("page", strconv.Itoa(page))

		var items []namedCommit
		if err := r.c.get(ctx, r.path("/"+kind), q, &items); err != nil {
			return "", false, err
		}
		for _, it := range items {
			if it.Name == name {
				return it.Commit.SHA, true, nil
			}
		}
		if len(items) < perPage {
			return "", false, nil
		}
	}
}

func (r *Repository) contents(ctx context.Context, p, ref string) (json.RawMessage, error) {
	var segs []string
	for _, s := range strings.Split(strings.Trim(p, "/"), "/") {
		if s != "" {
			segs = append(segs, url.PathEscape(s))
		}
	}

	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}

	var raw json.RawMessage
	if err := r.c.get(ctx, r.path("/contents/"+strings.Join(segs, "/")), q, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ListDir lists the entries of the directory at p. If p names a file the
// listing holds just that file.
func (r *Repository) ListDir(ctx context.Context, p, ref string) ([]Content, error) {
	raw, err := r.contents(ctx, p, ref)
	if err != nil {
		return nil, err
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var one Content
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("github list %s: %w", p, err)
		}
		return []Content{one}, nil
	}

	var out []Content
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("github list %s: %w", p, err)
	}
	return out, nil
}

// FileMeta returns the metadata and download URL of the file at p.
func (r *Repository) FileMeta(ctx context.Context, p, ref string) (Content, error) {
	raw, err := r.contents(ctx, p, ref)
	if err != nil {
		return Content{}, err
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		return Content{}, fmt.Errorf("%w: %s", ErrNotAFile, p)
	}

	var out Content
	if err := json.Unmarshal(raw, &out); err != nil {
		return Content{}, fmt.Errorf("github file %s: %w", p, err)
	}
	return out, nil
}
