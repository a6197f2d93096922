// Package github is a small GitHub REST v3 client covering what a folder
// download needs: repository metadata, ref resolution, directory listings,
// file metadata and the rate limit quota.
//
// The client does not retry. Callers wrap calls in a retry.Retrier and pace
// them with a ratelimit.Limiter; failed responses surface as *StatusError so
// both can classify them.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gkatanacio/gh-folder-download/ratelimit"
)

const (
	baseURLDefault = "https://api.github.com"
	defaultTimeout = 30 * time.Second
	defaultUA      = "gh-folder-download"

	maxBodyBytes = 8 << 20
)

var ErrInvalidToken = errors.New("invalid github token")

// StatusError is returned for any non-2xx API response.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("github %s %s: status %d: %s", e.Method, e.Path, e.Status, msg)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.Status }

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Options configures the Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// Token is sent as a bearer credential. Empty means anonymous access,
	// which has a very low quota.
	Token string

	// RateObserver, if set, receives the quota reported in the headers of
	// every response.
	RateObserver func(ratelimit.Bucket, ratelimit.Info)
}

// Client talks to the GitHub REST API. It is safe for concurrent use.
type Client struct {
	http *http.Client
	opts Options
	log  zerolog.Logger
	now  func() time.Time
}

// NewClient creates a new Client with defaults for unset options.
func NewClient(o Options, log zerolog.Logger) *Client {
	if o.BaseURL == "" {
		o.BaseURL = baseURLDefault
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	o.Token = strings.TrimSpace(o.Token)
	return &Client{
		http: &http.Client{Timeout: o.Timeout},
		opts: o,
		log:  log.With().Str("component", "github").Logger(),
		now:  time.Now,
	}
}

// get issues a GET for path with query and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.opts.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Error().Err(cerr).Str("path", path).Msg("github close body failed")
		}
	}()

	c.observeRate(resp.Header)
	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", c.now().Sub(start)).
		Msg("github http response")

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return &StatusError{
			Method:  http.MethodGet,
			Path:    path,
			Status:  resp.StatusCode,
			Message: apiErr.Message,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("github %s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) observeRate(h http.Header) {
	if c.opts.RateObserver == nil {
		return
	}
	info, ok := parseRateHeaders(h)
	if !ok {
		return
	}
	bucket := ratelimit.Bucket(h.Get("X-RateLimit-Resource"))
	if bucket == "" {
		bucket = ratelimit.Core
	}
	c.opts.RateObserver(bucket, info)
}

func parseRateHeaders(h http.Header) (ratelimit.Info, bool) {
	limit, err1 := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	remaining, err2 := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	reset, err3 := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return ratelimit.Info{}, false
	}
	return ratelimit.Info{
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(reset, 0),
	}, true
}

// RateLimits returns the quota of every bucket reported by /rate_limit.
// Calls to this endpoint do not count against the quota.
func (c *Client) RateLimits(ctx context.Context) (map[ratelimit.Bucket]ratelimit.Info, error) {
	var out rateLimitResponse
	if err := c.get(ctx, "/rate_limit", nil, &out); err != nil {
		return nil, err
	}
	infos := make(map[ratelimit.Bucket]ratelimit.Info, len(out.Resources))
	for name, r := range out.Resources {
		infos[ratelimit.Bucket(name)] = ratelimit.Info{
			Limit:     r.Limit,
			Remaining: r.Remaining,
			Reset:     time.Unix(r.Reset, 0),
		}
	}
	return infos, nil
}

// CheckToken confirms the configured token is accepted by the API. A 401
// or 403 fails with ErrInvalidToken; other failures are logged and ignored
// since they say nothing about the token.
func (c *Client) CheckToken(ctx context.Context) error {
	if c.opts.Token == "" {
		return nil
	}
	var u user
	err := c.get(ctx, "/user", nil, &u)
	if err == nil {
		c.log.Debug().Str("login", u.Login).Msg("github token validated")
		return nil
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: authentication failed", ErrInvalidToken)
		case http.StatusForbidden:
			if !strings.Contains(strings.ToLower(se.Message), "rate limit") {
				return fmt.Errorf("%w: insufficient permissions", ErrInvalidToken)
			}
		}
	}
	c.log.Warn().Err(err).Msg("could not fully validate github token")
	return nil
}
