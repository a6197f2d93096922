package download

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/gkatanacio/gh-folder-download/github"
	"github.com/gkatanacio/gh-folder-download/ratelimit"
	"github.com/gkatanacio/gh-folder-download/retry"
)

// RepoAPI is the part of the remote API used to walk a tree.
// *github.Repository implements it.
type RepoAPI interface {
	ListDir(ctx context.Context, path, ref string) ([]github.Content, error)
	FileMeta(ctx context.Context, path, ref string) (github.Content, error)
}

// Collector walks a remote directory tree and produces download tasks.
type Collector struct {
	api     RepoAPI
	fs      afero.Fs
	retrier *retry.Retrier
	pacer   Pacer
	accept  Predicate
	log     zerolog.Logger
}

// NewCollector creates a Collector. pacer and accept may be nil, in which
// case calls are not paced and every file is accepted.
func NewCollector(api RepoAPI, fs afero.Fs, retrier *retry.Retrier, pacer Pacer, accept Predicate, log zerolog.Logger) *Collector {
	if retrier == nil {
		retrier = retry.NewAPI(log)
	}
	return &Collector{
		api:     api,
		fs:      fs,
		retrier: retrier,
		pacer:   pacer,
		accept:  accept,
		log:     log.With().Str("component", "collector").Logger(),
	}
}

// frame is one directory level of the walk.
type frame struct {
	entries  []github.Content
	next     int
	localDir string
}

// Collect lists root at ref and returns one task per accepted file below
// it, in pre-order. Local directories are created under dest as they are
// discovered, so empty folders are materialized too. A subdirectory that
// cannot be listed is skipped; failing to list root is an error.
func (c *Collector) Collect(ctx context.Context, repo, ref, root, dest string) ([]Task, error) {
	if err := c.fs.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dest, err)
	}

	entries, err := c.listDir(ctx, root, ref)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", root, err)
	}

	var tasks []Task
	stack := []*frame{{entries: entries, localDir: dest}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return tasks, err
		}

		top := stack[len(stack)-1]
		if top.next >= len(top.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		entry := top.entries[top.next]
		top.next++

		if !safeName(entry.Name) {
			c.log.Warn().Str("name", entry.Name).Str("path", entry.Path).Msg("skipping entry with unsafe name")
			continue
		}
		local := filepath.Join(top.localDir, entry.Name)

		switch entry.Type {
		case github.TypeDir:
			c.log.Debug().Str("path", entry.Path).Msg("found directory")
			if err := c.fs.MkdirAll(local, 0o755); err != nil {
				c.log.Error().Err(err).Str("path", local).Msg("failed to create directory")
				continue
			}
			children, err := c.listDir(ctx, entry.Path, ref)
			if err != nil {
				if ctx.Err() != nil {
					return tasks, ctx.Err()
				}
				c.log.Error().Err(err).Str("path", entry.Path).Msg("failed to get directory contents, skipping")
				continue
			}
			stack = append(stack, &frame{entries: children, localDir: local})

		case github.TypeFile:
			if c.accept != nil && !c.accept.Accept(entry.Path, entry.Size) {
				continue
			}
			task, ok := c.fileTask(ctx, entry, repo, ref, local)
			if ok {
				tasks = append(tasks, task)
			}

		default:
			c.log.Debug().Str("path", entry.Path).Str("type", entry.Type).Msg("skipping unsupported entry type")
		}
	}

	c.log.Info().Int("files", len(tasks)).Str("path", root).Msg("collected download tasks")
	return tasks, nil
}

func (c *Collector) fileTask(ctx context.Context, entry github.Content, repo, ref, local string) (Task, bool) {
	meta, err := c.fileMeta(ctx, entry.Path, ref)
	if err != nil {
		c.log.Error().Err(err).Str("path", entry.Path).Msg("failed to get file content")
		return Task{}, false
	}
	if meta.DownloadURL == "" {
		c.log.Warn().Str("path", entry.Path).Msg("no download URL")
		return Task{}, false
	}
	return Task{
		FilePath:     entry.Path,
		DownloadURL:  meta.DownloadURL,
		LocalPath:    local,
		ExpectedSize: entry.Size,
		SHA:          meta.SHA,
		Repo:         repo,
		Ref:          ref,
	}, true
}

func (c *Collector) pace(ctx context.Context) error {
	if c.pacer == nil {
		return nil
	}
	return c.pacer.WaitIfNeeded(ctx, ratelimit.Core)
}

func (c *Collector) listDir(ctx context.Context, p, ref string) ([]github.Content, error) {
	return retry.Do(ctx, c.retrier, "get directory contents for "+p, func(ctx context.Context) ([]github.Content, error) {
		if err := c.pace(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		return c.api.ListDir(ctx, p, ref)
	})
}

func (c *Collector) fileMeta(ctx context.Context, p, ref string) (github.Content, error) {
	return retry.Do(ctx, c.retrier, "get file content for "+p, func(ctx context.Context) (github.Content, error) {
		if err := c.pace(ctx); err != nil {
			return github.Content{}, retry.Permanent(err)
		}
		return c.api.FileMeta(ctx, p, ref)
	})
}
