package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/gkatanacio/gh-folder-download/github"
	"github.com/gkatanacio/gh-folder-download/ratelimit"
	"github.com/gkatanacio/gh-folder-download/retry"
)

var ErrAlreadyExists = errors.New("output folder already exists")

// Request describes one folder download.
type Request struct {
	// URL is a https://github.com/{owner}/{repo}[/tree/{ref}[/{path}]] address.
	URL    string
	Output string
	// Force removes an existing destination first.
	Force bool
	// Update keeps an existing destination and relies on the cache to skip
	// files that are still current.
	Update bool
}

// Report is the outcome of Service.Download.
type Report struct {
	Repo        string
	Ref         string
	Commit      string
	Path        string
	Destination string
	Results     []Result
	Stats       Stats
}

// ServiceDeps are the collaborators of a Service. Pacer and Filter may be
// nil.
type ServiceDeps struct {
	Client     *github.Client
	FS         afero.Fs
	APIRetrier *retry.Retrier
	Pacer      Pacer
	Filter     Predicate
	Scheduler  *Scheduler
}

// Service is the service layer that downloads a repository folder.
type Service struct {
	client    *github.Client
	fs        afero.Fs
	retrier   *retry.Retrier
	pacer     Pacer
	filter    Predicate
	scheduler *Scheduler
	log       zerolog.Logger
}

func NewService(deps ServiceDeps, log zerolog.Logger) *Service {
	s := &Service{
		client:    deps.Client,
		fs:        deps.FS,
		retrier:   deps.APIRetrier,
		pacer:     deps.Pacer,
		filter:    deps.Filter,
		scheduler: deps.Scheduler,
		log:       log.With().Str("component", "service").Logger(),
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.retrier == nil {
		s.retrier = retry.NewAPI(log)
	}
	return s
}

// Download resolves the URL to a commit, prepares the destination, walks
// the remote folder and downloads every accepted file. Per-file failures
// are reported in the Report; only pre-flight failures (bad URL, unknown
// ref, destination conflict, unlistable root) are returned as errors.
func (s *Service) Download(ctx context.Context, req Request) (Report, error) {
	loc, err := github.ParseURL(req.URL)
	if err != nil {
		return Report{}, err
	}

	repo, err := retry.Do(ctx, s.retrier, "get repository", func(ctx context.Context) (*github.Repository, error) {
		if err := s.pace(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		return s.client.Repo(ctx, loc.Owner, loc.Repo)
	})
	if err != nil {
		return Report{}, fmt.Errorf("get repository %s: %w", loc.FullName(), err)
	}

	ref := loc.Ref
	if ref == "" {
		ref = repo.DefaultBranch
		s.log.Debug().Str("ref", ref).Msg("using default branch")
	}

	commit, err := retry.Do(ctx, s.retrier, "resolve ref "+ref, func(ctx context.Context) (string, error) {
		if err := s.pace(ctx); err != nil {
			return "", retry.Permanent(err)
		}
		sha, err := repo.ResolveRef(ctx, ref)
		if errors.Is(err, github.ErrRefNotFound) {
			return "", retry.Permanent(err)
		}
		return sha, err
	})
	if err != nil {
		return Report{}, err
	}

	dest := destination(req.Output, loc)
	if err := PrepareDestination(s.fs, dest, req.Force, req.Update, s.log); err != nil {
		return Report{}, err
	}

	report := Report{
		Repo:        repo.FullName,
		Ref:         ref,
		Commit:      commit,
		Path:        loc.Path,
		Destination: dest,
	}

	s.log.Info().
		Str("repo", repo.FullName).
		Str("ref", ref).
		Str("commit", commit).
		Str("path", loc.Path).
		Str("destination", dest).
		Msg("collecting files")

	collector := NewCollector(repo, s.fs, s.retrier, s.pacer, s.filter, s.log)
	tasks, err := collector.Collect(ctx, repo.FullName, commit, loc.Path, dest)
	if err != nil {
		return report, err
	}
	if len(tasks) == 0 {
		s.log.Warn().Msg("no files found to download")
		return report, nil
	}

	report.Results, report.Stats = s.scheduler.DownloadAll(ctx, tasks)
	return report, nil
}

func (s *Service) pace(ctx context.Context) error {
	if s.pacer == nil {
		return nil
	}
	return s.pacer.WaitIfNeeded(ctx, ratelimit.Core)
}

// destination is the local folder mirroring loc under output. A repository
// root goes into a folder named after the repository.
func destination(output string, loc github.Location) string {
	if output == "" {
		output = "."
	}
	if loc.Path == "" {
		return filepath.Join(output, loc.Repo)
	}
	return filepath.Join(output, filepath.FromSlash(loc.Path))
}

// PrepareDestination makes sure dir exists and is ready to receive files.
// An existing dir is removed when force is set, kept when update is set,
// and otherwise reported as ErrAlreadyExists.
func PrepareDestination(fs afero.Fs, dir string, force, update bool, log zerolog.Logger) error {
	_, err := fs.Stat(dir)
	switch {
	case err == nil:
		switch {
		case force:
			log.Warn().Str("path", dir).Msg("removing existing folder")
			if err := fs.RemoveAll(dir); err != nil {
				return fmt.Errorf("remove %s: %w", dir, err)
			}
		case update:
			log.Info().Str("path", dir).Msg("updating existing folder")
		default:
			return fmt.Errorf("%w: %s (use --force to overwrite or --update to reuse)", ErrAlreadyExists, dir)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("stat %s: %w", dir, err)
	}

	log.Info().Str("path", dir).Msg("creating directory")
	return fs.MkdirAll(dir, 0o755)
}
