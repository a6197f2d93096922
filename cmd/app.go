package cmd

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/gkatanacio/gh-folder-download/cache"
	"github.com/gkatanacio/gh-folder-download/config"
	"github.com/gkatanacio/gh-folder-download/download"
	"github.com/gkatanacio/gh-folder-download/filter"
	"github.com/gkatanacio/gh-folder-download/github"
	"github.com/gkatanacio/gh-folder-download/integrity"
	"github.com/gkatanacio/gh-folder-download/logger"
	"github.com/gkatanacio/gh-folder-download/progress"
	"github.com/gkatanacio/gh-folder-download/ratelimit"
	"github.com/gkatanacio/gh-folder-download/retry"
)

// app holds what every command needs: the effective configuration, the
// filesystem and the logger.
type app struct {
	cfg     config.Config
	cfgPath string
	fs      afero.Fs
	log     *logger.Logger
}

func newApp(cmd *cobra.Command) (*app, error) {
	fs := afero.NewOsFs()

	cfg, path, err := config.NewLoader(fs, zerolog.Nop()).Load(globalOpts.configFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, &cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Options{
		Level:  logger.Level(globalOpts.verbose, cfg.UI.QuietMode, cfg.UI.Verbosity),
		Format: cfg.UI.LogFormat,
		File:   globalOpts.logFile,
	})
	if err != nil {
		return nil, err
	}
	if path != "" {
		log.Debug().Str("path", path).Msg("using config file")
	}

	return &app{cfg: cfg, cfgPath: path, fs: fs, log: log}, nil
}

func (a *app) close() {
	_ = a.log.Close()
}

// applyFlags overrides cfg with the command line flags that were set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if globalOpts.token != "" {
		cfg.GitHubToken = globalOpts.token
	}
	if globalOpts.quiet {
		cfg.UI.QuietMode = true
	}

	flags := cmd.Flags()
	if flags.Lookup("output") == nil {
		return
	}
	if flags.Changed("output") {
		cfg.Paths.DefaultOutput = downloadOpts.output
	}
	if flags.Changed("max-concurrent") {
		cfg.Download.MaxConcurrent = downloadOpts.maxConcurrent
	}
	if flags.Changed("timeout") {
		cfg.Download.Timeout = downloadOpts.timeout
	}
	if downloadOpts.noCache {
		cfg.Cache.Enabled = false
	}
	if downloadOpts.noVerify {
		cfg.Download.VerifyIntegrity = false
	}
	if downloadOpts.noRateLimit {
		cfg.RateLimit.Enabled = false
	}
	if downloadOpts.noProgress {
		cfg.UI.ShowProgress = false
	}

	rules := &cfg.Filters
	if flags.Changed("include-ext") {
		rules.IncludeExtensions = downloadOpts.includeExt
	}
	if flags.Changed("exclude-ext") {
		rules.ExcludeExtensions = downloadOpts.excludeExt
	}
	if flags.Changed("include") {
		rules.IncludePatterns = downloadOpts.includePatterns
	}
	if flags.Changed("exclude") {
		rules.ExcludePatterns = downloadOpts.excludePatterns
	}
	if flags.Changed("min-size") {
		rules.MinSize = downloadOpts.minSize
	}
	if flags.Changed("max-size") {
		rules.MaxSize = downloadOpts.maxSize
	}
	if downloadOpts.excludeBinary {
		rules.ExcludeBinary = true
	}
	if downloadOpts.excludeLarge {
		rules.ExcludeLarge = true
	}
}

func searchPathsHelp() string {
	return strings.Join(config.SearchPaths(), ", ")
}

// newClient creates the API client. observe, if set, receives the quota
// reported by every response.
func (a *app) newClient(observe func(ratelimit.Bucket, ratelimit.Info)) *github.Client {
	return github.NewClient(github.Options{
		Token:        a.cfg.GitHubToken,
		Timeout:      a.cfg.Download.TimeoutDuration(),
		RateObserver: observe,
	}, a.log.Logger)
}

// openCache opens the cache directory regardless of cache.enabled.
func (a *app) openCache() (*cache.Cache, error) {
	dir := a.cfg.Cache.Dir
	if dir == "" {
		var err error
		if dir, err = cache.DefaultDir(); err != nil {
			return nil, err
		}
	}
	return cache.New(a.fs, dir, a.log.Logger)
}

func (a *app) downloadRetrier() (*retry.Retrier, error) {
	rc := retry.DownloadConfig()
	rc.MaxAttempts = a.cfg.Download.MaxRetries
	rc.BaseDelay = a.cfg.Download.RetryDelayDuration()
	rc.MaxDelay = max(rc.MaxDelay, rc.BaseDelay)
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return retry.New(rc, retry.KindDownload, a.log.Logger), nil
}

func (a *app) progressSink() download.ProgressSink {
	ui := a.cfg.UI
	if ui.ShowProgress && !ui.QuietMode && isatty.IsTerminal(os.Stdout.Fd()) {
		return progress.NewBars(progress.Options{Output: os.Stdout})
	}
	return progress.NewLogSink(a.log.Logger)
}

// downloadService wires every component of a download run.
func (a *app) downloadService(ctx context.Context) (*download.Service, error) {
	cfg := a.cfg
	log := a.log.Logger

	var limiter *ratelimit.Limiter
	client := a.newClient(func(b ratelimit.Bucket, info ratelimit.Info) {
		if limiter != nil {
			limiter.Update(b, info)
		}
	})
	if err := client.CheckToken(ctx); err != nil {
		return nil, err
	}

	deps := download.ServiceDeps{
		Client:     client,
		FS:         a.fs,
		APIRetrier: retry.NewAPI(log),
	}

	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(client, ratelimit.Options{Buffer: cfg.RateLimit.Buffer}, log)
		if err := limiter.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("could not read the API quota, pacing on response headers only")
		} else {
			limiter.LogStatus()
		}
		deps.Pacer = limiter
	}

	if !cfg.Filters.Empty() {
		f, err := filter.New(cfg.Filters, log)
		if err != nil {
			return nil, err
		}
		deps.Filter = f
	}

	var c *cache.Cache
	if cfg.Cache.Enabled {
		var err error
		if c, err = a.openCache(); err != nil {
			return nil, err
		}
		if cfg.Cache.AutoCleanup {
			c.Clean(cfg.Cache.MaxAgeDays)
		}
	}

	dl, err := a.downloadRetrier()
	if err != nil {
		return nil, err
	}

	deps.Scheduler = download.NewScheduler(download.Options{
		MaxConcurrency:  cfg.Download.MaxConcurrent,
		Timeout:         cfg.Download.TimeoutDuration(),
		ChunkSize:       cfg.Download.ChunkSize,
		VerifyIntegrity: cfg.Download.VerifyIntegrity,
		UseCache:        c != nil,
	}, download.SchedulerDeps{
		FS:      a.fs,
		HTTP:    &http.Client{},
		Retrier: dl,
		Cache:   c,
		Checker: integrity.NewChecker(a.fs, log),
		Sink:    a.progressSink(),
	}, log)

	return download.NewService(deps, log), nil
}
