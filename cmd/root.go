package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gkatanacio/gh-folder-download/download"
	"github.com/gkatanacio/gh-folder-download/progress"
)

// globalFlags apply to every command.
type globalFlags struct {
	configFile string
	token      string
	logFile    string
	verbose    bool
	quiet      bool
}

// downloadFlags override the matching configuration values when set.
type downloadFlags struct {
	output        string
	force         bool
	update        bool
	maxConcurrent int
	timeout       int
	noCache       bool
	noVerify      bool
	noRateLimit   bool
	noProgress    bool

	includeExt      []string
	excludeExt      []string
	includePatterns []string
	excludePatterns []string
	minSize         string
	maxSize         string
	excludeBinary   bool
	excludeLarge    bool
}

var (
	globalOpts   globalFlags
	downloadOpts downloadFlags
)

var rootCmd = &cobra.Command{
	Use:          "gh-folder-download [GitHub folder URL]",
	Short:        "Download a folder of a GitHub repository with parallel, cached and verified transfers.",
	Example:      "gh-folder-download -o ./out --include-ext .go https://github.com/owner/repo/tree/main/internal",
	SilenceUsage: true,
	Args:         cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		downloadService, err := a.downloadService(cmd.Context())
		if err != nil {
			return err
		}

		report, err := downloadService.Download(cmd.Context(), download.Request{
			URL:    args[0],
			Output: a.cfg.Paths.DefaultOutput,
			Force:  downloadOpts.force,
			Update: downloadOpts.update,
		})
		if err != nil {
			return err
		}
		if report.Stats.Total == 0 {
			return nil
		}

		if !a.cfg.UI.QuietMode {
			fmt.Fprint(cmd.OutOrStdout(), progress.Summary(report))
		}
		if report.Stats.Failed > 0 {
			return fmt.Errorf("%d of %d files failed to download", report.Stats.Failed, report.Stats.Total)
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalOpts.configFile, "config", "", "configuration file (default: search "+searchPathsHelp()+")")
	pf.StringVar(&globalOpts.token, "token", "", "GitHub token (default: github_token from config or GH_FOLDER_DOWNLOAD_GITHUB_TOKEN)")
	pf.StringVar(&globalOpts.logFile, "log-file", "", "also write a JSON log to this file")
	pf.BoolVarP(&globalOpts.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&globalOpts.quiet, "quiet", "q", false, "only log errors")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	f := rootCmd.Flags()
	f.StringVarP(&downloadOpts.output, "output", "o", "", "output folder (default: paths.default_output)")
	f.BoolVarP(&downloadOpts.force, "force", "f", false, "remove the destination folder if it exists")
	f.BoolVarP(&downloadOpts.update, "update", "u", false, "reuse an existing destination, skipping files cached for the same commit")
	f.IntVarP(&downloadOpts.maxConcurrent, "max-concurrent", "c", 0, "max number of parallel downloads (1-20)")
	f.IntVarP(&downloadOpts.timeout, "timeout", "t", 0, "timeout for each transfer attempt in seconds (5-300)")
	f.BoolVar(&downloadOpts.noCache, "no-cache", false, "do not read or write the download cache")
	f.BoolVar(&downloadOpts.noVerify, "no-verify", false, "skip integrity verification")
	f.BoolVar(&downloadOpts.noRateLimit, "no-rate-limit", false, "do not pace API calls against the remaining quota")
	f.BoolVar(&downloadOpts.noProgress, "no-progress", false, "log progress instead of drawing bars")

	f.StringSliceVar(&downloadOpts.includeExt, "include-ext", nil, "only download files with these extensions")
	f.StringSliceVar(&downloadOpts.excludeExt, "exclude-ext", nil, "skip files with these extensions")
	f.StringSliceVar(&downloadOpts.includePatterns, "include", nil, "only download paths matching these glob patterns")
	f.StringSliceVar(&downloadOpts.excludePatterns, "exclude", nil, "skip paths matching these glob patterns")
	f.StringVar(&downloadOpts.minSize, "min-size", "", "skip files smaller than this size (e.g. 1KB)")
	f.StringVar(&downloadOpts.maxSize, "max-size", "", "skip files larger than this size (e.g. 10MB)")
	f.BoolVar(&downloadOpts.excludeBinary, "exclude-binary", false, "skip files with binary extensions")
	f.BoolVar(&downloadOpts.excludeLarge, "exclude-large", false, "skip files larger than 10MB")

	rootCmd.MarkFlagsMutuallyExclusive("force", "update")
}
