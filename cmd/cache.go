package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cacheCleanMaxAge int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the download cache.",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number and size of cached files.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		c, err := a.openCache()
		if err != nil {
			return err
		}
		st := c.Stats()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Directory: %s\n", c.Dir())
		fmt.Fprintf(out, "Entries:   %s\n", humanize.Comma(int64(st.Entries)))
		fmt.Fprintf(out, "Size:      %s\n", humanize.IBytes(uint64(st.TotalSize)))
		if st.Entries > 0 {
			fmt.Fprintf(out, "Oldest:    %s\n", humanize.Time(st.Oldest))
			fmt.Fprintf(out, "Newest:    %s\n", humanize.Time(st.Newest))
		}
		return nil
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove cache entries older than the maximum age.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		c, err := a.openCache()
		if err != nil {
			return err
		}
		days := a.cfg.Cache.MaxAgeDays
		if cmd.Flags().Changed("max-age-days") {
			days = cacheCleanMaxAge
		}
		if days < 1 {
			return fmt.Errorf("max age must be at least 1 day, got %d", days)
		}

		removed := c.Clean(days)
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries older than %d days\n", removed, days)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		c, err := a.openCache()
		if err != nil {
			return err
		}
		n := c.Len()
		if err := c.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries from %s\n", n, c.Dir())
		return nil
	},
}

func init() {
	cacheCleanCmd.Flags().IntVar(&cacheCleanMaxAge, "max-age-days", 0, "maximum age in days (default: cache.max_age_days)")

	cacheCmd.AddCommand(cacheStatsCmd, cacheCleanCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
