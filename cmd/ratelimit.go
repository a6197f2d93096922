package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gkatanacio/gh-folder-download/ratelimit"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Show the remaining GitHub API quota.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		limiter := ratelimit.New(a.newClient(nil), ratelimit.Options{Buffer: a.cfg.RateLimit.Buffer}, a.log.Logger)
		if err := limiter.Refresh(cmd.Context()); err != nil {
			return fmt.Errorf("read rate limits: %w", err)
		}

		status := limiter.Status()
		buckets := make([]ratelimit.Bucket, 0, len(status))
		for b := range status {
			buckets = append(buckets, b)
		}
		sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BUCKET\tREMAINING\tLIMIT\tUSED\tRESETS\tLIMITED")
		for _, b := range buckets {
			s := status[b]
			fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%s\t%t\n",
				b, s.Remaining, s.Limit, s.UsagePercent, humanize.Time(s.Reset), limiter.IsRateLimited(b))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(ratelimitCmd)
}
