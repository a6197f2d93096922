package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gkatanacio/gh-folder-download/download"
)

// Summary renders the outcome of a download for humans.
func Summary(r download.Report) string {
	st := r.Stats
	var sb strings.Builder

	fmt.Fprintf(&sb, "Downloaded %s/%s files from %s@%s into %s\n",
		humanize.Comma(int64(st.Succeeded)), humanize.Comma(int64(st.Total)), r.Repo, shortRef(r), r.Destination)
	fmt.Fprintf(&sb, "  transferred: %s in %s (%.2f MB/s)\n",
		humanize.IBytes(uint64(st.Bytes)), st.Duration.Round(time.Millisecond), st.AverageMBps())
	if st.Cached > 0 {
		fmt.Fprintf(&sb, "  from cache:  %d files, %s\n", st.Cached, humanize.IBytes(uint64(st.CachedBytes)))
	}
	fmt.Fprintf(&sb, "  success:     %.1f%% (cache hit rate %.1f%%)\n", st.SuccessRate(), st.CacheHitRate())
	if st.IntegrityFailures > 0 {
		fmt.Fprintf(&sb, "  integrity:   %d files failed verification\n", st.IntegrityFailures)
	}

	if st.Failed > 0 {
		fmt.Fprintf(&sb, "Failed (%d):\n", st.Failed)
		for _, res := range r.Results {
			if res.Success {
				continue
			}
			fmt.Fprintf(&sb, "  %s [%s]: %v\n", res.Task.FilePath, res.Reason, res.Err)
		}
	}
	return sb.String()
}

func shortRef(r download.Report) string {
	if r.Commit == "" || r.Commit == r.Ref {
		return r.Ref
	}
	if len(r.Commit) > 7 {
		return fmt.Sprintf("%s (%s)", r.Ref, r.Commit[:7])
	}
	return fmt.Sprintf("%s (%s)", r.Ref, r.Commit)
}
