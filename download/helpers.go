package download

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// fsError is a local filesystem failure during a transfer.
type fsError struct {
	op  string
	err error
}

func (e *fsError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *fsError) Unwrap() error { return e.err }

// reasonFor classifies a transfer error. ctx is the batch context, used to
// tell a per-attempt timeout from a cancellation of the whole run.
func reasonFor(ctx context.Context, err error) FailureReason {
	var httpErr *HTTPError
	var fsErr *fsError
	var netErr net.Error

	switch {
	case ctx.Err() != nil:
		return ReasonCanceled
	case errors.As(err, &httpErr):
		return ReasonHTTPStatus
	case errors.As(err, &fsErr):
		return ReasonFilesystem
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	}
	return ReasonTransfer
}

// Summarize reduces results into Stats. It runs after all workers are
// done, so no counter is shared between goroutines.
func Summarize(results []Result, elapsed time.Duration) Stats {
	st := Stats{Total: len(results), Duration: elapsed}
	for _, r := range results {
		if !r.Success {
			st.Failed++
			continue
		}
		st.Succeeded++
		if r.FromCache {
			st.Cached++
			st.CachedBytes += r.Bytes
			continue
		}
		st.Bytes += r.Bytes
		if !r.IntegrityVerified {
			st.IntegrityFailures++
		}
	}
	return st
}

// safeName reports whether a listing entry name can be joined onto a local
// directory without escaping it.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
