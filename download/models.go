package download

import (
	"context"
	"net/http"
	"time"

	"github.com/gkatanacio/gh-folder-download/ratelimit"
)

// UnknownSize marks a task whose remote listing did not report a size.
const UnknownSize int64 = -1

// Options represents the configuration for the download scheduler.
type Options struct {
	// MaxConcurrency bounds the number of files transferred at once.
	MaxConcurrency int
	// Timeout applies to each individual transfer attempt.
	Timeout time.Duration
	// ChunkSize is the buffer size used when streaming bodies to disk.
	ChunkSize       int
	VerifyIntegrity bool
	UseCache        bool
}

// DefaultOptions mirrors the defaults of the configuration file.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:  5,
		Timeout:         30 * time.Second,
		ChunkSize:       8192,
		VerifyIntegrity: true,
		UseCache:        true,
	}
}

// Task describes one file to fetch. It is never mutated once created.
type Task struct {
	FilePath     string // repository-relative
	DownloadURL  string
	LocalPath    string
	ExpectedSize int64 // UnknownSize if not reported
	SHA          string
	Repo         string // owner/name
	Ref          string // resolved commit
}

// FailureReason classifies a failed Result.
type FailureReason string

const (
	ReasonNone       FailureReason = ""
	ReasonHTTPStatus FailureReason = "http_status"
	ReasonTimeout    FailureReason = "timeout"
	ReasonTransfer   FailureReason = "transfer"
	ReasonFilesystem FailureReason = "filesystem"
	ReasonCanceled   FailureReason = "canceled"
	ReasonPanic      FailureReason = "panic"
)

// Result is the outcome of one Task. Failures are data, never returned as
// errors from the scheduler.
type Result struct {
	Task              Task
	Success           bool
	Err               error
	Reason            FailureReason
	Duration          time.Duration
	Bytes             int64
	FromCache         bool
	IntegrityVerified bool
}

// Stats aggregates a batch of results.
type Stats struct {
	Total             int
	Succeeded         int
	Failed            int
	Cached            int
	IntegrityFailures int
	// Bytes counts bytes transferred over the network.
	Bytes int64
	// CachedBytes counts the expected sizes of cache hits.
	CachedBytes int64
	Duration    time.Duration
}

// AverageMBps is the network throughput in MiB per second.
func (s Stats) AverageMBps() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Bytes) / (1024 * 1024) / s.Duration.Seconds()
}

// SuccessRate is the percentage of succeeded tasks.
func (s Stats) SuccessRate() float64 {
	return percent(s.Succeeded, s.Total)
}

// CacheHitRate is the percentage of tasks served from cache.
func (s Stats) CacheHitRate() float64 {
	return percent(s.Cached, s.Total)
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// ProgressSink receives progress events. Implementations must be safe for
// concurrent use.
type ProgressSink interface {
	Start(files int, totalBytes int64)
	FileStarted(path string, size int64)
	FileProgress(path string, written int64)
	FileDone(res Result)
	Finish(stats Stats)
}

type nopSink struct{}

func (nopSink) Start(int, int64) {}
func (nopSink) FileStarted(string, int64) {}
func (nopSink) FileProgress(string, int64) {}
func (nopSink) FileDone(Result) {}
func (nopSink) Finish(Stats) {}

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pacer blocks until an API call in bucket may proceed.
// *ratelimit.Limiter implements it.
type Pacer interface {
	WaitIfNeeded(ctx context.Context, bucket ratelimit.Bucket) error
}

// Predicate decides whether a repository file is wanted.
// *filter.Filter implements it.
type Predicate interface {
	Accept(path string, size int64) bool
}
