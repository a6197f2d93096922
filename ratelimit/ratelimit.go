// Package ratelimit paces outbound API calls against a remotely reported quota.
//
// The Limiter keeps one quota snapshot per bucket ("core", "search"),
// refreshes it from a QuotaSource when it is missing or older than the
// refresh interval, and turns the remaining quota into a minimum spacing
// between consecutive calls in the bucket.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Bucket names an independently tracked class of API calls.
type Bucket string

const (
	Core   Bucket = "core"
	Search Bucket = "search"
)

const (
	DefaultBuffer          = 100
	DefaultBaseDelay       = 100 * time.Millisecond
	DefaultRefreshInterval = 30 * time.Second

	maxNormalDelay = 30 * time.Second
	maxBufferDelay = 60 * time.Second
)

// Info is a snapshot of one quota bucket.
type Info struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Used returns the number of requests spent in the current window.
func (i Info) Used() int {
	return i.Limit - i.Remaining
}

// UsagePercent returns Used as a percentage of Limit.
func (i Info) UsagePercent() float64 {
	if i.Limit == 0 {
		return 0
	}
	return float64(i.Used()) / float64(i.Limit) * 100
}

// UntilReset returns the time left until the quota resets, never negative.
func (i Info) UntilReset(now time.Time) time.Duration {
	d := i.Reset.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// QuotaSource reports the current quota of every bucket.
type QuotaSource interface {
	RateLimits(ctx context.Context) (map[Bucket]Info, error)
}

// Options configures a Limiter.
type Options struct {
	// Buffer is the number of remaining requests held in reserve.
	// Default: 100
	Buffer int

	// BaseDelay is the minimum spacing between calls.
	// Default: 100ms
	BaseDelay time.Duration

	// RefreshInterval is the maximum age of a snapshot before it is refetched.
	// Default: 30s
	RefreshInterval time.Duration
}

// DefaultOptions returns options with the default buffer and delays.
func DefaultOptions() Options {
	return Options{
		Buffer:          DefaultBuffer,
		BaseDelay:       DefaultBaseDelay,
		RefreshInterval: DefaultRefreshInterval,
	}
}

// Status is the read-only view of a bucket reported by Limiter.Status.
type Status struct {
	Limit        int
	Remaining    int
	Used         int
	Reset        time.Time
	UntilReset   time.Duration
	UsagePercent float64
}

// Limiter blocks callers as needed to stay within the remote quota.
// It is safe for concurrent use.
type Limiter struct {
	src  QuotaSource
	opts Options
	log  zerolog.Logger

	mu          sync.Mutex
	buckets     map[Bucket]Info
	lastRefresh time.Time
	// time the latest reserved call in each bucket may proceed
	lastCall map[Bucket]time.Time

	// serializes refreshes so concurrent callers do not stampede the source
	refreshMu sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter reading quota from src. Zero option fields take
// their defaults.
func New(src QuotaSource, opts Options, log zerolog.Logger) *Limiter {
	def := DefaultOptions()
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = def.RefreshInterval
	}
	return &Limiter{
		src:      src,
		opts:     opts,
		log:      log.With().Str("component", "ratelimit").Logger(),
		buckets:  make(map[Bucket]Info),
		lastCall: make(map[Bucket]time.Time),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Refresh fetches a new snapshot from the source. On failure the previous
// snapshot is kept.
func (l *Limiter) Refresh(ctx context.Context) error {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()
	return l.refreshLocked(ctx)
}

func (l *Limiter) refreshLocked(ctx context.Context) error {
	infos, err := l.src.RateLimits(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("failed to update rate limit info")
		return err
	}

	l.mu.Lock()
	for b, info := range infos {
		l.buckets[b] = info
	}
	l.lastRefresh = l.now()
	core, hasCore := l.buckets[Core]
	l.mu.Unlock()

	if hasCore {
		l.log.Debug().Int("remaining", core.Remaining).Int("limit", core.Limit).Msg("rate limit updated")
	}
	return nil
}

func (l *Limiter) stale() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.buckets[Core]
	return !ok || l.now().Sub(l.lastRefresh) > l.opts.RefreshInterval
}

func (l *Limiter) refreshIfStale(ctx context.Context) {
	if !l.stale() {
		return
	}
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()
	// another caller may have refreshed while we waited
	if !l.stale() {
		return
	}
	_ = l.refreshLocked(ctx)
}

// Update replaces the snapshot of bucket, e.g. from response headers.
func (l *Limiter) Update(bucket Bucket, info Info) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[bucket] = info
}

// Delay computes the adaptive spacing for a bucket snapshot. When the quota
// is exhausted it is the time until reset plus one second.
func (l *Limiter) Delay(info Info) time.Duration {
	untilReset := info.UntilReset(l.now())

	if info.Remaining <= 0 {
		return untilReset + time.Second
	}
	if untilReset <= 0 {
		return l.opts.BaseDelay
	}

	available := info.Remaining - l.opts.Buffer
	if available <= 0 {
		return min(maxBufferDelay, untilReset/10)
	}

	optimal := float64(untilReset) / float64(available)

	factor := 1.0
	switch usage := info.UsagePercent(); {
	case usage > 80:
		factor = 2.0
	case usage > 60:
		factor = 1.5
	}

	d := time.Duration(math.Max(float64(l.opts.BaseDelay), optimal*factor))
	return min(maxNormalDelay, d)
}

// WaitIfNeeded blocks until a call in bucket may proceed. Unknown buckets
// are paced like Core. It returns early only if ctx is done.
func (l *Limiter) WaitIfNeeded(ctx context.Context, bucket Bucket) error {
	if bucket == "" {
		bucket = Core
	}

	l.refreshIfStale(ctx)

	l.mu.Lock()
	key := bucket
	info, ok := l.buckets[key]
	if !ok {
		key = Core
		info, ok = l.buckets[key]
	}

	if ok && info.Remaining <= 0 {
		wait := l.Delay(info)
		l.mu.Unlock()

		l.log.Warn().
			Str("bucket", string(bucket)).
			Dur("wait", wait).
			Time("reset", info.Reset).
			Msg("rate limit exceeded, waiting for reset")
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		_ = l.Refresh(ctx)
		return nil
	}

	delay := l.opts.BaseDelay
	if ok {
		if info.Remaining <= l.opts.Buffer {
			l.log.Warn().
				Str("bucket", string(bucket)).
				Int("remaining", info.Remaining).
				Int("limit", info.Limit).
				Msg("approaching rate limit")
		}
		delay = l.Delay(info)
		// local accounting between refreshes
		info.Remaining--
		l.buckets[key] = info
	}

	// reserve under the lock so concurrent callers queue behind each other;
	// the current delay applies to the whole gap since the previous call
	now := l.now()
	next := l.lastCall[bucket].Add(delay)
	if next.Before(now) {
		next = now
	}
	l.lastCall[bucket] = next
	wait := next.Sub(now)
	l.mu.Unlock()

	if wait > 10*time.Millisecond {
		l.log.Debug().Str("bucket", string(bucket)).Dur("delay", wait).Msg("rate limiting delay")
	}
	return l.sleep(ctx, wait)
}

// IsRateLimited reports whether bucket has no remaining quota.
func (l *Limiter) IsRateLimited(bucket Bucket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.buckets[bucket]
	return ok && info.Remaining <= 0
}

// WaitTime returns how long a rate limited bucket must wait, or zero.
func (l *Limiter) WaitTime(bucket Bucket) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.buckets[bucket]
	if !ok || info.Remaining > 0 {
		return 0
	}
	return info.UntilReset(l.now()) + time.Second
}

// Status returns the current snapshot of every known bucket. It never
// refreshes or blocks.
func (l *Limiter) Status() map[Bucket]Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make(map[Bucket]Status, len(l.buckets))
	for b, info := range l.buckets {
		out[b] = Status{
			Limit:        info.Limit,
			Remaining:    info.Remaining,
			Used:         info.Used(),
			Reset:        info.Reset,
			UntilReset:   info.UntilReset(now),
			UsagePercent: math.Round(info.UsagePercent()*10) / 10,
		}
	}
	return out
}

// LogStatus writes the status of the core and search buckets at info level.
func (l *Limiter) LogStatus() {
	for b, s := range l.Status() {
		l.log.Info().
			Str("bucket", string(b)).
			Int("remaining", s.Remaining).
			Int("limit", s.Limit).
			Float64("usage_pct", s.UsagePercent).
			Dur("resets_in", s.UntilReset).
			Msg("api quota")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
