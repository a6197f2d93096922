package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	infos map[Bucket]Info
	err   error
	calls int
}

func (f *fakeSource) RateLimits(context.Context) (map[Bucket]Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[Bucket]Info, len(f.infos))
	for b, i := range f.infos {
		out[b] = i
	}
	return out, nil
}

// clock is a fake time source whose sleeps advance time instantly.
type clock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(src QuotaSource, opts Options) (*Limiter, *clock) {
	c := &clock{now: epoch}
	l := New(src, opts, zerolog.Nop())
	l.now = c.Now
	l.sleep = c.Sleep
	return l, c
}

func Test_Limiter_Delay(t *testing.T) {
	l, _ := newTestLimiter(&fakeSource{}, DefaultOptions())

	testCases := map[string]struct {
		info     Info
		expected time.Duration
	}{
		"exhausted waits until reset plus one second": {
			info:     Info{Limit: 5000, Remaining: 0, Reset: epoch.Add(120 * time.Second)},
			expected: 121 * time.Second,
		},
		"inside buffer zone is a tenth of the time to reset": {
			info:     Info{Limit: 5000, Remaining: 50, Reset: epoch.Add(100 * time.Second)},
			expected: 10 * time.Second,
		},
		"buffer zone delay is capped at one minute": {
			info:     Info{Limit: 5000, Remaining: 50, Reset: epoch.Add(time.Hour)},
			expected: time.Minute,
		},
		"plenty of quota uses the base delay": {
			info:     Info{Limit: 5000, Remaining: 4900, Reset: epoch.Add(48 * time.Second)},
			expected: 100 * time.Millisecond,
		},
		"low usage spreads remaining calls": {
			info:     Info{Limit: 5000, Remaining: 4100, Reset: epoch.Add(2000 * time.Second)},
			expected: 500 * time.Millisecond,
		},
		"above 60 percent usage is slowed by half": {
			info:     Info{Limit: 5000, Remaining: 1100, Reset: epoch.Add(1000 * time.Second)},
			expected: 1500 * time.Millisecond,
		},
		"above 80 percent usage is doubled": {
			info:     Info{Limit: 5000, Remaining: 600, Reset: epoch.Add(1000 * time.Second)},
			expected: 4 * time.Second,
		},
		"normal delay is capped at 30 seconds": {
			info:     Info{Limit: 5000, Remaining: 200, Reset: epoch.Add(time.Hour)},
			expected: 30 * time.Second,
		},
		"reset already passed uses the base delay": {
			info:     Info{Limit: 5000, Remaining: 10, Reset: epoch.Add(-time.Minute)},
			expected: 100 * time.Millisecond,
		},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, tc.expected, l.Delay(tc.info))
		})
	}
}

func Test_Limiter_WaitIfNeeded_ExhaustedWaitsForReset(t *testing.T) {
	src := &fakeSource{infos: map[Bucket]Info{
		Core: {Limit: 60, Remaining: 0, Reset: epoch.Add(45 * time.Second)},
	}}
	l, c := newTestLimiter(src, DefaultOptions())

	require.NoError(t, l.WaitIfNeeded(context.Background(), Core))

	require.NotEmpty(t, c.slept)
	assert.GreaterOrEqual(t, c.slept[0], 45*time.Second)
	// initial load plus forced refresh after the wait
	assert.Equal(t, 2, src.calls)
}

func Test_Limiter_WaitIfNeeded_SpacesConcurrentCallers(t *testing.T) {
	src := &fakeSource{infos: map[Bucket]Info{
		Core: {Limit: 5000, Remaining: 5000, Reset: epoch.Add(time.Hour)},
	}}
	l, c := newTestLimiter(src, Options{Buffer: 100, BaseDelay: time.Second, RefreshInterval: time.Hour})
	// freeze the clock so every reservation sees the same "now"
	l.sleep = func(_ context.Context, d time.Duration) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.slept = append(c.slept, d)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.WaitIfNeeded(context.Background(), Core))
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second}, c.slept)
	assert.Equal(t, 4996, l.Status()[Core].Remaining)
}

func Test_Limiter_WaitIfNeeded_TighterQuotaStretchesGap(t *testing.T) {
	src := &fakeSource{infos: map[Bucket]Info{
		Core: {Limit: 5000, Remaining: 5000, Reset: epoch.Add(time.Hour)},
	}}
	l, c := newTestLimiter(src, DefaultOptions())

	require.NoError(t, l.WaitIfNeeded(context.Background(), Core))

	c.now = c.now.Add(500 * time.Millisecond)
	l.Update(Core, Info{Limit: 5000, Remaining: 50, Reset: epoch.Add(time.Hour)})

	require.NoError(t, l.WaitIfNeeded(context.Background(), Core))
	// buffer zone delay is one minute, measured from the previous call
	assert.Equal(t, []time.Duration{0, time.Minute - 500*time.Millisecond}, c.slept)
}

func Test_Limiter_WaitIfNeeded_UnknownBucketUsesCore(t *testing.T) {
	src := &fakeSource{infos: map[Bucket]Info{
		Core: {Limit: 60, Remaining: 0, Reset: epoch.Add(10 * time.Second)},
	}}
	l, c := newTestLimiter(src, DefaultOptions())

	require.NoError(t, l.WaitIfNeeded(context.Background(), Bucket("graphql")))
	require.NotEmpty(t, c.slept)
	assert.Equal(t, 11*time.Second, c.slept[0])
}

func Test_Limiter_RefreshFailureKeepsSnapshot(t *testing.T) {
	src := &fakeSource{infos: map[Bucket]Info{
		Core: {Limit: 5000, Remaining: 4000, Reset: epoch.Add(time.Hour)},
	}}
	l, c := newTestLimiter(src, DefaultOptions())
	require.NoError(t, l.Refresh(context.Background()))

	src.err = errors.New("boom")
	c.now = c.now.Add(time.Minute)

	require.NoError(t, l.WaitIfNeeded(context.Background(), Core))
	assert.Equal(t, 3999, l.Status()[Core].Remaining)
	assert.Equal(t, 2, src.calls)
}

func Test_Limiter_NoSnapshotStillPaces(t *testing.T) {
	src := &fakeSource{err: errors.New("offline")}
	l, c := newTestLimiter(src, Options{BaseDelay: 250 * time.Millisecond})
	l.sleep = func(_ context.Context, d time.Duration) error {
		c.slept = append(c.slept, d)
		return nil
	}

	require.NoError(t, l.WaitIfNeeded(context.Background(), Core))
	require.NoError(t, l.WaitIfNeeded(context.Background(), Core))
	assert.Equal(t, []time.Duration{0, 250 * time.Millisecond}, c.slept)
}

func Test_Limiter_WaitIfNeeded_ContextCanceled(t *testing.T) {
	src := &fakeSource{infos: map[Bucket]Info{
		Core: {Limit: 60, Remaining: 0, Reset: time.Now().Add(time.Hour)},
	}}
	l := New(src, DefaultOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.WaitIfNeeded(ctx, Core), context.Canceled)
}

func Test_Limiter_StatusAndQueries(t *testing.T) {
	l, _ := newTestLimiter(&fakeSource{}, DefaultOptions())
	l.Update(Core, Info{Limit: 5000, Remaining: 1250, Reset: epoch.Add(10 * time.Minute)})
	l.Update(Search, Info{Limit: 30, Remaining: 0, Reset: epoch.Add(20 * time.Second)})

	status := l.Status()
	require.Len(t, status, 2)
	assert.Equal(t, 3750, status[Core].Used)
	assert.Equal(t, 75.0, status[Core].UsagePercent)
	assert.Equal(t, 10*time.Minute, status[Core].UntilReset)

	assert.False(t, l.IsRateLimited(Core))
	assert.True(t, l.IsRateLimited(Search))
	assert.Zero(t, l.WaitTime(Core))
	assert.Equal(t, 21*time.Second, l.WaitTime(Search))
}
