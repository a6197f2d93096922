package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) HTTPStatus() int { return e.status }

// newTestRetrier records sleeps instead of performing them.
func newTestRetrier(cfg Config, kind Kind) (*Retrier, *[]time.Duration) {
	r := New(cfg, kind, zerolog.Nop())
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func Test_Config_Backoff(t *testing.T) {
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Hour, BackoffFactor: 2}

	assert.Equal(t, time.Second, cfg.Backoff(0))
	assert.Equal(t, 2*time.Second, cfg.Backoff(1))
	assert.Equal(t, 4*time.Second, cfg.Backoff(2))

	cfg.MaxDelay = 3 * time.Second
	assert.Equal(t, 3*time.Second, cfg.Backoff(2))
}

func Test_Delay_JitterStaysInRange(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2, Jitter: true}

	for i := 0; i < 100; i++ {
		b := cfg.newBackOff()
		_ = b.NextBackOff()
		d := delay(b, errors.New("connection reset"))
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func Test_Delay_RateLimitFloor(t *testing.T) {
	d := delay(APIConfig().newBackOff(), &statusErr{status: 403, msg: "API rate limit exceeded for 1.2.3.4"})
	assert.Equal(t, RateLimitFloor, d)

	d = delay(APIConfig().newBackOff(), &statusErr{status: 403, msg: "Resource not accessible by integration"})
	assert.Less(t, d, RateLimitFloor)
}

func Test_Retrier_Do_ExhaustsRetryableErrors(t *testing.T) {
	cfg := Config{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
	r, slept := newTestRetrier(cfg, KindDownload)

	calls := 0
	cause := &statusErr{status: 503, msg: "service unavailable"}
	err := r.Do(context.Background(), "dir/file.txt", func(context.Context) error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, cause)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "dir/file.txt", exhausted.Op)
	assert.Equal(t, 4, exhausted.Attempts)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *slept)
}

func Test_Retrier_Do_FatalErrorAttemptedOnce(t *testing.T) {
	testCases := map[string]error{
		"validation error": errors.New("malformed ref name"),
		"not found status": &statusErr{status: 404, msg: "Not Found"},
		"permanent marker": Permanent(errors.New("connection string is invalid")),
		"canceled context": context.Canceled,
	}

	for scenario, cause := range testCases {
		t.Run(scenario, func(t *testing.T) {
			r, slept := newTestRetrier(APIConfig(), KindAPI)

			calls := 0
			err := r.Do(context.Background(), "get contents", func(context.Context) error {
				calls++
				return cause
			})

			assert.Equal(t, 1, calls)
			assert.Empty(t, *slept)
			assert.NotErrorIs(t, err, ErrExhausted)
			assert.EqualError(t, err, cause.Error())
		})
	}
}

func Test_Retrier_Do_SucceedsAfterTransientFailures(t *testing.T) {
	r, slept := newTestRetrier(APIConfig(), KindAPI)

	calls := 0
	got, err := Do(context.Background(), r, "list branches", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", syscall.ECONNRESET
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2)
}

func Test_Retrier_Do_StopsOnContextCancel(t *testing.T) {
	r := New(Config{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}, KindAPI, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("network down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func Test_New_InvalidConfigFallsBack(t *testing.T) {
	r := New(Config{MaxAttempts: 0}, KindAPI, zerolog.Nop())
	assert.Equal(t, APIConfig(), r.Config())
}

func Test_IsRetryable(t *testing.T) {
	testCases := map[string]struct {
		err      error
		expected bool
	}{
		"nil":                    {nil, false},
		"plain validation error": {errors.New("invalid path"), false},
		"keyword timeout":        {errors.New("request timeout exceeded"), true},
		"keyword connection":     {errors.New("lost connection to host"), true},
		"keyword temporary":      {errors.New("temporary failure in name resolution"), true},
		"keyword rate limit":     {errors.New("secondary rate limit hit"), true},
		"keyword inside word":    {errors.New("disconnectionless mode"), false},
		"status 403":             {&statusErr{403, "forbidden"}, true},
		"status 500":             {&statusErr{500, "boom"}, true},
		"status 502":             {&statusErr{502, "bad gateway"}, true},
		"status 504":             {&statusErr{504, "gateway timeout"}, true},
		"status 404":             {&statusErr{404, "not found"}, false},
		"status 401 with word":   {&statusErr{401, "network auth"}, false},
		"wrapped status":         {fmt.Errorf("get contents: %w", &statusErr{502, "x"}), true},
		"deadline exceeded":      {context.DeadlineExceeded, true},
		"unexpected eof":         {io.ErrUnexpectedEOF, true},
		"econnrefused":           {fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		"net op error":           {&net.OpError{Op: "dial", Err: errors.New("x")}, true},
		"permanent":              {Permanent(errors.New("timeout")), false},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsRetryable(tc.err))
		})
	}
}

func Test_IsRateLimitExceeded(t *testing.T) {
	assert.True(t, IsRateLimitExceeded(&statusErr{403, "API Rate Limit exceeded"}))
	assert.True(t, IsRateLimitExceeded(fmt.Errorf("wrap: %w", &statusErr{403, "rate limit"})))
	assert.False(t, IsRateLimitExceeded(&statusErr{429, "rate limit"}))
	assert.False(t, IsRateLimitExceeded(&statusErr{403, "forbidden"}))
	assert.False(t, IsRateLimitExceeded(errors.New("rate limit")))
}
