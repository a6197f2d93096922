// Package retry executes operations with exponential backoff and jitter.
//
// A Retrier classifies every failure as retryable (network trouble, remote
// 403/5xx, temporary-condition messages) or fatal. Fatal errors are returned
// on first occurrence; retryable ones are retried until the configured number
// of attempts is spent, after which an *ExhaustedError is returned.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RateLimitFloor is the minimum wait after a rate-limit-exceeded failure.
const RateLimitFloor = 60 * time.Second

var ErrExhausted = errors.New("retry attempts exhausted")

// Config holds the retry policy parameters. It is treated as immutable.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// APIConfig returns the conservative policy used for remote API calls.
func APIConfig() Config {
	return Config{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

// DownloadConfig returns the aggressive policy used for file transfers.
func DownloadConfig() Config {
	return Config{
		MaxAttempts:   5,
		BaseDelay:     2 * time.Second,
		MaxDelay:      120 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

// Validate reports whether the config can drive a Retrier.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("retry: delays must not be negative")
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("retry: backoff factor must be >= 1, got %v", c.BackoffFactor)
	}
	return nil
}

// jitterFactor spreads each delay uniformly over [0.5, 1.5] of its value.
const jitterFactor = 0.5

// newBackOff returns a fresh exponential schedule whose n-th value (0-indexed)
// is min(MaxDelay, BaseDelay * BackoffFactor^n), jittered if enabled.
func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseDelay
	b.Multiplier = c.BackoffFactor
	b.MaxInterval = c.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	if c.Jitter {
		b.RandomizationFactor = jitterFactor
	}
	b.Reset()
	return b
}

// Backoff returns the un-jittered delay before the 0-indexed attempt n:
// min(MaxDelay, BaseDelay * BackoffFactor^n).
func (c Config) Backoff(attempt int) time.Duration {
	c.Jitter = false
	b := c.newBackOff()
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// ExhaustedError is returned once every attempt of an operation has failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Kind selects the logging context a Retrier attaches to failures.
type Kind int

const (
	// KindAPI labels failures with the API operation name.
	KindAPI Kind = iota
	// KindDownload labels failures with the repository file path.
	KindDownload
)

func (k Kind) field() string {
	if k == KindDownload {
		return "file"
	}
	return "operation"
}

// Retrier runs operations under one Config.
type Retrier struct {
	cfg  Config
	kind Kind
	log  zerolog.Logger

	// replaceable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier. An invalid cfg falls back to APIConfig.
func New(cfg Config, kind Kind, log zerolog.Logger) *Retrier {
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("invalid retry config, using API defaults")
		cfg = APIConfig()
	}
	return &Retrier{
		cfg:   cfg,
		kind:  kind,
		log:   log.With().Str("component", "retry").Logger(),
		sleep: sleepContext,
	}
}

// NewAPI creates a Retrier with APIConfig defaults.
func NewAPI(log zerolog.Logger) *Retrier {
	return New(APIConfig(), KindAPI, log)
}

// NewDownload creates a Retrier with DownloadConfig defaults.
func NewDownload(log zerolog.Logger) *Retrier {
	return New(DownloadConfig(), KindDownload, log)
}

// Config returns the policy of r.
func (r *Retrier) Config() Config {
	return r.cfg
}

// delay takes the next value of the schedule b, floored at RateLimitFloor
// when err reports an exceeded rate limit.
func delay(b backoff.BackOff, err error) time.Duration {
	d := b.NextBackOff()
	if IsRateLimitExceeded(err) && d < RateLimitFloor {
		d = RateLimitFloor
	}
	return d
}

// Do runs fn until it succeeds, fails fatally, or MaxAttempts is reached.
// label names the operation (API) or file path (download) in logs and errors.
func (r *Retrier) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	var lastErr error
	b := r.cfg.newBackOff()
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.log.Debug().
			Str(r.kind.field(), label).
			Int("attempt", attempt+1).
			Int("max_attempts", r.cfg.MaxAttempts).
			Msg("attempt")

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			r.log.Debug().Err(err).Str(r.kind.field(), label).Msg("error is not retryable")
			return unwrapPermanent(err)
		}

		if attempt+1 >= r.cfg.MaxAttempts {
			break
		}

		d := delay(b, err)
		ev := r.log.Warn().Err(err).Str(r.kind.field(), label).Int("attempt", attempt+1).Dur("retry_in", d)
		if IsRateLimitExceeded(err) {
			ev.Msg("rate limit exceeded, backing off")
		} else {
			ev.Msg("attempt failed, retrying")
		}

		if err := r.sleep(ctx, d); err != nil {
			return err
		}
	}

	exhausted := &ExhaustedError{Op: label, Attempts: r.cfg.MaxAttempts, Err: lastErr}
	if r.kind == KindDownload {
		r.log.Error().Err(lastErr).Str("file", label).Msg("download failed after all retry attempts")
	} else {
		r.log.Error().Err(lastErr).Str("operation", label).Msg("api operation failed after all retry attempts")
	}
	return exhausted
}

// Do is the value-returning form of Retrier.Do.
func Do[T any](ctx context.Context, r *Retrier, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, label, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
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
