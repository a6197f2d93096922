package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"syscall"
)

// StatusError is implemented by errors that carry a remote HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

var retryableStatus = map[int]bool{
	http.StatusForbidden:           true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// whole-word match so that e.g. "disconnectionless" does not count
var temporaryWords = regexp.MustCompile(`\b(timeout|connection|network|temporary|unavailable|rate limit)\b`)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as fatal so that Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func unwrapPermanent(err error) error {
	var p *permanentError
	if errors.As(err, &p) && p == err {
		return p.err
	}
	return err
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se StatusError
	if errors.As(err, &se) {
		return retryableStatus[se.HTTPStatus()]
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE:
			return true
		}
	}

	return temporaryWords.MatchString(strings.ToLower(err.Error()))
}

// IsRateLimitExceeded reports whether err is a 403 whose message mentions
// the rate limit.
func IsRateLimitExceeded(err error) bool {
	var se StatusError
	if !errors.As(err, &se) || se.HTTPStatus() != http.StatusForbidden {
		return false
	}
	return strings.Contains(strings.ToLower(se.Error()), "rate limit")
}
