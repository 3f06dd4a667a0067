package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrCallTimeout marks a call that exceeded its per-attempt deadline.
var ErrCallTimeout = errors.New("call timed out")

// StatusCoder is implemented by errors that carry a remote status code.
type StatusCoder interface {
	StatusCode() int
}

var (
	rateLimitCodes = map[int]bool{429: true, 403: true, 503: true}
	serverCodes    = map[int]bool{500: true, 502: true, 503: true, 504: true}

	rateLimitPatterns = []string{
		"quota",
		"rate limit",
		"ratelimit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	}

	transientPatterns = []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"broken pipe",
		"temporarily unavailable",
		"eof",
		"no such host",
	}
)

// StatusCodeOf returns the first status code found in err's chain, or 0.
func StatusCodeOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// IsRateLimit reports whether err signals that the remote quota was exceeded.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if code := StatusCodeOf(err); code != 0 {
		return rateLimitCodes[code]
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "429") {
		return true
	}
	for _, p := range rateLimitPatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// IsTransient reports network and timeout failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCallTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	s := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// IsRetryable is the default retry predicate: rate limits, transient
// network failures and 5xx responses are retried, everything else is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellation is never retried.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsRateLimit(err) || IsTransient(err) {
		return true
	}
	return serverCodes[StatusCodeOf(err)]
}
