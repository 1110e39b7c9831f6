// Package pacer retries a network operation with a decaying backoff,
// classifying errors so only transient failures are retried.
package pacer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/scidata-cache/dlcache/internal/config"
	"github.com/scidata-cache/dlcache/internal/logging"
)

var log = logging.For("pacer")

// Pacer retries fn up to cfg.RetryAttempts times, sleeping a
// rate-limited, exponentially decaying interval between attempts, and
// gives up immediately on errors ShouldRetry classifies as permanent.
type Pacer struct {
	cfg     *config.Config
	limiter *rate.Limiter
	sleep   time.Duration
}

// New returns a Pacer parametrized by cfg's retry settings.
func New(cfg *config.Config) *Pacer {
	return &Pacer{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.RetryMinSleep), 1),
		sleep:   cfg.RetryMinSleep,
	}
}

// Call invokes fn, retrying on transient failure up to RetryAttempts
// times total. Whether an error returned by fn is worth retrying is
// decided by ShouldRetry.
func (p *Pacer) Call(ctx context.Context, fn func() error) error {
	var lastErr error
	attempts := p.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			p.decay()
			return nil
		}
		lastErr = err
		if !ShouldRetry(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		log.WithField("attempt", attempt+1).WithError(err).Debug("retrying after transient error")
		if werr := p.limiter.Wait(ctx); werr != nil {
			return werr
		}
		select {
		case <-time.After(p.attack()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// attack grows the sleep interval geometrically, capped at
// RetryMaxSleep, the way a consecutive-failure counter would drive an
// attack/decay backoff curve.
func (p *Pacer) attack() time.Duration {
	p.sleep *= 2
	if p.sleep > p.cfg.RetryMaxSleep {
		p.sleep = p.cfg.RetryMaxSleep
	}
	return p.sleep
}

// decay relaxes the sleep interval back toward the minimum after a
// successful call, so a single flaky attempt doesn't permanently slow
// down subsequent ones.
func (p *Pacer) decay() {
	if p.cfg.RetryDecayConstant == 0 {
		p.sleep = p.cfg.RetryMinSleep
		return
	}
	p.sleep /= time.Duration(p.cfg.RetryDecayConstant)
	if p.sleep < p.cfg.RetryMinSleep {
		p.sleep = p.cfg.RetryMinSleep
	}
}

// ShouldRetry reports whether err looks transient: timeouts, connection
// resets, EOF during a read, or a handful of retriable syscall errnos.
// Context cancellation and deadline errors are never retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ShouldRetry(urlErr.Err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ShouldRetry(opErr.Err)
	}

	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return ShouldRetry(sysErr.Err)
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.EINTR, syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ETIMEDOUT:
			return true
		default:
			return false
		}
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return ShouldRetryHTTP(httpErr.StatusCode)
	}

	return false
}

// ShouldRetryHTTP reports whether statusCode is worth retrying, e.g.
// 429/5xx family responses.
func ShouldRetryHTTP(statusCode int) bool {
	switch statusCode {
	case 429, 500, 502, 503, 504, 509:
		return true
	default:
		return false
	}
}

// HTTPStatusError records a non-2xx response so ShouldRetry can classify
// it through ShouldRetryHTTP instead of matching a formatted string.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.StatusCode)
}
