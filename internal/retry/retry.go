// Package retry classifies completion failures and drives bounded
// exponential backoff for retryable ones.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/codetutor/internal/provider"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// Class is the retry classification of an error.
type Class int

// Error classes.
const (
	Fatal Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Config bounds retries and their delays.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxJitter  time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		MaxJitter:  time.Second,
	}
}

// JitterFunc returns a random duration in [0, max).
type JitterFunc func(max time.Duration) time.Duration

// RandomJitter is the default JitterFunc.
func RandomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// NoJitter always returns zero.
func NoJitter(time.Duration) time.Duration {
	return 0
}

// Scheduler decides whether and when a failed dispatch is retried.
type Scheduler struct {
	cfg    Config
	clock  clockwork.Clock
	jitter JitterFunc
}

// NewScheduler creates a scheduler. A nil clock uses the real clock and a
// nil jitter uses RandomJitter.
func NewScheduler(cfg Config, clock clockwork.Clock, jitter JitterFunc) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if jitter == nil {
		jitter = RandomJitter
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Scheduler{cfg: cfg, clock: clock, jitter: jitter}
}

// MaxRetries returns the configured retry limit.
func (s *Scheduler) MaxRetries() int {
	return s.cfg.MaxRetries
}

var retryablePhrases = []string{
	"rate limit",
	"temporary",
	"service unavailable",
	"timeout",
	"network",
	"connection",
}

// Classify reports whether err is worth retrying.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}

	var (
		authErr   *provider.AuthError
		rateErr   *provider.RateLimitError
		netErr    *provider.NetworkError
		serverErr *provider.ServerError
		opErr     net.Error
	)
	switch {
	case errors.As(err, &authErr):
		return Fatal
	case errors.Is(err, context.Canceled):
		return Fatal
	case errors.As(err, &rateErr), errors.As(err, &netErr):
		return Retryable
	case errors.As(err, &serverErr):
		switch {
		case serverErr.Status == http.StatusNotImplemented:
			return Fatal
		case serverErr.Status == http.StatusTooManyRequests, serverErr.Status >= http.StatusInternalServerError:
			return Retryable
		}
		return Fatal
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &opErr):
		return Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return Retryable
		}
	}
	return Fatal
}

// NextDelay returns min(base*2^attempt + jitter, max).
func (s *Scheduler) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := s.cfg.MaxDelay
	if attempt < 32 {
		if d := s.cfg.BaseDelay << attempt; d > 0 && d < s.cfg.MaxDelay {
			delay = d
		}
	}
	delay += s.jitter(s.cfg.MaxJitter)
	return min(delay, s.cfg.MaxDelay)
}

// NotifyFunc is called before each retry with the retry number (starting at
// 1), the error that caused it, and the delay before it runs.
type NotifyFunc func(retry int, err error, delay time.Duration)

// Do runs op until it succeeds, fails fatally, or the retry limit is spent.
// It returns the number of retries performed and the final error.
func (s *Scheduler) Do(ctx context.Context, op func(ctx context.Context) error, notify NotifyFunc) (int, error) {
	b := &scheduleBackOff{s: s}
	operation := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if Classify(err) == Fatal {
			return backoff.Permanent(err)
		}
		b.hint = 0
		var rateErr *provider.RateLimitError
		if errors.As(err, &rateErr) {
			b.hint = rateErr.RetryAfter
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, delay time.Duration) {
			notify(b.retries, err, delay)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(b, ctx), onRetry, &clockTimer{clock: s.clock})
	return b.retries, err
}

// scheduleBackOff adapts Scheduler to backoff.BackOff.
type scheduleBackOff struct {
	s       *Scheduler
	retries int
	hint    time.Duration
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.retries >= b.s.cfg.MaxRetries {
		return backoff.Stop
	}
	b.retries++
	delay := b.s.NextDelay(b.retries)
	if b.hint > delay {
		delay = min(b.hint, b.s.cfg.MaxDelay)
	}
	return delay
}

func (b *scheduleBackOff) Reset() {
	b.retries = 0
	b.hint = 0
}

// clockTimer adapts a clockwork clock to backoff.Timer.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
