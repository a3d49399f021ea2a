package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"ipclick/internal/shared/logger"
	"ipclick/model"
)

// DefaultMaxBackoff caps the exponential part of the wait.
const DefaultMaxBackoff = 600 * time.Second

// Policy is the resolved retry budget of one task.
type Policy struct {
	MaxRetries int
	Delay      model.RetryDelay
	MaxBackoff time.Duration
}

// Event describes a failed attempt that is about to be retried.
type Event struct {
	URL     string
	Attempt int // zero-based index of the attempt that failed
	Wait    time.Duration
	Err     error
}

// AttemptFunc performs one attempt.
type AttemptFunc func(ctx context.Context) (*model.Response, error)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor drives AttemptFuncs under a Policy. The zero value is not usable;
// use New.
type Executor struct {
	log     zerolog.Logger
	sleep   SleepFunc
	rand    func() float64
	onRetry func(Event)
	now     func() time.Time
}

type Option func(*Executor)

// WithSleep replaces the context-aware sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option { return func(e *Executor) { e.sleep = fn } }

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option { return func(e *Executor) { e.rand = fn } }

// WithOnRetry registers a hook that runs before every retry sleep.
func WithOnRetry(fn func(Event)) Option { return func(e *Executor) { e.onRetry = fn } }

func New(opts ...Option) *Executor {
	e := &Executor{
		log:   logger.WithComponent("retry"),
		sleep: Sleep,
		rand:  rand.Float64,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs attempt until it succeeds or the budget is spent. Transport errors
// never escape: once the budget is exhausted the last error is folded into an
// error response with StatusTransportFailure. The only error Do returns is
// the context's.
func (e *Executor) Do(ctx context.Context, p Policy, url string, attempt AttemptFunc) (*model.Response, error) {
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := e.now()
		resp, err := attempt(ctx)
		if err == nil {
			if resp == nil {
				resp = &model.Response{URL: url, Headers: map[string]string{}}
			}
			if resp.Elapsed == 0 {
				resp.Elapsed = e.now().Sub(start)
			}
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if n >= maxRetries {
			e.log.Warn().Err(err).Str("url", url).Int("attempts", n+1).Msg("Retries exhausted")
			return model.ErrorResponse(url, err), nil
		}

		wait := Backoff(n, maxBackoff)
		if p.Delay.IsZero() {
			wait = 0
		} else {
			wait += p.Delay.JitterFrom(e.rand)
		}

		e.log.Info().Err(err).Str("url", url).
			Int("attempt", n+1).
			Int("max_retries", maxRetries).
			Dur("wait", wait).
			Msgf("Attempt %d/%d failed, retrying", n+1, maxRetries+1)
		if e.onRetry != nil {
			e.onRetry(Event{URL: url, Attempt: n, Wait: wait, Err: err})
		}

		if wait > 0 {
			if err := e.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
}

// Backoff is min(2^attempt seconds, max).
func Backoff(attempt int, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^30 s already exceeds any sane cap; avoid overflowing Duration.
	if attempt > 30 {
		return max
	}
	d := time.Duration(math.Pow(2, float64(attempt)) * float64(time.Second))
	if d > max {
		return max
	}
	return d
}

// Sleep waits for d unless ctx finishes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
